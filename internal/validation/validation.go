package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/zombor/invoice-extractor/internal/extraction"
)

// Severity grades an Error
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Error and warning types
const (
	RequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	InvalidFormat        = "INVALID_FORMAT"
	InvalidAmount        = "INVALID_AMOUNT"
	HighAmount           = "HIGH_AMOUNT"
	FutureDate           = "FUTURE_DATE"
	OldDate              = "OLD_DATE"
	Overdue              = "OVERDUE"
	FarFutureDate        = "FAR_FUTURE_DATE"
	InvalidEmail         = "INVALID_EMAIL"
	InvalidLogic         = "INVALID_LOGIC"
	LongPaymentTerms     = "LONG_PAYMENT_TERMS"
	HighTaxRatio         = "HIGH_TAX_RATIO"
	AmountMismatch       = "AMOUNT_MISMATCH"
	VendorEmailMismatch  = "VENDOR_EMAIL_MISMATCH"
	InvalidCurrency      = "INVALID_CURRENCY"
	UncommonCurrency     = "UNCOMMON_CURRENCY"
)

var (
	// ReconcileTolerance is the largest total/subtotal+tax gap that counts as exact
	ReconcileTolerance = decimal.RequireFromString("0.01")
	// MismatchTolerance is the largest gap that is only a warning
	MismatchTolerance = decimal.RequireFromString("0.10")

	highAmount     = decimal.NewFromInt(50_000)
	maxTaxRatio    = decimal.RequireFromString("0.5")
	maxPaymentDays = 90
)

// CommonCurrencies is the allow-list below which a valid ISO code is flagged
var CommonCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "AUD": true,
	"JPY": true, "CHF": true, "CNY": true, "INR": true, "MXN": true,
	"NZD": true, "SEK": true, "NOK": true, "DKK": true, "SGD": true,
	"HKD": true,
}

// Error is a finding about one field. Severity ERROR makes a result invalid.
type Error struct {
	Field     string   `json:"field"`
	ErrorType string   `json:"error_type"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Warning is an advisory finding
type Warning struct {
	Field          string `json:"field"`
	WarningType    string `json:"warning_type"`
	Message        string `json:"message"`
	SuggestedValue string `json:"suggested_value,omitempty"`
}

// Result collects every finding of one validation pass
type Result struct {
	IsValid   bool      `json:"is_valid"`
	Errors    []Error   `json:"errors"`
	Warnings  []Warning `json:"warnings"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCount counts ERROR-severity entries
func (r *Result) ErrorCount() int {
	n := 0
	for _, e := range r.Errors {
		if e.Severity == SeverityError {
			n++
		}
	}
	return n
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time {
	return time.Now().UTC()
}

// check inspects data and records findings on r
type check func(d *extraction.InvoiceData, now time.Time, r *Result)

// checks run in order and never short-circuit
var checks = []check{
	checkRequired,
	checkInvoiceNumberFormat,
	checkTotalAmount,
	checkInvoiceDate,
	checkDueDate,
	checkVendorEmail,
	checkPaymentTerms,
	checkSubtotal,
	checkTaxRatio,
	checkReconciliation,
	checkVendorMatchesEmail,
	checkCurrency,
}

// Validator runs required-field, format, business and cross-field checks
type Validator struct {
	clock TimeSource
}

// NewValidator creates a validator using the system clock
func NewValidator() *Validator {
	return &Validator{clock: systemTime{}}
}

// NewValidatorWithClock creates a validator with an injected clock
func NewValidatorWithClock(clock TimeSource) *Validator {
	return &Validator{clock: clock}
}

// Validate evaluates every check against d. Findings are data; Validate
// never fails.
func (v *Validator) Validate(d *extraction.InvoiceData) Result {
	now := v.clock.Now()
	r := Result{
		Errors:    []Error{},
		Warnings:  []Warning{},
		Timestamp: now,
	}
	for _, c := range checks {
		c(d, now, &r)
	}
	r.IsValid = r.ErrorCount() == 0
	return r
}

func (r *Result) fail(field, errorType string, severity Severity, format string, args ...any) {
	r.Errors = append(r.Errors, Error{
		Field:     field,
		ErrorType: errorType,
		Message:   fmt.Sprintf(format, args...),
		Severity:  severity,
	})
}

func (r *Result) warn(field, warningType, suggested, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{
		Field:          field,
		WarningType:    warningType,
		Message:        fmt.Sprintf(format, args...),
		SuggestedValue: suggested,
	})
}

func checkRequired(d *extraction.InvoiceData, _ time.Time, r *Result) {
	for _, f := range []string{extraction.FieldInvoiceNumber, extraction.FieldTotalAmount, extraction.FieldVendorName} {
		if !d.Has(f) {
			r.fail(f, RequiredFieldMissing, SeverityError, "%s is required", f)
		}
	}
}

var (
	invoiceNumberFormat = regexp.MustCompile(`^[A-Za-z0-9-]{3,20}$`)
	invoiceNumberStrip  = regexp.MustCompile(`[^A-Za-z0-9-]`)
	emailFormat         = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
)

func checkInvoiceNumberFormat(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.InvoiceNumber == nil || invoiceNumberFormat.MatchString(*d.InvoiceNumber) {
		return
	}
	suggested := strings.ToUpper(invoiceNumberStrip.ReplaceAllString(*d.InvoiceNumber, ""))
	r.warn(extraction.FieldInvoiceNumber, InvalidFormat, suggested,
		"invoice number %q should be 3-20 letters, digits or dashes", *d.InvoiceNumber)
}

func checkTotalAmount(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.TotalAmount == nil {
		return
	}
	if !d.TotalAmount.IsPositive() {
		r.fail(extraction.FieldTotalAmount, InvalidAmount, SeverityError, "total amount %s must be positive", d.TotalAmount)
	}
	if d.TotalAmount.GreaterThan(highAmount) {
		r.warn(extraction.FieldTotalAmount, HighAmount, "", "total amount %s exceeds %s", d.TotalAmount, highAmount)
	}
}

func checkInvoiceDate(d *extraction.InvoiceData, now time.Time, r *Result) {
	if d.InvoiceDate == nil {
		return
	}
	if d.InvoiceDate.After(now.AddDate(0, 0, 1)) {
		r.warn(extraction.FieldInvoiceDate, FutureDate, "", "invoice date %s is in the future", day(*d.InvoiceDate))
	}
	if d.InvoiceDate.Before(now.AddDate(-2, 0, 0)) {
		r.warn(extraction.FieldInvoiceDate, OldDate, "", "invoice date %s is more than two years old", day(*d.InvoiceDate))
	}
}

func checkDueDate(d *extraction.InvoiceData, now time.Time, r *Result) {
	if d.DueDate == nil {
		return
	}
	if d.DueDate.Before(now.AddDate(0, -6, 0)) {
		r.warn(extraction.FieldDueDate, Overdue, "", "due date %s is more than six months past", day(*d.DueDate))
	}
	if d.DueDate.After(now.AddDate(1, 0, 0)) {
		r.warn(extraction.FieldDueDate, FarFutureDate, "", "due date %s is more than a year ahead", day(*d.DueDate))
	}
}

func checkVendorEmail(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.VendorEmail == nil || emailFormat.MatchString(*d.VendorEmail) {
		return
	}
	r.warn(extraction.FieldVendorEmail, InvalidEmail, "", "vendor email %q is not a valid address", *d.VendorEmail)
}

func checkPaymentTerms(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.InvoiceDate == nil || d.DueDate == nil {
		return
	}
	if d.DueDate.Before(*d.InvoiceDate) {
		r.fail(extraction.FieldDueDate, InvalidLogic, SeverityError,
			"due date %s is before invoice date %s", day(*d.DueDate), day(*d.InvoiceDate))
		return
	}
	if days := int(d.DueDate.Sub(*d.InvoiceDate).Hours() / 24); days > maxPaymentDays {
		r.warn(extraction.FieldDueDate, LongPaymentTerms, "", "payment term of %d days exceeds %d", days, maxPaymentDays)
	}
}

func checkSubtotal(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.SubtotalAmount == nil || d.TotalAmount == nil {
		return
	}
	if d.SubtotalAmount.GreaterThan(*d.TotalAmount) {
		r.fail(extraction.FieldSubtotalAmount, InvalidLogic, SeverityError,
			"subtotal %s exceeds total %s", d.SubtotalAmount, d.TotalAmount)
	}
}

func checkTaxRatio(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.TaxAmount == nil || d.SubtotalAmount == nil || !d.SubtotalAmount.IsPositive() {
		return
	}
	ratio := d.TaxAmount.Div(*d.SubtotalAmount)
	if ratio.GreaterThan(maxTaxRatio) {
		r.warn(extraction.FieldTaxAmount, HighTaxRatio, "", "tax is %s%% of subtotal", ratio.Mul(decimal.NewFromInt(100)).StringFixed(1))
	}
}

// Reconciliation returns |total - (subtotal + tax)| when all three amounts
// are present
func Reconciliation(d *extraction.InvoiceData) (decimal.Decimal, bool) {
	if d.TotalAmount == nil || d.SubtotalAmount == nil || d.TaxAmount == nil {
		return decimal.Zero, false
	}
	return d.TotalAmount.Sub(d.SubtotalAmount.Add(*d.TaxAmount)).Abs(), true
}

// checkReconciliation records a gap within MismatchTolerance with WARNING
// severity
func checkReconciliation(d *extraction.InvoiceData, _ time.Time, r *Result) {
	diff, ok := Reconciliation(d)
	if !ok {
		return
	}
	switch {
	case diff.GreaterThan(MismatchTolerance):
		r.fail(extraction.FieldTotalAmount, AmountMismatch, SeverityError,
			"total %s differs from subtotal plus tax by %s", d.TotalAmount, diff.StringFixed(2))
	case diff.GreaterThan(ReconcileTolerance):
		r.fail(extraction.FieldTotalAmount, AmountMismatch, SeverityWarning,
			"total %s differs from subtotal plus tax by %s", d.TotalAmount, diff.StringFixed(2))
	}
}

func checkVendorMatchesEmail(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.VendorName == nil || d.VendorEmail == nil {
		return
	}
	label, ok := extraction.RegistrableLabel(*d.VendorEmail)
	if !ok || extraction.PublicProviders[label] {
		return
	}
	if !similar(*d.VendorName, label) {
		r.warn(extraction.FieldVendorName, VendorEmailMismatch, "",
			"vendor %q does not resemble email domain %q", *d.VendorName, label)
	}
}

// similarityThreshold is the Levenshtein similarity above which names match
const similarityThreshold = 0.7

// vendorNoise are trailing words dropped before comparing names
var vendorNoise = map[string]bool{
	"inc": true, "llc": true, "ltd": true, "limited": true, "corp": true,
	"corporation": true, "co": true, "company": true, "gmbh": true, "plc": true, "llp": true,
}

func similar(vendor, domainLabel string) bool {
	a := squash(vendor, true)
	b := squash(domainLabel, false)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return levenshtein.Similarity(a, b, nil) > similarityThreshold
}

// squash lowercases s and keeps only letters and digits, optionally
// dropping company suffixes
func squash(s string, dropNoise bool) string {
	var b strings.Builder
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if dropNoise && vendorNoise[w] {
			continue
		}
		b.WriteString(w)
	}
	return b.String()
}

func checkCurrency(d *extraction.InvoiceData, _ time.Time, r *Result) {
	if d.Currency == nil {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(*d.Currency))
	if _, err := currency.ParseISO(code); err != nil {
		r.warn(extraction.FieldCurrency, InvalidCurrency, "", "%q is not an ISO 4217 currency code", *d.Currency)
		return
	}
	if !CommonCurrencies[code] {
		r.warn(extraction.FieldCurrency, UncommonCurrency, "", "currency %s is uncommon", code)
	}
}

func day(t time.Time) string {
	return t.Format("2006-01-02")
}
