package extraction

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/zombor/invoice-extractor/internal/pattern"
)

// headerLines bounds the header strategy
const headerLines = 15

// anchorSpan is how many lines after a keyword line are searched
const anchorSpan = 2

type strategy int

const (
	// scan the first headerLines lines
	header strategy = iota
	// scan lines containing a keyword plus the anchorSpan lines after them
	keywordAnchored
	// scan every line
	document
)

// handler is everything the engine needs to extract one category
type handler struct {
	field    string
	strategy strategy
	keywords []string
	// normalize rewrites a matched value before scoring, optional
	normalize func(string) string
	// adjust returns the plausibility delta layered on the rule weight
	adjust func(value string, rule pattern.Rule, now time.Time) float64
	// assign stores value on the aggregate and reports whether it parsed
	assign func(d *InvoiceData, value string, rule pattern.Rule) bool
}

// parses reports whether value would be stored by assign
func (h handler) parses(value string, rule pattern.Rule) bool {
	return h.assign(&InvoiceData{}, value, rule)
}

func (h handler) method() Method {
	if h.strategy == keywordAnchored {
		return MethodKeywordContext
	}
	return MethodPatternMatch
}

var amountKeywords = []string{"total", "amount", "balance", "due", "payable", "sum"}

var handlers = map[pattern.Category]handler{
	pattern.InvoiceNumber: {
		field:    FieldInvoiceNumber,
		strategy: header,
		adjust:   adjustInvoiceNumber,
		assign:   setString(func(d *InvoiceData) **string { return &d.InvoiceNumber }),
	},
	pattern.Vendor: {
		field:    FieldVendorName,
		strategy: header,
		adjust:   adjustName,
		assign:   setString(func(d *InvoiceData) **string { return &d.VendorName }),
	},
	pattern.Amount: {
		field:    FieldTotalAmount,
		strategy: keywordAnchored,
		keywords: amountKeywords,
		adjust:   adjustAmount,
		assign:   setAmount(func(d *InvoiceData) **decimal.Decimal { return &d.TotalAmount }),
	},
	pattern.SubtotalAmount: {
		field:    FieldSubtotalAmount,
		strategy: keywordAnchored,
		keywords: []string{"subtotal", "sub-total", "sub total", "net amount", "net total"},
		adjust:   adjustAmount,
		assign:   setAmount(func(d *InvoiceData) **decimal.Decimal { return &d.SubtotalAmount }),
	},
	pattern.TaxAmount: {
		field:    FieldTaxAmount,
		strategy: keywordAnchored,
		keywords: []string{"tax", "vat", "gst", "hst"},
		adjust:   adjustAmount,
		assign:   setAmount(func(d *InvoiceData) **decimal.Decimal { return &d.TaxAmount }),
	},
	pattern.InvoiceDate: {
		field:    FieldInvoiceDate,
		strategy: keywordAnchored,
		keywords: []string{"invoice date", "date", "dated", "issued"},
		adjust:   adjustDate,
		assign:   setDate(func(d *InvoiceData) **time.Time { return &d.InvoiceDate }),
	},
	pattern.DueDate: {
		field:    FieldDueDate,
		strategy: keywordAnchored,
		keywords: []string{"due", "pay by", "payment date"},
		adjust:   adjustDate,
		assign:   setDate(func(d *InvoiceData) **time.Time { return &d.DueDate }),
	},
	pattern.PaymentTerms: {
		field:    FieldPaymentTerms,
		strategy: keywordAnchored,
		keywords: []string{"terms", "net", "due on receipt"},
		assign:   setString(func(d *InvoiceData) **string { return &d.PaymentTerms }),
	},
	pattern.Customer: {
		field:    FieldCustomerName,
		strategy: keywordAnchored,
		keywords: []string{"bill to", "billed to", "sold to", "customer", "client"},
		adjust:   adjustName,
		assign:   setString(func(d *InvoiceData) **string { return &d.CustomerName }),
	},
	pattern.Email: {
		field:    FieldVendorEmail,
		strategy: document,
		adjust:   adjustEmail,
		assign:   setString(func(d *InvoiceData) **string { return &d.VendorEmail }),
	},
	pattern.Phone: {
		field:    FieldVendorPhone,
		strategy: document,
		adjust:   adjustPhone,
		assign:   setString(func(d *InvoiceData) **string { return &d.VendorPhone }),
	},
	pattern.Address: {
		field:    FieldVendorAddress,
		strategy: document,
		assign:   setString(func(d *InvoiceData) **string { return &d.VendorAddress }),
	},
	pattern.Currency: {
		field:     FieldCurrency,
		strategy:  document,
		normalize: normalizeCurrency,
		adjust:    adjustCurrency,
		assign:    setString(func(d *InvoiceData) **string { return &d.Currency }),
	},
}

func setString(slot func(*InvoiceData) **string) func(*InvoiceData, string, pattern.Rule) bool {
	return func(d *InvoiceData, value string, _ pattern.Rule) bool {
		*slot(d) = &value
		return true
	}
}

func setAmount(slot func(*InvoiceData) **decimal.Decimal) func(*InvoiceData, string, pattern.Rule) bool {
	return func(d *InvoiceData, value string, _ pattern.Rule) bool {
		amount, err := ParseAmount(value)
		if err != nil {
			return false
		}
		*slot(d) = &amount
		return true
	}
}

func setDate(slot func(*InvoiceData) **time.Time) func(*InvoiceData, string, pattern.Rule) bool {
	return func(d *InvoiceData, value string, rule pattern.Rule) bool {
		t, err := ParseDate(value, rule.DateFormat)
		if err != nil {
			return false
		}
		*slot(d) = &t
		return true
	}
}

var lettersDigits = regexp.MustCompile(`^[A-Za-z]+-[0-9]+$`)

func adjustInvoiceNumber(value string, _ pattern.Rule, _ time.Time) float64 {
	delta := 0.0
	if n := len(value); n >= 6 && n <= 20 {
		delta += 0.1
	}
	if lettersDigits.MatchString(value) {
		delta += 0.1
	}
	if !strings.ContainsFunc(value, unicode.IsDigit) {
		delta -= 0.3
	}
	return delta
}

var million = decimal.NewFromInt(1_000_000)

func adjustAmount(value string, _ pattern.Rule, _ time.Time) float64 {
	amount, err := ParseAmount(value)
	if err != nil {
		return -0.3
	}
	if amount.IsPositive() && amount.LessThan(million) {
		return 0.05
	}
	return 0
}

func adjustDate(value string, rule pattern.Rule, now time.Time) float64 {
	t, err := ParseDate(value, rule.DateFormat)
	if err != nil {
		return -0.3
	}
	if !t.Before(now.AddDate(-2, 0, 0)) && !t.After(now.AddDate(1, 0, 0)) {
		return 0.1
	}
	return 0
}

// labelWords start lines that name a field rather than hold a party name
var labelWords = map[string]bool{
	"invoice": true, "bill": true, "ship": true, "total": true, "subtotal": true,
	"amount": true, "date": true, "due": true, "page": true, "description": true,
	"qty": true, "quantity": true, "tax": true, "balance": true, "phone": true,
	"email": true, "terms": true, "payment": true, "remit": true,
}

func looksLikeLabel(value string) bool {
	first, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(value)), " ")
	first = strings.TrimRight(first, ":#.")
	return labelWords[first] || strings.HasSuffix(strings.TrimSpace(value), ":")
}

func adjustName(value string, _ pattern.Rule, _ time.Time) float64 {
	if looksLikeLabel(value) {
		return -0.3
	}
	if n := len(value); n >= 3 && n <= 60 && strings.ContainsFunc(value, unicode.IsLetter) {
		return 0.05
	}
	return 0
}

var emailShape = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

func adjustEmail(value string, _ pattern.Rule, _ time.Time) float64 {
	if emailShape.MatchString(value) {
		return 0.05
	}
	return 0
}

func adjustPhone(value string, _ pattern.Rule, _ time.Time) float64 {
	digits := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits >= 7 {
		return 0.05
	}
	return 0
}

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

func normalizeCurrency(value string) string {
	if code, ok := currencySymbols[value]; ok {
		return code
	}
	return strings.ToUpper(value)
}

func adjustCurrency(value string, _ pattern.Rule, _ time.Time) float64 {
	if _, err := currency.ParseISO(value); err == nil {
		return 0.05
	}
	return 0
}
