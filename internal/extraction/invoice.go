package extraction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical field names
const (
	FieldInvoiceNumber  = "invoice_number"
	FieldVendorName     = "vendor_name"
	FieldVendorAddress  = "vendor_address"
	FieldVendorEmail    = "vendor_email"
	FieldVendorPhone    = "vendor_phone"
	FieldCustomerName   = "customer_name"
	FieldTotalAmount    = "total_amount"
	FieldSubtotalAmount = "subtotal_amount"
	FieldTaxAmount      = "tax_amount"
	FieldCurrency       = "currency"
	FieldInvoiceDate    = "invoice_date"
	FieldDueDate        = "due_date"
	FieldPaymentTerms   = "payment_terms"
)

// ScoredFields are the fields counted towards completeness
var ScoredFields = []string{
	FieldInvoiceNumber,
	FieldVendorName,
	FieldVendorAddress,
	FieldVendorEmail,
	FieldTotalAmount,
	FieldSubtotalAmount,
	FieldTaxAmount,
	FieldInvoiceDate,
	FieldDueDate,
}

// Method tags how a value was found
type Method string

const (
	MethodPatternMatch     Method = "pattern-match"
	MethodKeywordContext   Method = "keyword-context"
	MethodEmailEnhancement Method = "email-enhancement"
)

// FieldExtraction is the provenance of one extracted value
type FieldExtraction struct {
	Field      string  `json:"field"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	RuleID     string  `json:"rule_id,omitempty"`
	RuleName   string  `json:"rule_name,omitempty"`
	SourceLine int     `json:"source_line,omitempty"`
	SourceText string  `json:"source_text,omitempty"`
	Method     Method  `json:"method"`
}

// InvoiceData is the canonical aggregate of one extraction run
type InvoiceData struct {
	InvoiceNumber  *string          `json:"invoice_number"`
	VendorName     *string          `json:"vendor_name"`
	VendorAddress  *string          `json:"vendor_address"`
	VendorEmail    *string          `json:"vendor_email"`
	VendorPhone    *string          `json:"vendor_phone,omitempty"`
	CustomerName   *string          `json:"customer_name,omitempty"`
	TotalAmount    *decimal.Decimal `json:"total_amount"`
	SubtotalAmount *decimal.Decimal `json:"subtotal_amount"`
	TaxAmount      *decimal.Decimal `json:"tax_amount"`
	Currency       *string          `json:"currency"`
	InvoiceDate    *time.Time       `json:"invoice_date"`
	DueDate        *time.Time       `json:"due_date"`
	PaymentTerms   *string          `json:"payment_terms,omitempty"`

	Extractions []FieldExtraction `json:"extractions"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// Has reports whether the aggregate holds a value for field
func (d *InvoiceData) Has(field string) bool {
	switch field {
	case FieldInvoiceNumber:
		return d.InvoiceNumber != nil
	case FieldVendorName:
		return d.VendorName != nil
	case FieldVendorAddress:
		return d.VendorAddress != nil
	case FieldVendorEmail:
		return d.VendorEmail != nil
	case FieldVendorPhone:
		return d.VendorPhone != nil
	case FieldCustomerName:
		return d.CustomerName != nil
	case FieldTotalAmount:
		return d.TotalAmount != nil
	case FieldSubtotalAmount:
		return d.SubtotalAmount != nil
	case FieldTaxAmount:
		return d.TaxAmount != nil
	case FieldCurrency:
		return d.Currency != nil
	case FieldInvoiceDate:
		return d.InvoiceDate != nil
	case FieldDueDate:
		return d.DueDate != nil
	case FieldPaymentTerms:
		return d.PaymentTerms != nil
	}
	return false
}

// Best returns the highest-confidence extraction for field. Ties go to the
// earlier record.
func (d *InvoiceData) Best(field string) (FieldExtraction, bool) {
	var (
		best  FieldExtraction
		found bool
	)
	for _, e := range d.Extractions {
		if e.Field != field {
			continue
		}
		if !found || e.Confidence > best.Confidence {
			best = e
			found = true
		}
	}
	return best, found
}

// Confidence is the best confidence recorded for field, 0 when absent
func (d *InvoiceData) Confidence(field string) float64 {
	if e, ok := d.Best(field); ok {
		return e.Confidence
	}
	return 0
}

// FieldCount counts scored fields that hold a value
func (d *InvoiceData) FieldCount() int {
	n := 0
	for _, f := range ScoredFields {
		if d.Has(f) {
			n++
		}
	}
	return n
}

// clone copies the aggregate and its provenance slice. Pointed-to values are
// never mutated so they are shared.
func (d *InvoiceData) clone() *InvoiceData {
	c := *d
	c.Extractions = append([]FieldExtraction(nil), d.Extractions...)
	return &c
}
