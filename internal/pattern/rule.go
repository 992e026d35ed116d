package pattern

import (
	"strings"
	"time"
)

// Category identifies the invoice attribute a rule extracts
type Category string

const (
	InvoiceNumber  Category = "InvoiceNumber"
	Amount         Category = "Amount"
	SubtotalAmount Category = "SubtotalAmount"
	TaxAmount      Category = "TaxAmount"
	InvoiceDate    Category = "InvoiceDate"
	DueDate        Category = "DueDate"
	Vendor         Category = "Vendor"
	Customer       Category = "Customer"
	Email          Category = "Email"
	Phone          Category = "Phone"
	Address        Category = "Address"
	Currency       Category = "Currency"
	PaymentTerms   Category = "PaymentTerms"
)

// Categories lists every category in a stable order
var Categories = []Category{
	InvoiceNumber,
	Amount,
	SubtotalAmount,
	TaxAmount,
	InvoiceDate,
	DueDate,
	Vendor,
	Customer,
	Email,
	Phone,
	Address,
	Currency,
	PaymentTerms,
}

// ParseCategory resolves a category name case-insensitively
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

const (
	MinConfidenceWeight = 0.1
	MaxConfidenceWeight = 1.0
)

// Rule is a regular expression plus the metadata used to rank its matches
type Rule struct {
	ID                string    `json:"id" yaml:"id,omitempty"`
	Name              string    `json:"name" yaml:"name"`
	Category          Category  `json:"category" yaml:"category"`
	Pattern           string    `json:"pattern" yaml:"pattern"`
	Priority          int       `json:"priority" yaml:"priority"`
	ConfidenceWeight  float64   `json:"confidence_weight" yaml:"confidence_weight"`
	Active            bool      `json:"active" yaml:"active"`
	CaptureGroup      int       `json:"capture_group" yaml:"capture_group"`
	DateFormat        string    `json:"date_format,omitempty" yaml:"date_format,omitempty"`
	ValidationPattern string    `json:"validation_pattern,omitempty" yaml:"validation_pattern,omitempty"`
	CaseSensitive     bool      `json:"case_sensitive" yaml:"case_sensitive,omitempty"`
	CreatedBy         string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Notes             string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// ClampWeight bounds a confidence weight to [MinConfidenceWeight, MaxConfidenceWeight]
func ClampWeight(w float64) float64 {
	if w < MinConfidenceWeight {
		return MinConfidenceWeight
	}
	if w > MaxConfidenceWeight {
		return MaxConfidenceWeight
	}
	return w
}

// normalize trims free-text fields and clamps the weight
func (r *Rule) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.DateFormat = strings.TrimSpace(r.DateFormat)
	r.CreatedBy = strings.TrimSpace(r.CreatedBy)
	r.Notes = strings.TrimSpace(r.Notes)
	r.ConfidenceWeight = ClampWeight(r.ConfidenceWeight)
	if c, ok := ParseCategory(string(r.Category)); ok {
		r.Category = c
	}
}
