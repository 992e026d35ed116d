package confidence

import (
	"fmt"

	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/validation"
)

// FieldWeights weight the average of present fields. Fields not listed use
// OtherFieldWeight.
var FieldWeights = map[string]float64{
	extraction.FieldInvoiceNumber: 0.25,
	extraction.FieldTotalAmount:   0.25,
	extraction.FieldVendorName:    0.20,
	extraction.FieldInvoiceDate:   0.15,
	extraction.FieldDueDate:       0.10,
}

const (
	OtherFieldWeight = 0.05

	maxConsistencyBonus = 0.20
	maxPenalty          = 0.30

	errorPenalty      = 0.15
	softErrorPenalty  = 0.05
	warningPenalty    = 0.02
	exactMatchBonus   = 0.10
	closeMatchBonus   = 0.05
	dateOrderBonus    = 0.05
	coverageBonus     = 0.05
	highCompleteness  = 0.8
	highCompleteBonus = 0.10
	midCompleteness   = 0.6
	midCompleteBonus  = 0.05
)

var requiredFields = []string{
	extraction.FieldInvoiceNumber,
	extraction.FieldTotalAmount,
	extraction.FieldVendorName,
}

var optionalFields = []string{
	extraction.FieldVendorAddress,
	extraction.FieldVendorEmail,
	extraction.FieldSubtotalAmount,
	extraction.FieldTaxAmount,
	extraction.FieldInvoiceDate,
	extraction.FieldDueDate,
}

// FieldScore is one term of the weighted average
type FieldScore struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// Breakdown explains how an overall confidence was reached
type Breakdown struct {
	Fields            []FieldScore `json:"fields"`
	WeightedAverage   float64      `json:"weighted_average"`
	ConsistencyBonus  float64      `json:"consistency_bonus"`
	ValidationPenalty float64      `json:"validation_penalty"`
	CompletenessBonus float64      `json:"completeness_bonus"`
	FieldCount        int          `json:"field_count"`
	Overall           float64      `json:"overall"`
	Notes             []string     `json:"notes,omitempty"`
}

// Calculator combines field confidences, validation findings and
// completeness into one score
type Calculator struct{}

// NewCalculator creates a calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate scores d given its validation result
func (c *Calculator) Calculate(d *extraction.InvoiceData, v validation.Result) Breakdown {
	var b Breakdown

	b.WeightedAverage, b.Fields = weightedAverage(d)
	b.ConsistencyBonus, b.Notes = consistency(d)
	b.ValidationPenalty = penalty(v)
	b.FieldCount = d.FieldCount()
	b.CompletenessBonus = completeness(b.FieldCount)

	b.Overall = clamp(b.WeightedAverage + b.ConsistencyBonus - b.ValidationPenalty + b.CompletenessBonus)
	return b
}

// weightedAverage runs over fields that hold a value and have provenance,
// in first-seen order
func weightedAverage(d *extraction.InvoiceData) (float64, []FieldScore) {
	var (
		scores    []FieldScore
		seen      = map[string]bool{}
		sum, norm float64
	)
	for _, e := range d.Extractions {
		if seen[e.Field] || !d.Has(e.Field) {
			continue
		}
		seen[e.Field] = true

		w, ok := FieldWeights[e.Field]
		if !ok {
			w = OtherFieldWeight
		}
		conf := d.Confidence(e.Field)
		scores = append(scores, FieldScore{Field: e.Field, Confidence: conf, Weight: w})
		sum += conf * w
		norm += w
	}
	if norm == 0 {
		return 0, scores
	}
	return sum / norm, scores
}

func consistency(d *extraction.InvoiceData) (float64, []string) {
	var (
		bonus float64
		notes []string
	)
	if diff, ok := validation.Reconciliation(d); ok {
		switch {
		case diff.LessThanOrEqual(validation.ReconcileTolerance):
			bonus += exactMatchBonus
			notes = append(notes, "subtotal plus tax reconciles with total")
		case diff.LessThanOrEqual(validation.MismatchTolerance):
			bonus += closeMatchBonus
			notes = append(notes, fmt.Sprintf("subtotal plus tax within %s of total", diff.StringFixed(2)))
		}
	}
	if d.InvoiceDate != nil && d.DueDate != nil && d.DueDate.After(*d.InvoiceDate) {
		bonus += dateOrderBonus
		notes = append(notes, "due date follows invoice date")
	}
	if count(d, requiredFields) >= 3 && count(d, optionalFields) >= 2 {
		bonus += coverageBonus
		notes = append(notes, "required fields plus supporting detail present")
	}
	return min(bonus, maxConsistencyBonus), notes
}

func penalty(v validation.Result) float64 {
	hard := v.ErrorCount()
	soft := len(v.Errors) - hard
	p := errorPenalty*float64(hard) + softErrorPenalty*float64(soft) + warningPenalty*float64(len(v.Warnings))
	return min(p, maxPenalty)
}

func completeness(fieldCount int) float64 {
	ratio := float64(fieldCount) / float64(len(extraction.ScoredFields))
	switch {
	case ratio >= highCompleteness:
		return highCompleteBonus
	case ratio >= midCompleteness:
		return midCompleteBonus
	}
	return 0
}

func count(d *extraction.InvoiceData, fields []string) int {
	n := 0
	for _, f := range fields {
		if d.Has(f) {
			n++
		}
	}
	return n
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
