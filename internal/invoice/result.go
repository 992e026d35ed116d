package invoice

import (
	"time"

	"github.com/zombor/invoice-extractor/internal/confidence"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/validation"
)

// State is the position of a run in the pipeline
type State string

const (
	StateReceived   State = "RECEIVED"
	StateExtracted  State = "EXTRACTED"
	StateEnhanced   State = "ENHANCED"
	StateValidated  State = "VALIDATED"
	StateScored     State = "SCORED"
	StateClassified State = "CLASSIFIED"
	StateFailed     State = "FAILED"
)

// Status grades how much of the invoice was recovered
type Status string

const (
	StatusNoData   Status = "NO_DATA_EXTRACTED"
	StatusComplete Status = "EXTRACTION_COMPLETE"
	StatusPartial  Status = "PARTIAL_EXTRACTION"
	StatusLow      Status = "LOW_CONFIDENCE"
	StatusFailed   Status = "EXTRACTION_FAILED"
)

// Recommendation is the suggested downstream handling
type Recommendation string

const (
	AutoApprove       Recommendation = "AUTO_APPROVE"
	ReviewRecommended Recommendation = "REVIEW_RECOMMENDED"
	ManualReview      Recommendation = "MANUAL_REVIEW"
	ManualProcessing  Recommendation = "MANUAL_PROCESSING"
)

// Request is one document's text plus its message context
type Request struct {
	RawText      string `json:"raw_text"`
	EmailSubject string `json:"email_subject,omitempty"`
	SenderEmail  string `json:"sender_email,omitempty"`
}

// Result is the envelope returned for one run. A re-run produces a new one.
type Result struct {
	ID                string                  `json:"id"`
	State             State                   `json:"state"`
	Status            Status                  `json:"status"`
	Recommendation    Recommendation          `json:"recommendation"`
	OverallConfidence float64                 `json:"overall_confidence"`
	Breakdown         *confidence.Breakdown   `json:"confidence_breakdown,omitempty"`
	Data              *extraction.InvoiceData `json:"data,omitempty"`
	Validation        *validation.Result      `json:"validation,omitempty"`
	RegistryVersion   uint64                  `json:"registry_version"`
	StartedAt         time.Time               `json:"started_at"`
	CompletedAt       time.Time               `json:"completed_at"`
	ProcessingMillis  int64                   `json:"processing_ms"`
	Error             string                  `json:"error,omitempty"`
}

// Classify grades completeness from the scored field count and confidence
func Classify(fieldCount int, conf float64) Status {
	switch {
	case fieldCount == 0:
		return StatusNoData
	case fieldCount >= 6 && conf >= 0.8:
		return StatusComplete
	case fieldCount >= 3 && conf >= 0.6:
		return StatusPartial
	}
	return StatusLow
}

// Recommend picks downstream handling. A result is valid when it has no
// ERROR-severity findings, so warnings alone never block review.
func Recommend(conf float64, v validation.Result) Recommendation {
	switch {
	case conf >= 0.9 && v.IsValid:
		return AutoApprove
	case conf >= 0.7 && v.IsValid:
		return ReviewRecommended
	case conf >= 0.5:
		return ManualReview
	}
	return ManualProcessing
}
