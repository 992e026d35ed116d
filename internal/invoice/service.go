package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-extractor/internal/confidence"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/pattern"
	"github.com/zombor/invoice-extractor/internal/validation"
)

// DefaultTimeout bounds one extraction run
const DefaultTimeout = 10 * time.Second

var (
	// ErrEmptyDocument rejects requests without text
	ErrEmptyDocument = errors.New("document text is empty")

	// ErrPipelinePanic wraps a recovered panic
	ErrPipelinePanic = errors.New("extraction pipeline panicked")
)

// RuleSource supplies rule snapshots and accepts usage events
type RuleSource interface {
	Snapshot() (*pattern.Snapshot, error)
	RecordUsage(events []pattern.UsageEvent) error
}

// Extractor turns text into a raw aggregate
type Extractor interface {
	Extract(ctx context.Context, snap *pattern.Snapshot, text string) (*extraction.InvoiceData, error)
}

// Enhancer fills gaps from message context
type Enhancer interface {
	Enhance(ctx context.Context, snap *pattern.Snapshot, data *extraction.InvoiceData, c extraction.MessageContext) (*extraction.InvoiceData, error)
}

// Validator checks an aggregate
type Validator interface {
	Validate(d *extraction.InvoiceData) validation.Result
}

// Scorer computes the overall confidence
type Scorer interface {
	Calculate(d *extraction.InvoiceData, v validation.Result) confidence.Breakdown
}

// IDGenerator generates unique IDs for runs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Deps are the collaborators of a Service
type Deps struct {
	Rules       RuleSource
	Extractor   Extractor
	Enhancer    Enhancer
	Validator   Validator
	Scorer      Scorer
	IDGenerator IDGenerator
	TimeSource  TimeSource
	Metrics     *Metrics
	Timeout     time.Duration
}

// Service sequences extraction, enhancement, validation, scoring and
// classification for one document at a time
type Service struct {
	deps Deps
}

// NewService wires the default pipeline around rules and engine
func NewService(rules RuleSource, engine *extraction.Engine, timeout time.Duration) *Service {
	return NewServiceWithDeps(Deps{
		Rules:     rules,
		Extractor: engine,
		Enhancer:  extraction.NewEnhancer(engine),
		Validator: validation.NewValidator(),
		Scorer:    confidence.NewCalculator(),
		Metrics:   NewMetrics(),
		Timeout:   timeout,
	})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(deps Deps) *Service {
	if deps.IDGenerator == nil {
		deps.IDGenerator = &defaultIDGenerator{}
	}
	if deps.TimeSource == nil {
		deps.TimeSource = &defaultTimeSource{}
	}
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	return &Service{deps: deps}
}

// Extract runs the full pipeline. A failed run still returns its envelope
// in the FAILED state together with the error.
func (s *Service) Extract(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.RawText) == "" {
		return nil, ErrEmptyDocument
	}

	result := &Result{
		ID:        s.deps.IDGenerator.Generate(),
		State:     StateReceived,
		StartedAt: s.deps.TimeSource.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()

	err := s.run(ctx, req, result)
	result.CompletedAt = s.deps.TimeSource.Now()
	result.ProcessingMillis = result.CompletedAt.Sub(result.StartedAt).Milliseconds()

	if err != nil {
		result.State = StateFailed
		result.Status = StatusFailed
		result.OverallConfidence = 0
		result.Recommendation = ManualProcessing
		result.Error = err.Error()
		slog.Error("Extraction failed", "id", result.ID, "error", err)
		s.deps.Metrics.recordRun(result, failureReason(err))
		return result, err
	}

	slog.Info("Extraction classified",
		"id", result.ID,
		"status", result.Status,
		"recommendation", result.Recommendation,
		"confidence", result.OverallConfidence,
		"registry_version", result.RegistryVersion,
	)
	s.deps.Metrics.recordRun(result, "")
	s.recordUsage(result)
	return result, nil
}

func (s *Service) run(ctx context.Context, req Request, result *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPipelinePanic, r)
		}
	}()

	snap, err := s.deps.Rules.Snapshot()
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	result.RegistryVersion = snap.Version

	data, err := s.deps.Extractor.Extract(ctx, snap, req.RawText)
	if err != nil {
		return fmt.Errorf("extracting fields: %w", err)
	}
	result.Data = data
	result.State = StateExtracted

	if err := stageDeadline(ctx); err != nil {
		return err
	}
	data, err = s.deps.Enhancer.Enhance(ctx, snap, data, extraction.MessageContext{
		EmailSubject: req.EmailSubject,
		SenderEmail:  req.SenderEmail,
	})
	if err != nil {
		return fmt.Errorf("enhancing fields: %w", err)
	}
	result.Data = data
	result.State = StateEnhanced

	if err := stageDeadline(ctx); err != nil {
		return err
	}
	v := s.deps.Validator.Validate(data)
	result.Validation = &v
	result.State = StateValidated

	b := s.deps.Scorer.Calculate(data, v)
	result.Breakdown = &b
	result.OverallConfidence = b.Overall
	result.State = StateScored

	result.Status = Classify(data.FieldCount(), b.Overall)
	result.Recommendation = Recommend(b.Overall, v)
	result.State = StateClassified
	return nil
}

// stageDeadline reports an expired run between stages
func stageDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return extraction.ErrExtractionTimeout
		}
		return err
	}
	return nil
}

// recordUsage appends one event per rule-backed extraction. Failures are
// logged and do not affect the result.
func (s *Service) recordUsage(result *Result) {
	if result.Data == nil {
		return
	}
	var events []pattern.UsageEvent
	for _, e := range result.Data.Extractions {
		if e.RuleID == "" {
			continue
		}
		events = append(events, pattern.UsageEvent{
			RuleID: e.RuleID,
			Field:  e.Field,
			RunID:  result.ID,
			At:     result.CompletedAt,
		})
	}
	if len(events) == 0 {
		return
	}
	if err := s.deps.Rules.RecordUsage(events); err != nil {
		slog.Warn("Failed to record rule usage", "id", result.ID, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, pattern.ErrRegistryUnavailable):
		return "registry_unavailable"
	case errors.Is(err, extraction.ErrExtractionTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal"
}
