package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-extractor/internal/pattern"
)

// AcceptThreshold is the adjusted confidence a rule's best candidate needs
// to be accepted
const AcceptThreshold = 0.5

const (
	DefaultWorkers      = 4
	DefaultFieldTimeout = 2 * time.Second
)

// ErrExtractionTimeout is returned when a category exceeds its time bound
var ErrExtractionTimeout = errors.New("field extraction timed out")

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time {
	return time.Now().UTC()
}

// Option configures an Engine
type Option func(*Engine)

// WithWorkers bounds how many categories are evaluated at once
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithFieldTimeout bounds the evaluation of a single category
func WithFieldTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fieldTimeout = d
		}
	}
}

// WithTimeSource overrides the clock used for date plausibility and
// timestamps
func WithTimeSource(t TimeSource) Option {
	return func(e *Engine) {
		e.clock = t
	}
}

// Engine applies a rule snapshot to raw invoice text. It holds no state
// between calls.
type Engine struct {
	workers      int
	fieldTimeout time.Duration
	clock        TimeSource
}

// NewEngine creates an extraction engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers:      DefaultWorkers,
		fieldTimeout: DefaultFieldTimeout,
		clock:        systemTime{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Now exposes the engine clock to the rest of the pipeline
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

type line struct {
	no   int
	text string
}

// candidate is an accepted value together with the rule that produced it
type candidate struct {
	extraction FieldExtraction
	rule       pattern.Rule
}

// Extract runs every category of snap against text concurrently and builds
// the aggregate. Categories with no accepted candidate are left absent.
func (e *Engine) Extract(ctx context.Context, snap *pattern.Snapshot, text string) (*InvoiceData, error) {
	if snap == nil {
		return nil, fmt.Errorf("extracting: %w", pattern.ErrRegistryUnavailable)
	}

	lines := splitLines(text)
	now := e.clock.Now()
	results := make([]*candidate, len(pattern.Categories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, category := range pattern.Categories {
		h, ok := handlers[category]
		if !ok {
			continue
		}
		rules := snap.RulesFor(category)
		if len(rules) == 0 {
			continue
		}
		g.Go(func() (err error) {
			// panics do not cross goroutines
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("extracting %s: panic: %v", category, r)
				}
			}()

			fctx, cancel := context.WithTimeout(gctx, e.fieldTimeout)
			defer cancel()

			c, err := e.selectCandidate(fctx, h, rules, scope(h, lines), now)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", category, err)
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := &InvoiceData{ExtractedAt: now}
	for i, c := range results {
		if c == nil {
			continue
		}
		// selectCandidate only accepts values that parse
		handlers[pattern.Categories[i]].assign(data, c.extraction.Value, c.rule)
		data.Extractions = append(data.Extractions, c.extraction)
	}
	return data, nil
}

// selectCandidate walks rules in priority order. Each rule's best candidate
// over the scoped lines is taken; the first one that clears
// AcceptThreshold wins. Values the field cannot hold are skipped, so a
// rule that only matches unparseable text falls through to the next one.
func (e *Engine) selectCandidate(ctx context.Context, h handler, rules []*pattern.CompiledRule, lines []line, now time.Time) (*candidate, error) {
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrExtractionTimeout
			}
			return nil, err
		}

		var best *candidate
		for _, l := range lines {
			value, ok := rule.Match(l.text)
			if !ok {
				continue
			}
			if h.normalize != nil {
				value = h.normalize(value)
			}
			if !h.parses(value, rule.Rule) {
				continue
			}
			confidence := rule.Rule.ConfidenceWeight
			if h.adjust != nil {
				confidence += h.adjust(value, rule.Rule, now)
			}
			confidence = clamp(confidence)

			if best == nil || confidence > best.extraction.Confidence {
				best = &candidate{
					extraction: FieldExtraction{
						Field:      h.field,
						Value:      value,
						Confidence: confidence,
						RuleID:     rule.Rule.ID,
						RuleName:   rule.Rule.Name,
						SourceLine: l.no,
						SourceText: strings.TrimSpace(l.text),
						Method:     h.method(),
					},
					rule: rule.Rule,
				}
			}
		}
		if best != nil && best.extraction.Confidence >= AcceptThreshold {
			return best, nil
		}
	}
	return nil, nil
}

func splitLines(text string) []line {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]line, 0, len(raw))
	for i, t := range raw {
		if strings.TrimSpace(t) == "" {
			continue
		}
		lines = append(lines, line{no: i + 1, text: t})
	}
	return lines
}

// scope picks the lines a handler's strategy searches
func scope(h handler, lines []line) []line {
	switch h.strategy {
	case header:
		return lines[:min(headerLines, len(lines))]
	case keywordAnchored:
		var out []line
		next := 0
		for i, l := range lines {
			if !containsKeyword(l.text, h.keywords) {
				continue
			}
			from := max(i, next)
			to := min(i+anchorSpan+1, len(lines))
			out = append(out, lines[from:to]...)
			next = to
		}
		return out
	}
	return lines
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
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
