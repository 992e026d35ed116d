package invoice

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for extraction runs
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	FailuresTotal        *prometheus.CounterVec
	RecommendationsTotal *prometheus.CounterVec
	FieldsTotal          *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	Confidence           prometheus.Histogram
}

// NewMetrics registers the extraction metrics once per process.
//
// Metrics:
//   - invoice_extraction_runs_total{state} - runs by terminal state
//   - invoice_extraction_failures_total{reason} - failed runs by cause
//   - invoice_recommendations_total{recommendation} - classified runs by recommendation
//   - invoice_fields_extracted_total{field} - fields present in classified runs
//   - invoice_extraction_duration_seconds - run latency
//   - invoice_extraction_confidence - overall confidence of classified runs
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "invoice_extraction_runs_total",
					Help: "Total number of extraction runs by terminal state",
				},
				[]string{"state"},
			),

			FailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "invoice_extraction_failures_total",
					Help: "Total number of failed extraction runs by reason",
				},
				[]string{"reason"}, // "registry_unavailable", "timeout", "internal"
			),

			RecommendationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "invoice_recommendations_total",
					Help: "Total number of classified runs by processing recommendation",
				},
				[]string{"recommendation"},
			),

			FieldsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "invoice_fields_extracted_total",
					Help: "Total number of fields present in classified runs",
				},
				[]string{"field"},
			),

			RunDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "invoice_extraction_duration_seconds",
					Help:    "Duration of extraction runs in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
				},
			),

			Confidence: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "invoice_extraction_confidence",
					Help:    "Overall confidence of classified runs",
					Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
				},
			),
		}
	})

	return globalMetrics
}

func (m *Metrics) recordRun(r *Result, failure string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(r.State)).Inc()
	m.RunDuration.Observe(float64(r.ProcessingMillis) / 1000)
	if r.State == StateFailed {
		m.FailuresTotal.WithLabelValues(failure).Inc()
		return
	}
	m.RecommendationsTotal.WithLabelValues(string(r.Recommendation)).Inc()
	m.Confidence.Observe(r.OverallConfidence)
	if r.Data == nil {
		return
	}
	seen := map[string]bool{}
	for _, e := range r.Data.Extractions {
		if !seen[e.Field] && r.Data.Has(e.Field) {
			seen[e.Field] = true
			m.FieldsTotal.WithLabelValues(e.Field).Inc()
		}
	}
}
