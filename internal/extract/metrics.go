package extract

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/a3tai/mcp-form-atlas/internal/fusion"
)

const (
	metricsNamespace = "form_atlas"
	metricsSubsystem = "extract"

	statusOK    = "ok"
	statusError = "error"
)

// Metrics are the extraction counters. A nil *Metrics records nothing.
type Metrics struct {
	documents     *prometheus.CounterVec
	fields        *prometheus.CounterVec
	disagreements prometheus.Counter
	alignment     prometheus.Histogram
}

// NewMetrics creates the extraction metrics and registers them on reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "documents_total",
				Help:      "Documents processed, by outcome.",
			},
			[]string{"status"},
		),
		fields: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "fields_total",
				Help:      "Fused field values, by the method that produced the winning value.",
			},
			[]string{"method"},
		),
		disagreements: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "disagreements_total",
				Help:      "Fields on which sources proposed different values.",
			},
		),
		alignment: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "alignment_quality",
				Help:      "Alignment quality of processed documents.",
				Buckets:   []float64{0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.documents, m.fields, m.disagreements, m.alignment)
	}
	return m
}

func (m *Metrics) observe(res *Result) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(statusOK).Inc()
	for name, meta := range res.Metadata {
		method := meta.Source
		if pm, ok := res.Positional[name]; ok && meta.Source == fusion.SourcePositional {
			method = string(pm.Method)
		}
		m.fields.WithLabelValues(method).Inc()
	}
	m.disagreements.Add(float64(len(res.Disagreements)))
	if res.Alignment.Offsets != nil {
		m.alignment.Observe(res.Alignment.Quality)
	}
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(statusError).Inc()
}
