package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "detail_loader"

// Metrics bundles Prometheus collectors for the scraper. All methods are
// safe on a nil receiver.
type Metrics struct {
	Registry        *prometheus.Registry
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	Items           prometheus.Counter
	Retries         prometheus.Counter
	Errors          *prometheus.CounterVec
	ParseFailures   prometheus.Counter
	InvalidASINs    prometheus.Counter
}

// NewMetrics registers every collector on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}

	return &Metrics{
		Registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Detail page requests by phase (started, completed).",
		}, []string{"phase"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of detail page fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Fetch errors by kind.",
		}, []string{"error_type"}),
		Items:         counter("items_scraped_total", "Parsed products sent to the pipeline."),
		Retries:       counter("retries_total", "Fetch retries scheduled."),
		ParseFailures: counter("parse_failures_total", "Fetched pages the parser rejected."),
		InvalidASINs:  counter("invalid_asins_total", "Input lines skipped as malformed ASINs."),
	}
}

func (m *Metrics) IncRequest(phase string) {
	if m != nil {
		m.Requests.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m != nil {
		m.RequestDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncItems() {
	if m != nil {
		m.Items.Inc()
	}
}

func (m *Metrics) IncRetries() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) IncError(errorType string) {
	if m != nil {
		m.Errors.WithLabelValues(errorType).Inc()
	}
}

func (m *Metrics) IncParseFailure() {
	if m != nil {
		m.ParseFailures.Inc()
	}
}

// AddInvalidASINs adds n skipped input lines.
func (m *Metrics) AddInvalidASINs(n int) {
	if m != nil && n > 0 {
		m.InvalidASINs.Add(float64(n))
	}
}
