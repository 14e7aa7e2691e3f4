// Package telemetry wires prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viewcount"

// Metrics holds the tracker's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	news        *prometheus.CounterVec
	samples     prometheus.Counter
	inserted    prometheus.Counter
	pruned      prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Tracker runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one tracker run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		news: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_total",
			Help:      "Milestone notifications written, by category.",
		}, []string{"category"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_history_samples_total",
			Help:      "View-history samples appended.",
		}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_inserted_total",
			Help:      "Newly discovered videos inserted.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_history_pruned_total",
			Help:      "View-history samples deleted by retention.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.news, m.samples, m.inserted, m.pruned,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// AddNews counts one written notification.
func (m *Metrics) AddNews(category string) {
	if m == nil {
		return
	}
	m.news.WithLabelValues(category).Inc()
}

// AddSamples counts appended samples.
func (m *Metrics) AddSamples(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.samples.Add(float64(n))
}

// AddInserted counts inserted videos.
func (m *Metrics) AddInserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.inserted.Add(float64(n))
}

// AddPruned counts deleted samples.
func (m *Metrics) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}
