// Package metrics exposes judge pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"arenaoj/internal/judge/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arenaoj"

// Metrics records grading outcomes. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry    *prometheus.Registry
	verdicts    *prometheus.CounterVec
	infraErrors prometheus.Counter
	queueDepth  prometheus.Gauge
	grading     prometheus.Histogram
}

// New registers the judge collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "verdicts_total",
			Help:      "Graded submissions by final verdict.",
		}, []string{"verdict"}),
		infraErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "infra_errors_total",
			Help:      "Submissions that ended in InfraError.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "queue_depth",
			Help:      "Submissions waiting to be claimed.",
		}),
		grading: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "grading_seconds",
			Help:      "Time from claim to terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
	}
	m.registry.MustRegister(
		m.verdicts,
		m.infraErrors,
		m.queueDepth,
		m.grading,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveFinal records one terminal submission.
func (m *Metrics) ObserveFinal(sub *model.Submission, elapsed time.Duration) {
	if m == nil || sub == nil {
		return
	}
	if sub.Status == model.StatusInfraError {
		m.infraErrors.Inc()
	} else {
		m.verdicts.WithLabelValues(string(sub.Verdict)).Inc()
	}
	m.grading.Observe(elapsed.Seconds())
}

// SetQueueDepth samples the number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
