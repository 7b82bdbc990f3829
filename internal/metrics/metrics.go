// Package metrics holds the Prometheus collectors of the submission pipeline.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collectors struct {
	registry *prometheus.Registry

	transportAttempts *prometheus.CounterVec
	transportBackoff  prometheus.Histogram
	submissionStates  *prometheus.CounterVec
	exports           *prometheus.CounterVec
}

// New registers the pipeline collectors on a fresh registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		transportAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiocheck_transport_attempts_total",
				Help: "Upload attempts made against the classification service, by result",
			},
			[]string{"result"},
		),
		transportBackoff: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audiocheck_transport_backoff_seconds",
				Help:    "Time waited between upload attempts",
				Buckets: []float64{1, 2, 4, 6, 10},
			},
		),
		submissionStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiocheck_submission_state_transitions_total",
				Help: "Submission state machine transitions, by entered state",
			},
			[]string{"state"},
		),
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiocheck_exports_total",
				Help: "Result exports, by the path that delivered them",
			},
			[]string{"path"},
		),
	}
	c.registry.MustRegister(c.transportAttempts, c.transportBackoff, c.submissionStates, c.exports)
	return c
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collectors) ObserveAttempt(result string) {
	if c == nil {
		return
	}
	c.transportAttempts.WithLabelValues(result).Inc()
}

func (c *Collectors) ObserveBackoff(d time.Duration) {
	if c == nil {
		return
	}
	c.transportBackoff.Observe(d.Seconds())
}

func (c *Collectors) ObserveState(state string) {
	if c == nil {
		return
	}
	c.submissionStates.WithLabelValues(state).Inc()
}

func (c *Collectors) ObserveExport(path string) {
	if c == nil {
		return
	}
	c.exports.WithLabelValues(path).Inc()
}
