package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded by Metrics.
const (
	OutcomeOK              = "ok"
	OutcomeNotFound        = "not_found"
	OutcomeConditionFailed = "condition_failed"
	OutcomeTransient       = "transient"
	OutcomeError           = "error"
)

// Metrics counts store operations by outcome and records their latency.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the store collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "singletable",
			Name:      "requests_total",
			Help:      "DynamoDB requests issued by the store, by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "singletable",
			Name:      "request_duration_seconds",
			Help:      "DynamoDB request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

// Requests returns the request counter for op and outcome.
func (m *Metrics) Requests(op, outcome string) prometheus.Counter {
	return m.requests.WithLabelValues(op, outcome)
}

func (m *Metrics) observe(op string, d time.Duration, err error) {
	m.requests.WithLabelValues(op, outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConditionFailed):
		return OutcomeConditionFailed
	case errors.Is(err, ErrTransient):
		return OutcomeTransient
	default:
		return OutcomeError
	}
}
