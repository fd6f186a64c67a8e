// Package metrics exposes approval session counters for prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
)

const namespace = "quantum_wallet"

// Sessions implements approval.Observer.
type Sessions struct {
	registry *prometheus.Registry
	opened   *prometheus.CounterVec
	resolved *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ approval.Observer = (*Sessions)(nil)

func NewSessions() *Sessions {
	s := &Sessions{
		registry: prometheus.NewRegistry(),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Approval sessions opened, by request kind.",
		}, []string{"kind"}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_resolved_total",
			Help:      "Approval sessions finished, by request kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from opening an approval session to its reply.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
	}
	s.registry.MustRegister(
		s.opened,
		s.resolved,
		s.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *Sessions) SessionOpened(kind approval.Kind) {
	s.opened.WithLabelValues(string(kind)).Inc()
}

func (s *Sessions) SessionResolved(kind approval.Kind, status approval.Status, reason string, d time.Duration) {
	s.resolved.WithLabelValues(string(kind), outcome(status, reason)).Inc()
	s.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (s *Sessions) Registry() *prometheus.Registry { return s.registry }

func (s *Sessions) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// outcome folds status and reason into one label: approved, declined,
// abandoned or error.
func outcome(status approval.Status, reason string) string {
	switch {
	case status == approval.StatusApproved:
		return "approved"
	case reason == approval.ReasonAbandoned:
		return "abandoned"
	case reason == approval.ReasonError:
		return "error"
	default:
		return "declined"
	}
}
