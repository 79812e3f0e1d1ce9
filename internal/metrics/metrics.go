// Package metrics exposes Prometheus collectors for chat activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors recorded by the assistant service and the
// chat controller.
type Metrics struct {
	remoteCalls       *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	sessionsStarted   prometheus.Counter
	sessionsTerminate *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the package-level metrics registered with the global
// Prometheus registry. Collectors are created once to avoid duplicate
// registration panics.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs Metrics registered on reg. Registration errors panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "etna_chat",
				Name:      "remote_calls_total",
				Help:      "Calls made to the hosted assistant, by operation and outcome.",
			},
			[]string{"op", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "etna_chat",
				Name:      "run_duration_seconds",
				Help:      "Time from run creation until a terminal status.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"status"},
		),
		sessionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "etna_chat",
				Name:      "sessions_started_total",
				Help:      "Chats that received a greeting.",
			},
		),
		sessionsTerminate: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "etna_chat",
				Name:      "sessions_terminated_total",
				Help:      "Chats closed, by trigger (button or keyword).",
			},
			[]string{"trigger"},
		),
	}
	reg.MustRegister(m.remoteCalls, m.runDuration, m.sessionsStarted, m.sessionsTerminate)
	return m
}

// ObserveCall records one remote call outcome.
func (m *Metrics) ObserveCall(op string, err error) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(op, statusLabel(err)).Inc()
}

// ObserveRun records how long a run took to finish.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(statusLabel(err)).Observe(d.Seconds())
}

// SessionStarted counts a chat that reached the active state.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

// SessionTerminated counts a chat reset by the given trigger.
func (m *Metrics) SessionTerminated(trigger string) {
	if m == nil {
		return
	}
	m.sessionsTerminate.WithLabelValues(trigger).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
