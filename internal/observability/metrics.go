package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions   prometheus.Gauge
	connectedClients prometheus.Gauge

	eventsEmitted *prometheus.CounterVec
	eventsDropped prometheus.Counter

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	handoffTotal    *prometheus.CounterVec
	pendingHandoffs prometheus.Gauge

	stateTransitions *prometheus.CounterVec
	rejectedTransits prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tern_active_sessions",
					Help: "Current live session count.",
				},
			),
			connectedClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tern_connected_clients",
					Help: "Current websocket connection count.",
				},
			),
			eventsEmitted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tern_events_emitted_total",
					Help: "Total protocol events emitted by event type.",
				},
				[]string{"event"},
			),
			eventsDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tern_events_dropped_total",
					Help: "Total events dropped because no transport owned the session.",
				},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tern_agent_run_total",
					Help: "Total agent runs by agent type and outcome.",
				},
				[]string{"agent", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tern_agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by agent type.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			handoffTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tern_handoff_total",
					Help: "Total handoffs by outcome.",
				},
				[]string{"status"},
			),
			pendingHandoffs: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tern_pending_handoffs",
					Help: "Handoffs awaiting approval.",
				},
			),
			stateTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tern_state_transitions_total",
					Help: "State machine transitions by resulting state.",
				},
				[]string{"state"},
			),
			rejectedTransits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tern_rejected_transitions_total",
					Help: "Transitions rejected by the state machine.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.connectedClients,
			m.eventsEmitted,
			m.eventsDropped,
			m.runTotal,
			m.runDuration,
			m.handoffTotal,
			m.pendingHandoffs,
			m.stateTransitions,
			m.rejectedTransits,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// SetActiveSessions records the current session count.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// SetConnectedClients records the current websocket connection count.
func SetConnectedClients(n int) {
	getMetrics().connectedClients.Set(float64(n))
}

// RecordEventEmitted counts one delivered protocol event.
func RecordEventEmitted(event string) {
	getMetrics().eventsEmitted.WithLabelValues(event).Inc()
}

// RecordEventDropped counts one event dropped for lack of a bound transport.
func RecordEventDropped() {
	getMetrics().eventsDropped.Inc()
}

// RecordAgentRun records one finished run and its duration.
func RecordAgentRun(agentType string, d time.Duration, status string) {
	m := getMetrics()
	m.runTotal.WithLabelValues(agentType, status).Inc()
	m.runDuration.WithLabelValues(agentType).Observe(d.Seconds())
}

// RecordHandoff counts one handoff by outcome.
func RecordHandoff(status string) {
	getMetrics().handoffTotal.WithLabelValues(status).Inc()
}

// SetPendingHandoffs records the number of handoffs awaiting approval.
func SetPendingHandoffs(n int) {
	getMetrics().pendingHandoffs.Set(float64(n))
}

// RecordStateTransition counts one accepted transition.
func RecordStateTransition(state string) {
	getMetrics().stateTransitions.WithLabelValues(state).Inc()
}

// RecordRejectedTransition counts one rejected transition.
func RecordRejectedTransition() {
	getMetrics().rejectedTransits.Inc()
}
