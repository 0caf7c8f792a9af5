package metrics

import (
	"fmt"
	"net/http"

	"carealert/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carealert"

// Metrics holds client collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionState    *prometheus.GaugeVec
	ConnectAttempts    prometheus.Counter
	ReconnectsSched    prometheus.Counter
	FramesDropped      prometheus.Counter
	EventsDispatched   *prometheus.CounterVec
	HandlerPanics      *prometheus.CounterVec
	NotificationsFired prometheus.Counter
	PollsRun           prometheus.Counter
	PollsSkipped       prometheus.Counter
	LocksAcquired      prometheus.Counter
	PersistFailures    *prometheus.CounterVec
}

// New creates collectors and registers them on a private registry.
// Params: none.
// Returns: metrics set or registration error.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Realtime connection state (1 for the current state, 0 otherwise)",
	}, []string{"state"})
	m.ConnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Total number of realtime dial attempts",
	})
	m.ReconnectsSched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_scheduled_total",
		Help:      "Total number of scheduled automatic reconnections",
	})
	m.FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Total number of malformed inbound frames dropped",
	})
	m.EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dispatched_total",
		Help:      "Total number of events published per pool",
	}, []string{"pool"})
	m.HandlerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_panics_total",
		Help:      "Total number of recovered subscriber panics per pool",
	}, []string{"pool"})
	m.NotificationsFired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_fired_total",
		Help:      "Total number of local notifications raised for new alerts",
	})
	m.PollsRun = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_run_total",
		Help:      "Total number of fallback polls started",
	})
	m.PollsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_skipped_total",
		Help:      "Total number of fallback ticks skipped while a poll was in flight",
	})
	m.LocksAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "locks_acquired_total",
		Help:      "Total number of acknowledgment lockouts acquired",
	})
	m.PersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Total number of durable store write failures per key",
	}, []string{"key"})

	collectors := []prometheus.Collector{
		m.ConnectionState, m.ConnectAttempts, m.ReconnectsSched, m.FramesDropped,
		m.EventsDispatched, m.HandlerPanics, m.NotificationsFired, m.PollsRun,
		m.PollsSkipped, m.LocksAcquired, m.PersistFailures,
	}
	for _, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the private registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns promhttp handler for this metrics set.
// Params: none.
// Returns: HTTP handler (404 when metrics are disabled).
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetConnectionState marks state as current and clears every other state.
func (m *Metrics) SetConnectionState(state domain.ConnectionState) {
	if m == nil {
		return
	}
	for _, candidate := range domain.ConnectionStates() {
		value := 0.0
		if candidate == state {
			value = 1
		}
		m.ConnectionState.WithLabelValues(candidate.String()).Set(value)
	}
}

// IncConnectAttempt counts one dial attempt.
func (m *Metrics) IncConnectAttempt() {
	if m != nil {
		m.ConnectAttempts.Inc()
	}
}

// IncReconnectScheduled counts one scheduled reconnection.
func (m *Metrics) IncReconnectScheduled() {
	if m != nil {
		m.ReconnectsSched.Inc()
	}
}

// IncFrameDropped counts one malformed frame.
func (m *Metrics) IncFrameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

// IncDispatched counts one publish on pool.
func (m *Metrics) IncDispatched(pool string) {
	if m != nil {
		m.EventsDispatched.WithLabelValues(pool).Inc()
	}
}

// IncHandlerPanic counts one recovered handler panic on pool.
func (m *Metrics) IncHandlerPanic(pool string) {
	if m != nil {
		m.HandlerPanics.WithLabelValues(pool).Inc()
	}
}

// IncNotification counts one raised local notification.
func (m *Metrics) IncNotification() {
	if m != nil {
		m.NotificationsFired.Inc()
	}
}

// IncPollRun counts one started poll.
func (m *Metrics) IncPollRun() {
	if m != nil {
		m.PollsRun.Inc()
	}
}

// IncPollSkipped counts one skipped tick.
func (m *Metrics) IncPollSkipped() {
	if m != nil {
		m.PollsSkipped.Inc()
	}
}

// IncLockAcquired counts one acquired lockout.
func (m *Metrics) IncLockAcquired() {
	if m != nil {
		m.LocksAcquired.Inc()
	}
}

// IncPersistFailure counts one failed write of key.
func (m *Metrics) IncPersistFailure(key string) {
	if m != nil {
		m.PersistFailures.WithLabelValues(key).Inc()
	}
}
