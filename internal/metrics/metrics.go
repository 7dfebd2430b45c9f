package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters exported by the admission and broadcast core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BidsTotal         *prometheus.CounterVec
	EventsStaged      *prometheus.CounterVec
	OutboxAcks        prometheus.Counter
	OutboxNacks       prometheus.Counter
	OutboxAlerts      prometheus.Counter
	DeliveryFailures  prometheus.Counter
	DuplicateEvents   prometheus.Counter
	RemoteEvents      prometheus.Counter
	ActiveSessions    prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	UnstagedEvents    prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BidsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_bids_total",
				Help: "Total number of bids processed by outcome",
			},
			[]string{"outcome"},
		),
		EventsStaged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_events_staged_total",
				Help: "Total number of events staged in the outbox by type",
			},
			[]string{"type"},
		),
		OutboxAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_outbox_ack_total",
			Help: "Total number of acknowledged outbox items",
		}),
		OutboxNacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_outbox_nack_total",
			Help: "Total number of outbox items returned for retry",
		}),
		OutboxAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_outbox_alert_total",
			Help: "Total number of outbox items that exceeded the retry threshold",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_delivery_failures_total",
			Help: "Total number of events that could not be queued for a subscriber",
		}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_duplicate_events_total",
			Help: "Total number of events dropped by deduplication",
		}),
		RemoteEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_remote_events_total",
			Help: "Total number of events rebroadcast from peer instances",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_active_sessions",
			Help: "Number of connected websocket sessions",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_client_reconnect_attempts_total",
			Help: "Total number of client reconnect attempts",
		}),
		UnstagedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_unstaged_events",
			Help: "Number of committed events waiting in memory for the outbox to accept them",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BidsTotal,
			m.EventsStaged,
			m.OutboxAcks,
			m.OutboxNacks,
			m.OutboxAlerts,
			m.DeliveryFailures,
			m.DuplicateEvents,
			m.RemoteEvents,
			m.ActiveSessions,
			m.ReconnectAttempts,
			m.UnstagedEvents,
		)
	}
	return m
}

func (m *Metrics) Bid(outcome string) {
	if m == nil {
		return
	}
	m.BidsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Staged(eventType string) {
	if m == nil {
		return
	}
	m.EventsStaged.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Ack() {
	if m == nil {
		return
	}
	m.OutboxAcks.Inc()
}

func (m *Metrics) Nack() {
	if m == nil {
		return
	}
	m.OutboxNacks.Inc()
}

func (m *Metrics) Alert() {
	if m == nil {
		return
	}
	m.OutboxAlerts.Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.DuplicateEvents.Inc()
}

func (m *Metrics) Remote() {
	if m == nil {
		return
	}
	m.RemoteEvents.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) SetUnstaged(n int) {
	if m == nil {
		return
	}
	m.UnstagedEvents.Set(float64(n))
}
