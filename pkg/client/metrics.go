package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one session. A nil *Metrics
// records nothing.
type Metrics struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	activeConns      *prometheus.GaugeVec
	rateDeferral     *prometheus.HistogramVec
	rateStateChanges *prometheus.CounterVec
	messagesSent     prometheus.Counter
	messagesReceived *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	transferBytes    *prometheus.CounterVec
	transfers        *prometheus.CounterVec
	ssiTransactions  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		framesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_frames_sent_total",
				Help: "FLAP frames written, by service",
			},
			[]string{"service"},
		),
		framesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_frames_received_total",
				Help: "FLAP frames read, by service",
			},
			[]string{"service"},
		),
		bytesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_bytes_sent_total",
				Help: "Bytes written on service connections",
			},
			[]string{"service"},
		),
		bytesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_bytes_received_total",
				Help: "Bytes read on service connections",
			},
			[]string{"service"},
		),
		activeConns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oscar_active_connections",
				Help: "Open connections, by service",
			},
			[]string{"service"},
		),
		rateDeferral: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oscar_rate_deferral_seconds",
				Help:    "How long outbound SNACs waited for their rate class",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"service"},
		),
		rateStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_rate_state_changes_total",
				Help: "Rate class state changes announced by the server, by new state",
			},
			[]string{"state"},
		),
		messagesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oscar_messages_sent_total",
				Help: "Instant messages sent",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_messages_received_total",
				Help: "Instant messages received, by channel",
			},
			[]string{"channel"},
		),
		deliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oscar_delivery_failures_total",
				Help: "Outgoing messages the server refused",
			},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_transfer_bytes_total",
				Help: "File transfer payload bytes, by direction",
			},
			[]string{"direction"},
		),
		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_transfers_total",
				Help: "Finished rendezvous sessions, by outcome",
			},
			[]string{"outcome"},
		),
		ssiTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oscar_ssi_transactions_total",
				Help: "Contact-list transactions acknowledged, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) frameSent(svc ServiceType, n int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(svc.String()).Inc()
	m.bytesSent.WithLabelValues(svc.String()).Add(float64(n))
}

func (m *Metrics) frameReceived(svc ServiceType, n int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(svc.String()).Inc()
	m.bytesReceived.WithLabelValues(svc.String()).Add(float64(n))
}

func (m *Metrics) connOpened(svc ServiceType) {
	if m == nil {
		return
	}
	m.activeConns.WithLabelValues(svc.String()).Inc()
}

func (m *Metrics) connClosed(svc ServiceType) {
	if m == nil {
		return
	}
	m.activeConns.WithLabelValues(svc.String()).Dec()
}

func (m *Metrics) deferred(svc ServiceType, d time.Duration) {
	if m == nil {
		return
	}
	m.rateDeferral.WithLabelValues(svc.String()).Observe(d.Seconds())
}

func (m *Metrics) rateState(state string) {
	if m == nil {
		return
	}
	m.rateStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) messageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) messageReceived(channel string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(channel).Inc()
}

func (m *Metrics) deliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) transferred(direction string, n uint64) {
	if m == nil {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) transferFinished(outcome string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ssiAcked(outcome string) {
	if m == nil {
		return
	}
	m.ssiTransactions.WithLabelValues(outcome).Inc()
}
