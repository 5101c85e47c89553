package observability

import "github.com/prometheus/client_golang/prometheus"

// Realtime collectors. Labels are restricted to bounded sets (namespace,
// event name, outcome kind) to keep cardinality flat regardless of tenants.
var (
	// WSConnections gauges open socket connections per namespace.
	WSConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open realtime socket connections.",
		},
		[]string{"namespace"},
	)

	// WSEvents counts inbound socket events by namespace, event and outcome.
	WSEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Inbound realtime events handled.",
		},
		[]string{"namespace", "event", "outcome"},
	)

	// MessagesPersisted counts newly stored chat messages.
	MessagesPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_persisted_total",
			Help: "Chat messages written to the store.",
		},
	)

	// MessagesDuplicate counts sends answered by the idempotent replay path.
	MessagesDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_duplicate_total",
			Help: "Sends resolved as duplicates of an existing clientMessageId.",
		},
	)

	// CallSignals counts call signaling operations by event and outcome.
	CallSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_signals_total",
			Help: "Call signaling events processed.",
		},
		[]string{"event", "outcome"},
	)

	// PresenceBroadcasts counts presence:update emissions that passed coalescing.
	PresenceBroadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_broadcasts_total",
			Help: "Presence updates broadcast to operator rooms.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WSConnections,
		WSEvents,
		MessagesPersisted,
		MessagesDuplicate,
		CallSignals,
		PresenceBroadcasts,
	)
}
