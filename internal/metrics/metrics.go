package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveConnections tracks registered websocket connections by role.
	LiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pressroom_live_connections",
			Help: "Websocket connections currently registered in presence, by role",
		},
		[]string{"role"},
	)

	// Handshakes counts websocket handshakes by result.
	Handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressroom_handshakes_total",
			Help: "Websocket handshakes by result",
		},
		[]string{"result"},
	)

	// InboundEvents counts inbound socket events by type and result.
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressroom_inbound_events_total",
			Help: "Inbound websocket events by type and result code",
		},
		[]string{"type", "result"},
	)

	// Pushes counts per-connection push attempts by event and outcome
	// (delivered, dropped).
	Pushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressroom_pushes_total",
			Help: "Realtime pushes to individual connections by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	// Notifications counts dispatched notifications by whether the
	// recipient was connected to this node (local_online, local_offline,
	// unpushed). Recipients on other nodes count as local_offline.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressroom_notifications_total",
			Help: "Dispatched notifications by recipient presence on this node",
		},
		[]string{"state"},
	)

	// BusPublishes counts envelopes published to the cross-node bus.
	BusPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressroom_bus_publishes_total",
			Help: "Envelopes published to the redis bus by result",
		},
		[]string{"result"},
	)
)
