package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalingMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_messages_total",
		Help: "Signaling frames received from clients, by logical event and vocabulary",
	}, []string{"event", "protocol"})

	SignalingDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_deliveries_total",
		Help: "Connections an outbound event was written to",
	}, []string{"event"})

	SignalingUnreachable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_unreachable_total",
		Help: "Events dropped because the target had no live connection",
	}, []string{"event"})

	SignalingRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_rejected_total",
		Help: "Inbound frames dropped as malformed",
	}, []string{"reason"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_connections",
		Help: "Open signaling connections",
	})

	AuthRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_rejections_total",
		Help: "Connection attempts rejected for a missing or invalid token",
	})

	PresenceStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_store_errors_total",
		Help: "Presence store operations that failed and were treated as absent",
	}, []string{"op"})

	CallNegotiationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_negotiation_failures_total",
		Help: "Client negotiation steps that failed, by step",
	}, []string{"step"})
)
