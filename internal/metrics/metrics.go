// Package metrics registers the prometheus collectors for the realtime
// core. Collectors are registered on the default registerer and exposed
// through the API server's /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Escalation outcomes for the escalations counter.
const (
	OutcomeArmed    = "armed"
	OutcomeCanceled = "canceled"
	OutcomeFired    = "fired"
	OutcomeFailed   = "failed"
)

var (
	// OnlineUsers tracks distinct online users.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachline_online_users",
		Help: "Number of distinct online users.",
	})

	// OpenConnections tracks live websocket connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachline_open_connections",
		Help: "Number of open websocket connections.",
	})

	// MessagesTotal counts messages accepted by the relay.
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachline_messages_total",
		Help: "Messages persisted and broadcast by the relay.",
	})

	// EscalationsTotal counts escalation state transitions by outcome.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachline_escalations_total",
		Help: "Escalation timer outcomes.",
	}, []string{"outcome"})

	// ProgramDeliveriesTotal counts delivered program elements.
	ProgramDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachline_program_deliveries_total",
		Help: "Program content elements delivered by the scheduled engine.",
	})
)
