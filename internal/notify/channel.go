// Package notify provides alert channel implementations and decorators.
// The real transactional-email provider lives outside this subsystem;
// LogChannel stands in where none is configured, and BreakerChannel wraps
// any channel with a circuit breaker so a failing provider trips open
// instead of being hammered on every escalation.
package notify

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"coachline/internal/logging"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

// LogChannel records escalated alerts in the operational log. Used when
// no external provider is configured; escalations remain visible to
// operators without any delivery side effect.
type LogChannel struct{}

func (LogChannel) SendEscalatedAlert(_ context.Context, recipient types.Participant, alert types.EscalationContext) error {
	logging.Info().
		Str("recipient", recipient.UserID).
		Str("message_id", alert.MessageID).
		Str("conversation_id", alert.ConversationID).
		Str("sender", alert.SenderName).
		Msg("escalated alert")
	return nil
}

// BreakerChannel wraps an AlertChannel with a circuit breaker. Escalation
// failures are swallowed by the escalator either way; the breaker only
// stops repeated slow calls into a dead provider.
type BreakerChannel struct {
	inner   interfaces.AlertChannel
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerChannel wraps inner with a breaker that opens after five
// consecutive failures and probes again after a minute.
func NewBreakerChannel(name string, inner interfaces.AlertChannel) *BreakerChannel {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("alert channel breaker state changed")
		},
	}
	return &BreakerChannel{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

func (c *BreakerChannel) SendEscalatedAlert(ctx context.Context, recipient types.Participant, alert types.EscalationContext) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.inner.SendEscalatedAlert(ctx, recipient, alert)
	})
	return err
}

// LogTaskCreator stands in for the external task collaborator. Task
// creation is best effort; a human can create the task manually when the
// collaborator is unavailable.
type LogTaskCreator struct{}

func (LogTaskCreator) CreateTask(_ context.Context, clientID, coachID string, spec types.TaskSpec) (*types.Task, error) {
	task := &types.Task{
		ID:        clientID + ":" + spec.Title,
		ClientID:  clientID,
		CoachID:   coachID,
		Title:     spec.Title,
		CreatedAt: time.Now(),
	}
	logging.Info().
		Str("client_id", clientID).
		Str("coach_id", coachID).
		Str("title", spec.Title).
		Msg("task recorded")
	return task, nil
}
