// Package escalate promotes unacknowledged direct messages into external
// notifications after a fixed delay. Each message id owns one timer and a
// three-state machine, Armed -> {Canceled, Fired}; the transition out of
// Armed is a compare-and-swap so cancellation and firing cannot both win
// even when they race.
package escalate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"coachline/internal/logging"
	"coachline/internal/metrics"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

// Timer states.
const (
	stateArmed int32 = iota
	stateCanceled
	stateFired
)

type pending struct {
	state     atomic.Int32
	timer     *time.Timer
	recipient types.Participant
	alert     types.EscalationContext
}

// Escalator schedules and cancels per-message escalation timers. The
// external channel call happens on the timer goroutine, never on the
// relay hot path, and its failures are logged and swallowed.
type Escalator struct {
	mu      sync.Mutex
	pending map[string]*pending
	channel interfaces.AlertChannel
	delay   time.Duration

	// callTimeout bounds the external channel call on fire.
	callTimeout time.Duration
}

// NewEscalator creates an escalator delivering through channel after
// delay.
func NewEscalator(channel interfaces.AlertChannel, delay time.Duration) *Escalator {
	return &Escalator{
		pending:     make(map[string]*pending),
		channel:     channel,
		delay:       delay,
		callTimeout: 30 * time.Second,
	}
}

// Arm schedules a one-shot escalation for the message. At most one timer
// may exist per message id: re-arming an Armed id returns ErrAlreadyArmed.
func (e *Escalator) Arm(messageID string, recipient types.Participant, alert types.EscalationContext) error {
	e.mu.Lock()
	if _, exists := e.pending[messageID]; exists {
		e.mu.Unlock()
		return ErrAlreadyArmed
	}

	p := &pending{recipient: recipient, alert: alert}
	p.timer = time.AfterFunc(e.delay, func() { e.fire(messageID, p) })
	e.pending[messageID] = p
	e.mu.Unlock()

	metrics.EscalationsTotal.WithLabelValues(metrics.OutcomeArmed).Inc()
	logging.Debug().
		Str("message_id", messageID).
		Str("recipient", recipient.UserID).
		Dur("delay", e.delay).
		Msg("escalation armed")
	return nil
}

// Cancel transitions the timer out of Armed if an acknowledgment arrived
// in time. Canceling an unknown or already-fired message id is a no-op:
// the delivery acknowledgment is still valid, there is just nothing left
// to stop.
func (e *Escalator) Cancel(messageID string) {
	e.mu.Lock()
	p, exists := e.pending[messageID]
	if exists {
		delete(e.pending, messageID)
	}
	e.mu.Unlock()

	if !exists {
		return
	}
	// The claim: only one of Cancel and fire wins this swap. Losing the
	// race means the callback is already past its own claim and the
	// external side effect will (or did) happen.
	if !p.state.CompareAndSwap(stateArmed, stateCanceled) {
		return
	}
	p.timer.Stop()

	metrics.EscalationsTotal.WithLabelValues(metrics.OutcomeCanceled).Inc()
	logging.Debug().Str("message_id", messageID).Msg("escalation canceled")
}

// fire runs on the timer goroutine. It must re-check cancellation state
// before the external side effect because timer firing and Cancel can
// overlap.
func (e *Escalator) fire(messageID string, p *pending) {
	if !p.state.CompareAndSwap(stateArmed, stateFired) {
		return
	}

	e.mu.Lock()
	// Only evict our own entry; the id may have been re-armed since.
	if e.pending[messageID] == p {
		delete(e.pending, messageID)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()

	if err := e.channel.SendEscalatedAlert(ctx, p.recipient, p.alert); err != nil {
		// Never crash the relay and never retry: the recipient may
		// simply check the app later.
		metrics.EscalationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		logging.Error().
			Err(err).
			Str("message_id", messageID).
			Str("recipient", p.recipient.UserID).
			Msg("escalation channel failed")
		return
	}

	metrics.EscalationsTotal.WithLabelValues(metrics.OutcomeFired).Inc()
	logging.Info().
		Str("message_id", messageID).
		Str("recipient", p.recipient.UserID).
		Msg("escalation fired")
}

// Pending returns the number of armed timers.
func (e *Escalator) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Stop cancels every armed timer. Pending escalations are in-memory only
// and do not survive restart.
func (e *Escalator) Stop() {
	e.mu.Lock()
	armed := e.pending
	e.pending = make(map[string]*pending)
	e.mu.Unlock()

	for _, p := range armed {
		if p.state.CompareAndSwap(stateArmed, stateCanceled) {
			p.timer.Stop()
		}
	}
}
