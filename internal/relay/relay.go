// Package relay validates, persists and fans out conversation messages.
// It is the one place the persistent store is consulted synchronously on
// the hot path; everything after a successful persist is either broadcast
// or a contained best-effort side effect.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"coachline/internal/escalate"
	"coachline/internal/logging"
	"coachline/internal/metrics"
	"coachline/internal/room"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

// previewLen bounds the message excerpt passed to the alert channel.
const previewLen = 140

// Relay implements the send/typing/acknowledge paths.
type Relay struct {
	store     interfaces.Store
	rooms     *room.Router
	escalator *escalate.Escalator

	historyLimit int
	perMinute    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRelay wires the relay. messagesPerMinute caps each user's send rate;
// historyLimit bounds the replay served on conversation join.
func NewRelay(store interfaces.Store, rooms *room.Router, escalator *escalate.Escalator, messagesPerMinute, historyLimit int) *Relay {
	return &Relay{
		store:        store,
		rooms:        rooms,
		escalator:    escalator,
		historyLimit: historyLimit,
		perMinute:    messagesPerMinute,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// Send persists and broadcasts a message.
//
// Persistence failure aborts the send: no broadcast, no escalation, and
// the caller receives the error. The post-persist escalation arm is a
// contained side effect that can never fail the send.
func (r *Relay) Send(ctx context.Context, sender interfaces.Conn, roomID, content string) (*types.Message, error) {
	conversationID, ok := types.ParseConversationRoom(roomID)
	if !ok {
		return nil, ErrNotConversationRoom
	}
	if err := types.ValidateContent(content); err != nil {
		return nil, err
	}

	member, err := r.store.IsParticipant(ctx, conversationID, sender.UserID())
	if err != nil {
		return nil, fmt.Errorf("participant lookup failed: %w", err)
	}
	if !member {
		return nil, ErrNotParticipant
	}

	if !r.allow(sender.UserID()) {
		return nil, ErrRateLimited
	}

	identity := types.Identity{
		UserID:      sender.UserID(),
		Role:        sender.Role(),
		DisplayName: sender.DisplayName(),
	}
	msg, err := r.store.InsertMessage(ctx, conversationID, identity, content)
	if err != nil {
		return nil, fmt.Errorf("message persistence failed: %w", err)
	}

	if err := r.store.TouchConversation(ctx, conversationID); err != nil {
		logging.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to touch conversation")
	}

	// All room members receive the message, including every one of the
	// sender's own connections, so the sender's other devices see it.
	r.rooms.Broadcast(roomID, types.EventNewMessage, msg)
	metrics.MessagesTotal.Inc()

	r.armEscalation(ctx, conversationID, msg)
	return msg, nil
}

// DeliverSystemMessage persists and broadcasts a message produced by the
// platform itself (scheduled program content) into a conversation,
// bypassing participant and rate checks that only apply to live senders.
func (r *Relay) DeliverSystemMessage(ctx context.Context, conversationID string, sender types.Identity, content string) (*types.Message, error) {
	if err := types.ValidateContent(content); err != nil {
		return nil, err
	}
	msg, err := r.store.InsertMessage(ctx, conversationID, sender, content)
	if err != nil {
		return nil, fmt.Errorf("message persistence failed: %w", err)
	}
	if err := r.store.TouchConversation(ctx, conversationID); err != nil {
		logging.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to touch conversation")
	}
	r.rooms.Broadcast(types.ConversationRoom(conversationID), types.EventNewMessage, msg)
	metrics.MessagesTotal.Inc()
	return msg, nil
}

// armEscalation arms the per-message timer for the conversation
// counterpart. Presence alone cannot prove the recipient saw the message
// (online but viewing a different screen), so the timer is always armed
// and the delivery acknowledgment cancels it.
func (r *Relay) armEscalation(ctx context.Context, conversationID string, msg *types.Message) {
	participants, err := r.store.Participants(ctx, conversationID)
	if err != nil {
		logging.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to resolve escalation recipient")
		return
	}
	for _, p := range participants {
		if p.UserID == msg.SenderID {
			continue
		}
		alert := types.EscalationContext{
			MessageID:      msg.ID,
			ConversationID: conversationID,
			SenderName:     msg.SenderName,
			Preview:        preview(msg.Content),
			SentAt:         msg.CreatedAt,
		}
		if err := r.escalator.Arm(msg.ID, p, alert); err != nil {
			logging.Warn().Err(err).Str("message_id", msg.ID).Msg("escalation not armed")
		}
		// Direct conversations have a single counterpart; one timer per
		// message id.
		return
	}
}

// Typing broadcasts a typing indicator to the room, excluding the sender's
// own connection. Fire and forget: no persistence, no escalation, and a
// lost event is an accepted failure mode.
func (r *Relay) Typing(ctx context.Context, sender interfaces.Conn, roomID string, active bool) error {
	conversationID, ok := types.ParseConversationRoom(roomID)
	if !ok {
		return ErrNotConversationRoom
	}
	member, err := r.store.IsParticipant(ctx, conversationID, sender.UserID())
	if err != nil {
		return fmt.Errorf("participant lookup failed: %w", err)
	}
	if !member {
		return ErrNotParticipant
	}

	r.rooms.Broadcast(roomID, types.EventUserTyping, types.TypingPayload{
		RoomID:      roomID,
		UserID:      sender.UserID(),
		DisplayName: sender.DisplayName(),
		Active:      active,
	}, sender.ID())
	return nil
}

// Acknowledge cancels any pending escalation for the message and tells
// the room about the status change. Acknowledging an already-fired or
// unknown escalation is a no-op on the timer but the status broadcast
// still goes out.
func (r *Relay) Acknowledge(ctx context.Context, sender interfaces.Conn, roomID, messageID, status string) error {
	if status != types.StatusDelivered && status != types.StatusViewed {
		return ErrInvalidStatus
	}
	conversationID, ok := types.ParseConversationRoom(roomID)
	if !ok {
		return ErrNotConversationRoom
	}
	member, err := r.store.IsParticipant(ctx, conversationID, sender.UserID())
	if err != nil {
		return fmt.Errorf("participant lookup failed: %w", err)
	}
	if !member {
		return ErrNotParticipant
	}

	r.escalator.Cancel(messageID)
	r.rooms.Broadcast(roomID, types.EventMessageStatus, types.MessageStatus{
		MessageID: messageID,
		UserID:    sender.UserID(),
		Status:    status,
	})
	return nil
}

// Authorize reports whether the connection may join the room. Notification
// rooms admit only their owner; conversation rooms require participation
// per the store.
func (r *Relay) Authorize(ctx context.Context, conn interfaces.Conn, roomID string) error {
	if types.IsNotificationRoom(roomID) {
		if roomID != types.NotificationRoom(conn.UserID()) {
			return ErrNotParticipant
		}
		return nil
	}
	conversationID, ok := types.ParseConversationRoom(roomID)
	if !ok {
		return ErrNotConversationRoom
	}
	member, err := r.store.IsParticipant(ctx, conversationID, conn.UserID())
	if err != nil {
		return fmt.Errorf("participant lookup failed: %w", err)
	}
	if !member {
		return ErrNotParticipant
	}
	return nil
}

// History returns the bounded recent-message replay for a conversation
// room, oldest first.
func (r *Relay) History(ctx context.Context, roomID string) ([]*types.Message, error) {
	conversationID, ok := types.ParseConversationRoom(roomID)
	if !ok {
		return nil, ErrNotConversationRoom
	}
	return r.store.RecentMessages(ctx, conversationID, r.historyLimit)
}

func (r *Relay) allow(userID string) bool {
	r.mu.Lock()
	limiter, exists := r.limiters[userID]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMinute)), r.perMinute)
		r.limiters[userID] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

func preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	cut := previewLen
	// Back off to a rune boundary so the excerpt is valid UTF-8.
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
