package types

import (
	"strings"
	"time"
)

// Roles recognized on a verified connection.
const (
	RoleClient = "client"
	RoleCoach  = "coach"
	RoleAdmin  = "admin"
)

// Room identifier prefixes. Conversation rooms and notification rooms are
// disjoint namespaces: a connection keeps its notification room for the
// lifetime of the session while conversation membership changes as the
// user navigates between conversations.
const (
	conversationRoomPrefix = "conv:"
	notificationRoomPrefix = "notify:"
)

// ConversationRoom returns the room id for a conversation.
func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

// NotificationRoom returns the per-user out-of-band alert room id.
func NotificationRoom(userID string) string {
	return notificationRoomPrefix + userID
}

// ParseConversationRoom extracts the conversation id from a room id.
// The second return is false for notification rooms and malformed ids.
func ParseConversationRoom(roomID string) (string, bool) {
	id, ok := strings.CutPrefix(roomID, conversationRoomPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IsNotificationRoom reports whether roomID names a per-user alert room.
func IsNotificationRoom(roomID string) bool {
	id, ok := strings.CutPrefix(roomID, notificationRoomPrefix)
	return ok && id != ""
}

// Identity is the result of a successful connection handshake.
type Identity struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

// PresenceEntry is the live status of a single online user. There is at
// most one entry per user; with multiple simultaneous connections the most
// recently updated connection id wins for display purposes.
type PresenceEntry struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	ConnectionID string    `json:"connection_id"`
	LastSeen     time.Time `json:"last_seen"`
}

// Message is a persisted conversation message as broadcast to room members.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderRole     string    `json:"sender_role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Participant is a member of a conversation.
type Participant struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

// Message acknowledgment statuses.
const (
	StatusDelivered = "delivered"
	StatusViewed    = "viewed"
)

// MessageStatus is broadcast to a conversation room when a recipient
// acknowledges a message.
type MessageStatus struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
}

// EscalationContext carries message context to the external alert channel
// when an unacknowledged message escalates.
type EscalationContext struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderName     string    `json:"sender_name"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

// Template element kinds.
const (
	ElementKindMessage = "message"
	ElementKindTask    = "task"
)

// TemplateElement is one piece of scheduled program content, addressed by
// a (week, day-of-week) coordinate within its template. Week and DayOfWeek
// are 1-indexed.
type TemplateElement struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Week       int    `json:"week"`
	DayOfWeek  int    `json:"day_of_week"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// Enrollment ties a client to a program template and to the coach-client
// conversation that receives the scheduled content. Read-only to this
// subsystem.
type Enrollment struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id"`
	CoachID        string    `json:"coach_id"`
	TemplateID     string    `json:"template_id"`
	ConversationID string    `json:"conversation_id"`
	StartDate      time.Time `json:"start_date"`
	Active         bool      `json:"active"`
}

// TaskSpec describes a task record requested from the external task
// collaborator for a task-kind template element.
type TaskSpec struct {
	Title string `json:"title"`
	Notes string `json:"notes"`
}

// Task is the record returned by the task collaborator.
type Task struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	CoachID   string    `json:"coach_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
