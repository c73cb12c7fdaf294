package types

import "time"

// Client-to-server event names.
const (
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventMessageDelivered = "message_delivered"
	EventMessageViewed    = "message_viewed"
)

// Server-to-client event names.
const (
	EventNewMessage    = "new_message"
	EventUserTyping    = "user_typing"
	EventMessageStatus = "message_status"
	EventOnlineUsers   = "online_users"
	EventUserOnline    = "user_online"
	EventUserOffline   = "user_offline"
	EventRoomHistory   = "room_history"
	EventError         = "error"
)

// ClientEvent is the envelope decoded from every inbound frame. Fields
// beyond Event are optional and event-specific.
type ClientEvent struct {
	Event     string `json:"event"`
	RoomID    string `json:"room_id,omitempty"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ServerEvent is the envelope written for every outbound frame.
type ServerEvent struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingPayload is the payload of a user_typing broadcast.
type TypingPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

// PresencePayload is the payload of user_online / user_offline broadcasts.
type PresencePayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	RoomID      string `json:"room_id,omitempty"`
}

// OnlineUsersPayload is the global presence snapshot broadcast on every
// online/offline transition and served by the presence API.
type OnlineUsersPayload struct {
	Count int             `json:"count"`
	Users []PresenceEntry `json:"users"`
}

// ErrorPayload is sent to a single connection when a request fails.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
