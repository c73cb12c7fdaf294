package relay

import "errors"

var (
	ErrNotConversationRoom = errors.New("room is not a conversation room")
	ErrNotParticipant      = errors.New("user is not a participant of this room")
	ErrRateLimited         = errors.New("message rate limit exceeded")
	ErrInvalidStatus       = errors.New("invalid acknowledgment status")
)
