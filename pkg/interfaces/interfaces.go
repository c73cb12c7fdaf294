// Package interfaces defines the contracts between the realtime core and
// its collaborators: the persistent store, the token verifier, the
// external alert channel, the task collaborator, and the live connection
// abstraction shared by the presence registry and room router.
package interfaces

import (
	"context"

	"coachline/pkg/types"
)

// Conn is a live, authenticated connection. Implementations must make
// Send safe for concurrent use; identity accessors are immutable after
// the handshake.
type Conn interface {
	ID() string
	UserID() string
	Role() string
	DisplayName() string
	Send(event string, payload any) error
	Close() error
}

// Store is the persistent store consulted by the relay and the program
// delivery engine. Implementations own ids and server timestamps for
// inserted messages.
type Store interface {
	// IsParticipant reports whether userID belongs to the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// Participants returns the conversation's members.
	Participants(ctx context.Context, conversationID string) ([]types.Participant, error)

	// InsertMessage persists a message and returns it with a server-side
	// id and timestamp assigned.
	InsertMessage(ctx context.Context, conversationID string, sender types.Identity, content string) (*types.Message, error)

	// TouchConversation bumps the conversation's last-activity timestamp.
	TouchConversation(ctx context.Context, conversationID string) error

	// RecentMessages returns up to limit messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*types.Message, error)

	// ActiveEnrollments returns enrollments eligible for scheduled delivery.
	ActiveEnrollments(ctx context.Context) ([]*types.Enrollment, error)

	// ElementsFor returns the template elements scheduled at the given
	// 1-indexed (week, day-of-week) coordinate.
	ElementsFor(ctx context.Context, templateID string, week, dayOfWeek int) ([]*types.TemplateElement, error)

	// ClaimDelivery conditionally records that an element was delivered
	// for a program day. It returns true when this call inserted the
	// record and false when the record already existed; false is the
	// expected already-delivered signal, not an error.
	ClaimDelivery(ctx context.Context, enrollmentID, elementID string, programDay int) (bool, error)

	Close() error
}

// TokenVerifier validates a bearer token presented at connection time.
type TokenVerifier interface {
	Verify(token string) (types.Identity, error)
}

// AlertChannel delivers an escalated out-of-band notification, typically
// transactional email. Failures are logged and swallowed by callers.
type AlertChannel interface {
	SendEscalatedAlert(ctx context.Context, recipient types.Participant, alert types.EscalationContext) error
}

// TaskCreator requests creation of an external task record for task-kind
// program elements. Best effort; never rolled back.
type TaskCreator interface {
	CreateTask(ctx context.Context, clientID, coachID string, spec types.TaskSpec) (*types.Task, error)
}
