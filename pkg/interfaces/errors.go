package interfaces

import "errors"

// Shared collaborator errors. Implementations return these sentinels so
// callers can branch without knowing the backing store.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTemplateNotFound     = errors.New("program template not found")
)
