package types

import "regexp"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxContentBytes bounds message content size on the wire and in the store.
const MaxContentBytes = 64 * 1024

// IsValidID reports whether s is usable as a user or conversation id:
// 1-64 characters, alphanumeric plus underscore and hyphen.
func IsValidID(s string) bool {
	if len(s) < 1 || len(s) > 64 {
		return false
	}
	return idPattern.MatchString(s)
}

// IsValidRole reports whether role is one of the recognized roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleClient, RoleCoach, RoleAdmin:
		return true
	default:
		return false
	}
}

// ValidateContent checks message content bounds.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}
