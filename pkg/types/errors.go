package types

import "errors"

var (
	ErrInvalidID       = errors.New("id must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidRole     = errors.New("invalid role")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
)
