package auth

import (
	"errors"
	"fmt"

	"coachline/pkg/types"
)

var (
	ErrSecretTooShort   = errors.New("auth secret must be at least 32 bytes")
	ErrInvalidToken     = errors.New("authentication failed")
	ErrMissingSubject   = fmt.Errorf("token subject: %w", types.ErrInvalidID)
	ErrInvalidRoleClaim = fmt.Errorf("token role claim: %w", types.ErrInvalidRole)
)
