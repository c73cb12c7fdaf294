package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidPayload   = errors.New("failed to encode event payload")
	ErrWriteTimeout     = errors.New("write timed out")
)
