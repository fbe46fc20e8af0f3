package session

import "errors"

var (
	// ErrNotFound is returned when the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrNilContent is returned when a message carries a nil content part.
	ErrNilContent = errors.New("message has nil content part")
)
