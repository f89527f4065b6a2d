package domain

import "errors"

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrNotRegistered       = errors.New("connection not registered")
	ErrEmptyContent        = errors.New("message content is empty")
	ErrContentTooLong      = errors.New("message content too long")
	ErrNotJoined           = errors.New("connection has not joined the room")
	ErrPersistence         = errors.New("message persistence failed")

	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInvalidCursor  = errors.New("invalid cursor")
)

// Reason returns the wire-level reason code sent in error events.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateConnection):
		return "duplicate_connection"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrContentTooLong):
		return "content_too_long"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCursor):
		return "invalid_cursor"
	default:
		return "internal_error"
	}
}
