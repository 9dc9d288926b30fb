package chatlog

import (
	"errors"
	"fmt"
)

var (
	// ErrTalkerNotFound is returned when neither a chat room nor a contact
	// matches the talker.
	ErrTalkerNotFound = errors.New("talker not found upstream")

	// ErrBaseURLRequired is returned when a client is built without a base URL.
	ErrBaseURLRequired = errors.New("chat log base URL required")
)

// StatusError reports a non-2xx response from the chat-log API.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chatlog %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}
