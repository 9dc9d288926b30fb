package progress

import "errors"

var (
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("progress task not found")

	// ErrTaskNotTerminal is returned when deleting a task that is still running.
	ErrTaskNotTerminal = errors.New("progress task still running")
)
