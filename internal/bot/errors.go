package bot

import (
	"errors"
	"fmt"

	"quotesbot/internal/domain"
)

// Replies sent for the error kinds a command can end with.
const (
	replyNotFound = "No such quotes found."
	replyGeneric  = "Error! Something went wrong while handling your command."
)

// ErrNotFound is returned when a query or identifier does not resolve to a
// quote.
var ErrNotFound = domain.ErrNotFound

// ErrUnauthorized is returned when a privileged command is invoked by a
// sender other than the administrator. It is never reported to the room.
var ErrUnauthorized = errors.New("sender is not the administrator")

// UsageError is returned when a command is missing its argument or the
// argument is malformed. Usage is sent to the room verbatim.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// UpstreamError wraps a repository or transport failure together with the
// reply shown to the room.
type UpstreamError struct {
	Op    string
	Reply string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func upstream(op, reply string, err error) error {
	return &UpstreamError{Op: op, Reply: reply, Err: err}
}
