package meeting

import (
	"errors"
	"fmt"
)

var (
	ErrNotJoined = errors.New("not in a room")
	ErrRoomLeft  = errors.New("room session has ended")
	ErrNotHost   = errors.New("only the host can do this")
)

// Error describes a failed session operation.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
