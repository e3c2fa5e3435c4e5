package negotiate

import (
	"errors"
	"fmt"
)

var (
	ErrPeerDisconnected   = errors.New("peer disconnected")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrUnexpectedSignal   = errors.New("unexpected signal")
)

// CallError wraps a failure with the operation that produced it.
type CallError struct {
	Op      string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *CallError {
	return &CallError{Op: op, Err: err, Details: details}
}
