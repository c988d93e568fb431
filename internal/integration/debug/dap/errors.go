package dap

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterUnavailable is returned when the channel to the adapter
	// cannot be established.
	ErrAdapterUnavailable = errors.New("debug adapter unavailable")

	// ErrSessionTerminated is returned to waiters released by Stop, Dispose
	// or loss of the channel.
	ErrSessionTerminated = errors.New("debug session terminated")

	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("timed out waiting for debug adapter")

	// ErrDisposed is returned by operations on a disposed session.
	ErrDisposed = errors.New("debug session disposed")
)

// ProtocolViolationError reports a message that does not have the shape the
// protocol requires.
type ProtocolViolationError struct {
	Command string
	Reason  string
}

func (e *ProtocolViolationError) Error() string {
	if e.Command == "" {
		return "protocol violation: " + e.Reason
	}
	return fmt.Sprintf("protocol violation in %s reply: %s", e.Command, e.Reason)
}

// RequestError is returned by typed helpers when the adapter replied with
// success=false.
type RequestError struct {
	Command string
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed", e.Command)
	}
	return fmt.Sprintf("%s request failed: %s", e.Command, e.Message)
}

// IsRequestError reports whether err is a RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
