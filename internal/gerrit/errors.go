package gerrit

import (
	"errors"
	"fmt"
)

// ConnectionError is an SSH connect, auth, or transport failure. Callers may retry it.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gerrit connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a response that does not match the expected shape. Never retried.
type ProtocolError struct {
	// Field is the JSON path of a missing or invalid field, empty for stream-level problems
	Field  string
	Line   int
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "gerrit protocol error"
	if e.Line > 0 {
		msg += fmt.Sprintf(" at line %d", e.Line)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func missingField(path string) *ProtocolError {
	return &ProtocolError{Field: path, Reason: "required field missing"}
}

// IsConnectionError reports whether err is (or wraps) a *ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsProtocolError reports whether err is (or wraps) a *ProtocolError
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
