package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced at the boundary. Callers match them with errors.Is.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	ErrUpstreamTimeout  = errors.New("upstream call timed out")
	ErrQueueFull        = errors.New("analysis queue full")
	ErrInvalidInput     = errors.New("invalid input")
	ErrWrongKind        = errors.New("session is of a different kind")
)

// ErrorCode is the stable identifier written in error payloads.
type ErrorCode string

const (
	CodeSessionNotFound  ErrorCode = "SessionNotFound"
	CodeSessionClosed    ErrorCode = "SessionClosed"
	CodeCapacityExceeded ErrorCode = "CapacityExceeded"
	CodeUpstreamTimeout  ErrorCode = "UpstreamTimeout"
	CodeQueueFull        ErrorCode = "QueueFull"
	CodeInvalidRequest   ErrorCode = "InvalidRequest"
	CodeInternal         ErrorCode = "Internal"
)

// SessionError carries the session and operation an error happened in.
//
//	err := domain.NewSessionError("join", id, domain.ErrSessionClosed)
//	errors.Is(err, domain.ErrSessionClosed) // true
type SessionError struct {
	Op        string
	SessionID SessionID
	Err       error
}

func NewSessionError(op string, id SessionID, err error) *SessionError {
	return &SessionError{Op: op, SessionID: id, Err: err}
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s [session=%s]: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Code classifies any error into the boundary taxonomy.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrWrongKind):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionClosed):
		return CodeSessionClosed
	case errors.Is(err, ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, ErrUpstreamTimeout):
		return CodeUpstreamTimeout
	case errors.Is(err, ErrQueueFull):
		return CodeQueueFull
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
