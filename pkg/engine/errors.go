package engine

import (
	"errors"
	"fmt"
)

// Caller errors, rejected before any network call.
var (
	ErrEmptyMessage = errors.New("message must not be empty")
	ErrMissingUser  = errors.New("user identity required")
)

// CodeConversationNotFound is the engine's application error code for a
// conversation_id it no longer recognizes.
const CodeConversationNotFound = "conversation_not_found"

// TransportError is a network-level failure reaching the engine: DNS,
// connection refused, TLS, timeout. A retry may help; the conversation
// state itself is not implicated.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("engine transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a structured error reply from the engine itself.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("engine error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("engine error %d: %s", e.Status, e.Message)
}

// IsConversationNotFound reports whether err is the engine telling us the
// referenced conversation is gone. This is the one error that triggers the
// stale-id recovery path instead of plain propagation.
func IsConversationNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeConversationNotFound
}

// IsTransport reports whether err was a network-level failure rather than an
// engine-reported application error.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
