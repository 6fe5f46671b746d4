package transport

import (
	"errors"
	"fmt"
)

// ErrConversationGone is returned when the backend no longer knows the
// conversation (404/410). It is terminal.
var ErrConversationGone = errors.New("conversation not found")

// TransportError wraps a network or connection failure. It is retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthorizationError is returned on 401/403. It is terminal.
type AuthorizationError struct {
	StatusCode int
	Message    string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unauthorized (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("unauthorized (HTTP %d): %s", e.StatusCode, e.Message)
}

// RejectedError is a message-level rejection by the backend. The user may
// retry.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.StatusCode == 0 {
		return "rejected: " + e.Message
	}
	return fmt.Sprintf("rejected (HTTP %d): %s", e.StatusCode, e.Message)
}

// ParseError is a malformed payload or frame. The payload is dropped.
type ParseError struct {
	Err    error
	Sample []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError keeps at most 256 bytes of the offending payload.
func NewParseError(err error, raw []byte) *ParseError {
	sample := raw
	if len(sample) > 256 {
		sample = sample[:256]
	}
	return &ParseError{Err: err, Sample: append([]byte(nil), sample...)}
}

// IsTerminal reports whether err means the conversation can no longer be
// synchronized without reloading the component.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthorizationError
	return errors.As(err, &authErr) || errors.Is(err, ErrConversationGone)
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// FromStatus classifies a non-2xx HTTP status. message is the backend's
// human readable reason, if any.
func FromStatus(code int, message string) error {
	switch code {
	case 401, 403:
		return &AuthorizationError{StatusCode: code, Message: message}
	case 404, 410:
		if message == "" {
			return ErrConversationGone
		}
		return fmt.Errorf("%w: %s", ErrConversationGone, message)
	default:
		return &RejectedError{StatusCode: code, Message: message}
	}
}
