package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindNetwork covers transport-level failures: refused connections,
	// DNS errors, resets, and retryable HTTP statuses (429, 5xx).
	KindNetwork Kind = iota
	// KindInvalidJSON marks a final status whose body is not valid JSON.
	KindInvalidJSON
	// KindTimeout marks the wall-clock budget running out.
	KindTimeout
	// KindRetriesExhausted marks the attempt limit running out first.
	KindRetriesExhausted
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network-error"
	case KindInvalidJSON:
		return "invalid-json"
	case KindTimeout:
		return "timeout"
	case KindRetriesExhausted:
		return "retries-exhausted"
	default:
		return "unknown"
	}
}

// Error is the only error type Client.Do returns.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("fetch: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("fetch: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsKind reports whether err is a fetch *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
