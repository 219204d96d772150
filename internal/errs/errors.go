// Package errs holds the error taxonomy shared by the repository, the
// coherence engine and the session services.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrPartialCascade    = errors.New("partial cascade failure")
	ErrConflict          = errors.New("stale revision")

	// ErrInvalidContextFormat is an InvalidInput raised when stored context is
	// neither text nor a non-empty list of text.
	ErrInvalidContextFormat = fmt.Errorf("%w: invalid context format", ErrInvalidInput)
)

// Cascade step names, in execution order.
const (
	StepContext = "context"
	StepChats   = "chats"
	StepSession = "session"
)

// CascadeError reports a session delete that completed some but not all
// of its steps.
type CascadeError struct {
	SessionID string
	Completed []string
	Failed    string
	Err       error
}

func (e *CascadeError) Error() string {
	done := "none"
	if len(e.Completed) > 0 {
		done = strings.Join(e.Completed, ",")
	}
	return fmt.Sprintf("cascade delete [%s] failed at %s (completed: %s): %v", e.SessionID, e.Failed, done, e.Err)
}

func (e *CascadeError) Unwrap() error {
	return e.Err
}

func (e *CascadeError) Is(target error) bool {
	return target == ErrPartialCascade
}

// Invalid wraps ErrInvalidInput with a field-level reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind and id that were looked up.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// RequireID rejects blank identifiers and identifiers containing the chat
// partition separator.
func RequireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return Invalid("%s id is required", kind)
	}
	if strings.Contains(id, ":") {
		return Invalid("%s id must not contain ':'", kind)
	}
	return nil
}
