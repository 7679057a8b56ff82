package conflict

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrConflictNotFound    = errors.New("conflict not found")
	ErrAlreadyResolved     = errors.New("conflict already resolved")
	ErrNoConflictingEvents = errors.New("conflict needs at least one conflicting event")
)

type ResolutionErrorKind string

const (
	KindTargetNotFound      ResolutionErrorKind = "target_not_found"
	KindStoreMutationFailed ResolutionErrorKind = "store_mutation_failed"
	KindConflictNotFound    ResolutionErrorKind = "conflict_not_found"
	KindAlreadyResolved     ResolutionErrorKind = "already_resolved"
	KindInvalidResolution   ResolutionErrorKind = "invalid_resolution"
)

// ResolutionError explains why a resolution was not applied. The conflict is
// left unresolved whenever one is returned.
type ResolutionError struct {
	Kind       ResolutionErrorKind
	ConflictID uuid.UUID
	Message    string
	Cause      error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve conflict %s: %s", e.ConflictID, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Is matches another *ResolutionError with the same Kind.
func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTargetNotFound      = &ResolutionError{Kind: KindTargetNotFound}
	ErrStoreMutationFailed = &ResolutionError{Kind: KindStoreMutationFailed}
	ErrInvalidResolution   = &ResolutionError{Kind: KindInvalidResolution}
)

// UserMessage is a short description suitable for showing next to the
// still-unresolved conflict.
func (e *ResolutionError) UserMessage() string {
	switch e.Kind {
	case KindTargetNotFound:
		return "The event no longer exists in your calendar."
	case KindStoreMutationFailed:
		return "The calendar could not be updated. Try again."
	case KindConflictNotFound:
		return "This conflict no longer exists."
	case KindAlreadyResolved:
		return "This conflict has already been resolved."
	default:
		return "That resolution is not valid for this conflict."
	}
}
