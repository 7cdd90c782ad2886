package accuracy

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInvalidState        = errors.New("invalid state")
	ErrNotFound            = errors.New("not found")
	ErrNoAssignableItems   = errors.New("no assignable items")
	ErrUpstreamScoring     = errors.New("upstream scoring error")
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrDuplicateAccessCode is returned by stores when an access code is already taken
	ErrDuplicateAccessCode = errors.New("duplicate access code")
	// ErrAnswerNotFound is returned by answer stores when no candidate answer matches
	ErrAnswerNotFound = errors.New("answer not found")
)

var (
	ErrNoItemsMaterialized = fmt.Errorf("%w: no question has a matching candidate answer", ErrValidation)
	ErrAssignmentExpired   = fmt.Errorf("%w: assignment expired", ErrInvalidState)
	ErrAssignmentClosed    = fmt.Errorf("%w: assignment is no longer active", ErrInvalidState)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func invalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidState}, args...)...)
}
