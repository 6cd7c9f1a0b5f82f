package types

import "errors"

// Error kinds shared by every core component. Callers branch on them with
// errors.Is; wrapping with fmt.Errorf("...: %w") preserves the kind.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyMember      = errors.New("already a member")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Retryable reports whether err is a transient storage failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
