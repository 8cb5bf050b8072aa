package claims

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Every operation failure unwraps to exactly one of
// these sentinels so callers can branch with errors.Is.
var (
	// ErrInvalidTransition means the claim's current status does not
	// permit the requested operation.
	ErrInvalidTransition = errors.New("status does not permit this operation")

	// ErrAlreadyLocked means a review lock is already held.
	ErrAlreadyLocked = errors.New("claim is already locked for review")

	// ErrNotLockHolder means the acting identity does not hold the
	// claim's review lock.
	ErrNotLockHolder = errors.New("actor does not hold the review lock")

	// ErrLockedByOther means a different actor holds the review lock.
	// Returned wrapped in a LockedByOtherError carrying the holder.
	ErrLockedByOther = errors.New("claim is locked by another reviewer")

	// ErrReasonRequired means a mandatory justification was empty.
	ErrReasonRequired = errors.New("a non-empty reason is required")

	// ErrInvalidAmount means an adjustment amount was negative.
	ErrInvalidAmount = errors.New("adjustment amount must not be negative")

	// ErrNotFound means the claim or batch id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied means the actor's role does not allow the
	// requested transition.
	ErrPermissionDenied = errors.New("actor role does not permit this operation")
)

// LockedByOtherError reports who holds the lock and since when, so the
// caller can surface the holder to the user.
type LockedByOtherError struct {
	HolderID   string
	HolderName string
	Since      time.Time
}

func (e *LockedByOtherError) Error() string {
	return fmt.Sprintf("claim is locked by %s since %s", e.HolderName, e.Since.Format(time.RFC3339))
}

// Unwrap lets errors.Is(err, ErrLockedByOther) match.
func (e *LockedByOtherError) Unwrap() error {
	return ErrLockedByOther
}
