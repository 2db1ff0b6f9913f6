package domain

import (
	"context"
	"errors"
)

// Sentinel errors for the geo core. Services wrap these with context via
// fmt.Errorf("...: %w", err); callers test with errors.Is.
var (
	// ErrInvalidCoordinate marks an out-of-range latitude or longitude.
	// Local to the failing record during reconciliation, never fatal to a batch.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrUnknownHubCategory marks a hub category that is neither canonical
	// nor a recognized legacy alias.
	ErrUnknownHubCategory = errors.New("unknown hub category")

	// ErrUserNotFound marks an operation against a user that does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotFound marks a lookup of an unknown cell, run, or entity.
	ErrNotFound = errors.New("not found")

	// ErrConflictRetryable marks a transient uniqueness race on EnsureCell.
	// The cell service retries the read once before surfacing it.
	ErrConflictRetryable = errors.New("conflicting concurrent write")

	// ErrTimeout marks a caller-supplied deadline expiring. Surfaced, not
	// retried — retry policy belongs to the invoking collaborator.
	ErrTimeout = errors.New("operation timed out")

	// ErrDuplicateMember marks a family member token that is already
	// registered, possibly by another user.
	ErrDuplicateMember = errors.New("family member token already registered")
)

// MapDeadline translates context deadline errors into ErrTimeout so the
// taxonomy stays uniform across adapters.
func MapDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
