// Package repository defines error values shared by the resource and
// reservation repositories and the service layer built on top of them.
// The four expected rejections (capacity full, time conflict, already
// reserved, already cancelled) are first-class outcomes, not failures:
// handlers translate them into 409/400 responses and never log them as
// errors.
package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested resource or reservation
// does not exist. Handlers should translate this into an HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrNotOwner is returned when a subject attempts to cancel a
// reservation held by someone else.
var ErrNotOwner = errors.New("not owner")

// ErrAlreadyCancelled is returned when cancelling a reservation that
// is already in the terminal cancelled state. The second cancel is
// harmless; the caller simply learns the state is already terminal.
var ErrAlreadyCancelled = errors.New("already cancelled")

// ErrCapacityFull is returned when a counted-capacity resource has no
// remaining seats.
var ErrCapacityFull = errors.New("capacity full")

// ErrTimeConflict is returned when a requested window overlaps an
// active reservation on an interval-exclusive resource.
var ErrTimeConflict = errors.New("time conflict")

// ErrAlreadyReserved is returned when a subject already holds an
// active reservation in the same per-subject-limited family.
var ErrAlreadyReserved = errors.New("already reserved")

// IsDuplicateKey reports whether err is a MySQL duplicate-entry error
// (error 1062), raised when an insert collides with one of the unique
// indexes on the reservations table. The service reinterprets this as
// "intent already satisfied" rather than a hard failure.
func IsDuplicateKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}

// IsRetryable reports whether err is a MySQL deadlock (1213) or lock
// wait timeout (1205). Both mean the transaction lost a race and can
// safely be retried from the top.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "1213") || strings.Contains(msg, "1205")
}
