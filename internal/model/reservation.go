package model

import "time"

// Reservation statuses.  A reservation is created active and may only
// move to cancelled; cancelled is terminal and never reactivates.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

// Reservation records one subject's claim against a resource.  Rows
// are never deleted; cancelled reservations are retained for the
// audit/history views and stop counting toward capacity.
//
// Fields:
//  ID          – opaque identifier (UUID string).
//  ResourceID  – resource being claimed.
//  SubjectID   – student/user holding the claim.
//  Family      – denormalised family of the resource, kept on the row
//                so the one-active-per-subject-per-family rule can be
//                enforced by a uniqueness constraint.
//  Status      – active or cancelled.
//  StartsAt    – requested window start.  For counted-capacity
//                resources this equals the resource's fixed window.
//  EndsAt      – requested window end.
//  CreatedAt   – creation timestamp.
//  CancelledAt – when the reservation was cancelled (nil while active).
type Reservation struct {
	ID          string     // reservations.id
	ResourceID  string     // reservations.resource_id
	SubjectID   string     // reservations.subject_id
	Family      Family     // reservations.family
	Status      string     // reservations.status
	StartsAt    time.Time  // reservations.starts_at
	EndsAt      time.Time  // reservations.ends_at
	CreatedAt   time.Time  // reservations.created_at
	CancelledAt *time.Time // reservations.cancelled_at (nullable)
}

// Active reports whether the reservation currently counts toward its
// resource's capacity or exclusivity constraint.
func (r *Reservation) Active() bool { return r.Status == StatusActive }

// Overlaps reports whether the reservation's window overlaps the given
// half-open interval: start < r.EndsAt && end > r.StartsAt.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return start.Before(r.EndsAt) && end.After(r.StartsAt)
}
