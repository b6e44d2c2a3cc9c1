package model

import (
	"errors"
	"time"
)

// Family identifies which booking feature a resource belongs to.  The
// three families share the same reservation engine but differ in the
// constraint shape applied and in whether a subject may hold more than
// one active reservation at a time.
type Family string

const (
	FamilyPractical Family = "practical_slot" // practical-training booking
	FamilyExam      Family = "exam_slot"      // written-exam registration
	FamilyRoom      Family = "room"           // meeting-room booking
)

// Shape describes the constraint applied to a resource.  Counted
// capacity allows up to Limit simultaneous active reservations on a
// fixed time window.  Interval exclusive allows any number of
// reservations as long as their requested windows do not overlap.
type Shape string

const (
	ShapeCountedCapacity   Shape = "counted_capacity"
	ShapeIntervalExclusive Shape = "interval_exclusive"
)

// ErrUnknownFamily is returned by ParseFamily for unrecognised values.
var ErrUnknownFamily = errors.New("unknown resource family")

// ParseFamily maps the short path segment used in URLs to a Family.
// The long database value is also accepted so callers can round-trip
// stored values.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "practical", string(FamilyPractical):
		return FamilyPractical, nil
	case "exam", string(FamilyExam):
		return FamilyExam, nil
	case string(FamilyRoom):
		return FamilyRoom, nil
	}
	return "", ErrUnknownFamily
}

// PerSubjectLimited reports whether the family enforces at most one
// active reservation per subject.  Practical and exam slots do; rooms
// do not, since a subject may legitimately book the same room for
// several non-overlapping meetings.
func (f Family) PerSubjectLimited() bool {
	return f == FamilyPractical || f == FamilyExam
}

// Resource is a bookable unit of capacity: a practical-training slot,
// a written-exam slot or a meeting room.
//
// Fields:
//  ID        – opaque identifier (UUID string).
//  Family    – which booking feature the resource belongs to.
//  Shape     – constraint shape applied on reserve.
//  Limit     – seat count for counted-capacity resources; zero for
//              interval-exclusive ones.
//  StartsAt  – fixed window start for counted-capacity resources.
//  EndsAt    – fixed window end for counted-capacity resources.
//  Location  – free-form display location (room number, campus).
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
//
// For interval-exclusive resources the window is supplied per
// reservation, so StartsAt/EndsAt stay zero.  Limit is immutable from
// the reservation flow; only the administrative path may adjust it.
type Resource struct {
	ID        string    // resources.id
	Family    Family    // resources.family
	Shape     Shape     // resources.constraint_shape
	Limit     uint32    // resources.capacity_limit (0 when not counted)
	StartsAt  time.Time // resources.starts_at (zero for rooms)
	EndsAt    time.Time // resources.ends_at (zero for rooms)
	Location  string    // resources.location
	CreatedAt time.Time // resources.created_at
	UpdatedAt time.Time // resources.updated_at
}
