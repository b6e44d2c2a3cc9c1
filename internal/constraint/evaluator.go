// Package constraint holds the pure decision logic that guards every
// reservation write.  Evaluate has no side effects and touches no
// storage, so the reservation service can call it inside the same
// transaction as the insert it protects, and tests can drive it with
// plain slices.
package constraint

import (
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// Reason classifies why a candidate reservation was rejected.  The
// values double as the machine-readable reason strings in HTTP
// rejection bodies.
type Reason string

const (
	ReasonCapacityFull    Reason = "CAPACITY_FULL"
	ReasonTimeConflict    Reason = "TIME_CONFLICT"
	ReasonAlreadyReserved Reason = "ALREADY_RESERVED"
)

// Decision is the outcome of evaluating a candidate reservation.
type Decision struct {
	Accept bool
	Reason Reason // meaningful only when Accept is false
}

func accept() Decision         { return Decision{Accept: true} }
func reject(r Reason) Decision { return Decision{Reason: r} }

// Candidate is the reservation being attempted, reduced to the fields
// the rules need.
type Candidate struct {
	SubjectID string
	StartsAt  time.Time
	EndsAt    time.Time
}

// CheckSubject applies the per-subject rule: a subject may not hold
// two simultaneous active reservations in the same per-subject-limited
// family.  existing is the subject's current active reservation in the
// candidate's family, or nil.  This rule runs before the shape rule.
func CheckSubject(family model.Family, existing *model.Reservation) Decision {
	if !family.PerSubjectLimited() {
		return accept()
	}
	if existing != nil && existing.Active() {
		return reject(ReasonAlreadyReserved)
	}
	return accept()
}

// Evaluate applies the resource's constraint shape to a candidate
// given the current active reservations on the resource.
//
// Counted capacity accepts while len(active) < limit.  Interval
// exclusive accepts while no active reservation overlaps the
// candidate's half-open window (candidate.start < r.end AND
// candidate.end > r.start); touching windows do not conflict.
func Evaluate(res *model.Resource, active []model.Reservation, cand Candidate) Decision {
	switch res.Shape {
	case model.ShapeCountedCapacity:
		if uint32(len(active)) >= res.Limit {
			return reject(ReasonCapacityFull)
		}
		return accept()
	case model.ShapeIntervalExclusive:
		for i := range active {
			if active[i].Overlaps(cand.StartsAt, cand.EndsAt) {
				return reject(ReasonTimeConflict)
			}
		}
		return accept()
	}
	// Unknown shapes never accept; the registry should not produce them.
	return reject(ReasonCapacityFull)
}

// Interval is a half-open [Start, End) window, used for reporting the
// free gaps of an interval-exclusive resource.
type Interval struct {
	Start time.Time
	End   time.Time
}

// FreeIntervals returns the gaps inside [windowStart, windowEnd) left
// free by the given active reservations.  Reservations are merged
// first, so overlapping or touching busy windows collapse into one.
// The result is what availability listings report for rooms.
func FreeIntervals(windowStart, windowEnd time.Time, active []model.Reservation) []Interval {
	free := make([]Interval, 0)
	if !windowStart.Before(windowEnd) {
		return free
	}
	busy := mergeBusy(windowStart, windowEnd, active)
	cursor := windowStart
	for _, b := range busy {
		if cursor.Before(b.Start) {
			free = append(free, Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(windowEnd) {
		free = append(free, Interval{Start: cursor, End: windowEnd})
	}
	return free
}

// mergeBusy clips reservations to the window, sorts them and merges
// overlapping spans.  active is already sorted by start time by the
// ledger queries, but merging does not rely on that.
func mergeBusy(windowStart, windowEnd time.Time, active []model.Reservation) []Interval {
	spans := make([]Interval, 0, len(active))
	for i := range active {
		s, e := active[i].StartsAt, active[i].EndsAt
		if !s.Before(windowEnd) || !e.After(windowStart) {
			continue
		}
		if s.Before(windowStart) {
			s = windowStart
		}
		if e.After(windowEnd) {
			e = windowEnd
		}
		spans = append(spans, Interval{Start: s, End: e})
	}
	// Insertion sort; the per-resource span count is small.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].Start.Before(spans[j-1].Start); j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
	merged := make([]Interval, 0, len(spans))
	for _, sp := range spans {
		if n := len(merged); n > 0 && !sp.Start.After(merged[n-1].End) {
			if sp.End.After(merged[n-1].End) {
				merged[n-1].End = sp.End
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}
