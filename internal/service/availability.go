package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/slot-reservation/internal/constraint"
	"github.com/iliyamo/slot-reservation/internal/model"
)

// AvailabilityRow is one resource's availability as reported to
// polling clients.  Counted-capacity resources carry ActiveCount and
// Remaining; interval-exclusive ones carry the free gaps inside the
// queried window instead.
type AvailabilityRow struct {
	Resource    model.Resource
	ActiveCount int
	Remaining   int
	Free        []constraint.Interval
}

// AvailabilityQuery narrows an availability listing.  From drops
// counted-capacity slots starting before it (zero keeps everything).
// Day selects which day's free gaps to derive for rooms; a zero Day
// means today (UTC).
type AvailabilityQuery struct {
	From time.Time
	Day  time.Time
}

// ListAvailability is a pure read over the registry and the ledger.
// It takes no locks and may return a stale snapshot: a seat taken
// between this read and the caller's click is caught by Reserve, and
// the client synchronizer converges the view on its next poll.
func (s *ReservationService) ListAvailability(ctx context.Context, family model.Family, q AvailabilityQuery) ([]AvailabilityRow, error) {
	resources, err := s.resources.ListByFamily(ctx, family, q.From)
	if err != nil {
		return nil, err
	}
	rows := make([]AvailabilityRow, 0, len(resources))
	if family == model.FamilyRoom {
		dayStart, dayEnd := dayWindow(q.Day)
		for _, res := range resources {
			active, err := s.reservations.ActiveByResource(ctx, res.ID)
			if err != nil {
				return nil, err
			}
			rows = append(rows, AvailabilityRow{
				Resource:    res,
				ActiveCount: len(active),
				Free:        constraint.FreeIntervals(dayStart, dayEnd, active),
			})
		}
		return rows, nil
	}

	ids := make([]string, 0, len(resources))
	for _, res := range resources {
		ids = append(ids, res.ID)
	}
	counts, err := s.reservations.CountActiveByResource(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, res := range resources {
		n := counts[res.ID]
		remaining := int(res.Limit) - n
		if remaining < 0 {
			// The ledger invariant forbids this; clamp for display.
			remaining = 0
		}
		rows = append(rows, AvailabilityRow{Resource: res, ActiveCount: n, Remaining: remaining})
	}
	return rows, nil
}

// ParseDay interprets a YYYY-MM-DD query parameter as a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: day must be YYYY-MM-DD", ErrInvalidInput)
	}
	return t.UTC(), nil
}

func dayWindow(day time.Time) (time.Time, time.Time) {
	if day.IsZero() {
		day = time.Now().UTC()
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
