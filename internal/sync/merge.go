package sync

import "time"

// AvailabilityRow is the client-side projection of one resource's
// availability, reduced to the identity key and the fields a view
// tracks.  Two rows are considered equal when every tracked field
// matches; anything else the server sends is presentation detail that
// must not trigger a republish.
type AvailabilityRow struct {
	ResourceID string
	StartsAt   time.Time
	EndsAt     time.Time
	Limit      uint32
	Remaining  int
}

// ReservationRow is the client-side projection of one of the subject's
// own reservations.
type ReservationRow struct {
	ReservationID string
	ResourceID    string
	Status        string
	StartsAt      time.Time
	EndsAt        time.Time
}

// MergeAvailability reconciles a freshly polled snapshot against the
// last known one, diffing by the ResourceID identity key.  It returns
// the snapshot the view should hold and whether anything tracked
// changed.  When nothing changed the original local slice is returned
// untouched so callers skip the downstream publish and the view does
// not flicker.  The remote snapshot is server truth: rows it dropped
// disappear, rows it added appear, and ordering follows remote.
func MergeAvailability(local, remote []AvailabilityRow) ([]AvailabilityRow, bool) {
	if !availabilityChanged(local, remote) {
		return local, false
	}
	merged := make([]AvailabilityRow, len(remote))
	copy(merged, remote)
	return merged, true
}

func availabilityChanged(local, remote []AvailabilityRow) bool {
	if len(local) != len(remote) {
		return true
	}
	byID := make(map[string]AvailabilityRow, len(local))
	for _, row := range local {
		byID[row.ResourceID] = row
	}
	for _, row := range remote {
		prev, ok := byID[row.ResourceID]
		if !ok || prev != row {
			return true
		}
	}
	return false
}

// MergeReservations reconciles the subject's reservation list, diffing
// by ReservationID, with the same change-only-republish contract as
// MergeAvailability.  An optimistic local row (created from a reserve
// response before the next poll) is simply confirmed or corrected by
// the authoritative remote snapshot; all mutation of view state routes
// through here, never through network callbacks directly.
func MergeReservations(local, remote []ReservationRow) ([]ReservationRow, bool) {
	if !reservationsChanged(local, remote) {
		return local, false
	}
	merged := make([]ReservationRow, len(remote))
	copy(merged, remote)
	return merged, true
}

func reservationsChanged(local, remote []ReservationRow) bool {
	if len(local) != len(remote) {
		return true
	}
	byID := make(map[string]ReservationRow, len(local))
	for _, row := range local {
		byID[row.ReservationID] = row
	}
	for _, row := range remote {
		prev, ok := byID[row.ReservationID]
		if !ok || prev != row {
			return true
		}
	}
	return false
}
