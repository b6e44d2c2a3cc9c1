// Package queue defines the reservation lifecycle events exchanged
// over the message broker and the audit consumer that records them.
package queue

// Event types published on the reservation.events queue.
const (
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
)

// ReservationEvent is published after a reserve or cancel commits.
// It carries enough information for downstream consumers (audit log,
// notifications, analytics) without querying the primary database.
type ReservationEvent struct {
	Type          string `json:"type"`
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	SubjectID     string `json:"subject_id"`
	Family        string `json:"family"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
	OccurredAt    string `json:"occurred_at"`
}
