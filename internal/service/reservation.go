// Package service implements the reservation engine: the only code
// path allowed to mutate the reservation ledger.  Reserve and Cancel
// run their read-evaluate-write sequence as a single database
// transaction; all correctness under concurrent callers is delegated
// to that transaction plus the unique indexes on the ledger, not to
// in-process locks.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/slot-reservation/internal/constraint"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/queue"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// ErrInvalidInput marks validation failures rejected before the ledger
// is touched: unknown resource ids are ErrNotFound instead, but a
// missing or inverted requested window never reaches a transaction.
var ErrInvalidInput = errors.New("invalid input")

// maxTxAttempts bounds internal retries of a transaction that lost a
// lock race (MySQL deadlock / lock wait timeout).  Anything beyond
// this surfaces to the caller as a transient storage error.
const maxTxAttempts = 3

// Window is a requested half-open [StartsAt, EndsAt) interval.  It is
// required for interval-exclusive resources and ignored for
// counted-capacity ones, whose window is fixed on the resource.
type Window struct {
	StartsAt time.Time
	EndsAt   time.Time
}

// Publisher sends reservation lifecycle events to the message broker.
// A nil Publisher disables eventing; failures are logged and never
// fail the request that triggered them.
type Publisher interface {
	PublishReservationEvent(ctx context.Context, ev queue.ReservationEvent) error
}

// ReservationService exposes reserve, cancel and the availability
// reads.  It is stateless; every request opens its own transaction.
type ReservationService struct {
	db           *sql.DB
	resources    *repository.ResourceRepo
	reservations *repository.ReservationRepo
	events       Publisher
}

// NewReservationService constructs the service.  events may be nil.
func NewReservationService(db *sql.DB, resources *repository.ResourceRepo, reservations *repository.ReservationRepo, events Publisher) *ReservationService {
	if db == nil || resources == nil || reservations == nil {
		panic("nil dependency passed to NewReservationService")
	}
	return &ReservationService{db: db, resources: resources, reservations: reservations, events: events}
}

// Reserve books the resource for the subject.  The check-then-insert
// sequence runs inside one transaction with the resource row locked
// FOR UPDATE, so two concurrent callers cannot both observe free
// capacity and both commit.  A retried call whose intent is already
// satisfied returns the existing reservation as success.
//
// Expected rejections: repository.ErrNotFound, ErrInvalidInput,
// repository.ErrCapacityFull, repository.ErrTimeConflict,
// repository.ErrAlreadyReserved.
func (s *ReservationService) Reserve(ctx context.Context, subjectID, resourceID string, window *Window) (*model.Reservation, error) {
	if subjectID == "" || resourceID == "" {
		return nil, fmt.Errorf("%w: subject and resource ids are required", ErrInvalidInput)
	}
	var resv *model.Reservation
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		resv, err = s.reserveOnce(ctx, subjectID, resourceID, window)
		if err == nil || !repository.IsRetryable(err) {
			break
		}
		log.Printf("reservation: reserve tx lost lock race (attempt %d/%d): %v", attempt, maxTxAttempts, err)
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.EventReservationConfirmed, resv)
	return resv, nil
}

func (s *ReservationService) reserveOnce(ctx context.Context, subjectID, resourceID string, window *Window) (*model.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := s.resources.LockByIDTx(ctx, tx, resourceID)
	if err != nil {
		return nil, err
	}

	var start, end time.Time
	switch res.Shape {
	case model.ShapeCountedCapacity:
		// The window is fixed on the resource; any client-supplied one
		// is ignored rather than rejected.
		start, end = res.StartsAt, res.EndsAt
	case model.ShapeIntervalExclusive:
		if window == nil {
			return nil, fmt.Errorf("%w: requested window is required for this resource", ErrInvalidInput)
		}
		if !window.StartsAt.Before(window.EndsAt) {
			return nil, fmt.Errorf("%w: window start must precede end", ErrInvalidInput)
		}
		start, end = window.StartsAt.UTC(), window.EndsAt.UTC()
	default:
		return nil, fmt.Errorf("%w: resource has unknown constraint shape", ErrInvalidInput)
	}

	active, err := s.reservations.ActiveByResourceTx(ctx, tx, resourceID)
	if err != nil {
		return nil, err
	}

	// Idempotent replay: the subject already holds this exact claim,
	// so a retried click reports success instead of a rejection.
	for i := range active {
		if active[i].SubjectID != subjectID {
			continue
		}
		if res.Family.PerSubjectLimited() ||
			(active[i].StartsAt.Equal(start) && active[i].EndsAt.Equal(end)) {
			existing := active[i]
			return &existing, nil
		}
	}

	// Per-subject rule runs before the shape rule.
	if res.Family.PerSubjectLimited() {
		existing, err := s.reservations.ActiveBySubjectAndFamilyTx(ctx, tx, subjectID, res.Family)
		if err != nil {
			return nil, err
		}
		if d := constraint.CheckSubject(res.Family, existing); !d.Accept {
			return nil, repository.ErrAlreadyReserved
		}
	}

	cand := constraint.Candidate{SubjectID: subjectID, StartsAt: start, EndsAt: end}
	if d := constraint.Evaluate(res, active, cand); !d.Accept {
		switch d.Reason {
		case constraint.ReasonTimeConflict:
			return nil, repository.ErrTimeConflict
		default:
			return nil, repository.ErrCapacityFull
		}
	}

	resv := &model.Reservation{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		SubjectID:  subjectID,
		Family:     res.Family,
		Status:     model.StatusActive,
		StartsAt:   start,
		EndsAt:     end,
	}
	if err := s.reservations.CreateTx(ctx, tx, resv); err != nil {
		if repository.IsDuplicateKey(err) {
			// Another transaction won the (subject, family) uniqueness
			// race after our checks.  Release our locks, then look at
			// the winner: if it carries the same intent, the subject
			// already has what they asked for and this is a success.
			_ = tx.Rollback() // the deferred rollback then no-ops
			winner, ferr := s.reservations.ActiveBySubjectAndFamily(ctx, subjectID, res.Family)
			if ferr == nil && winner != nil && winner.ResourceID == resourceID {
				return winner, nil
			}
			return nil, repository.ErrAlreadyReserved
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return resv, nil
}

// Cancel flips the subject's reservation to the terminal cancelled
// state, freeing its capacity for subsequent reserves.  Cancelling an
// already-cancelled reservation returns repository.ErrAlreadyCancelled
// and leaves cancelled_at untouched.  Only the owning subject may
// cancel; others get repository.ErrNotOwner.
func (s *ReservationService) Cancel(ctx context.Context, subjectID, reservationID string) (*model.Reservation, error) {
	if subjectID == "" || reservationID == "" {
		return nil, fmt.Errorf("%w: subject and reservation ids are required", ErrInvalidInput)
	}
	var resv *model.Reservation
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		resv, err = s.cancelOnce(ctx, subjectID, reservationID)
		if err == nil || !repository.IsRetryable(err) {
			break
		}
		log.Printf("reservation: cancel tx lost lock race (attempt %d/%d): %v", attempt, maxTxAttempts, err)
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, queue.EventReservationCancelled, resv)
	return resv, nil
}

func (s *ReservationService) cancelOnce(ctx context.Context, subjectID, reservationID string) (*model.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	resv, err := s.reservations.GetByIDTx(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if resv.SubjectID != subjectID {
		return nil, repository.ErrNotOwner
	}
	if resv.Status == model.StatusCancelled {
		return nil, repository.ErrAlreadyCancelled
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.reservations.CancelTx(ctx, tx, reservationID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	resv.Status = model.StatusCancelled
	resv.CancelledAt = &now
	return resv, nil
}

// MyReservations returns the subject's reservations in a family,
// newest first, including cancelled ones for the history view.
func (s *ReservationService) MyReservations(ctx context.Context, subjectID string, family model.Family) ([]model.Reservation, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	return s.reservations.ListBySubject(ctx, subjectID, family)
}

// publish sends a lifecycle event best-effort.  Eventing failures are
// logged, never surfaced: the ledger write already committed.
func (s *ReservationService) publish(ctx context.Context, typ string, resv *model.Reservation) {
	if s.events == nil {
		return
	}
	ev := queue.ReservationEvent{
		Type:          typ,
		ReservationID: resv.ID,
		ResourceID:    resv.ResourceID,
		SubjectID:     resv.SubjectID,
		Family:        string(resv.Family),
		StartsAt:      resv.StartsAt.Format(time.RFC3339),
		EndsAt:        resv.EndsAt.Format(time.RFC3339),
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.events.PublishReservationEvent(ctx, ev); err != nil {
		log.Printf("reservation: publish %s failed: %v", typ, err)
	}
}
