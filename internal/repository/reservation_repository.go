package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

const reservationColumns = `id, resource_id, subject_id, family, status, starts_at, ends_at, created_at, cancelled_at`

// ReservationRepo is the reservation ledger: the durable record of
// active and cancelled reservations.  All mutation runs through the
// reservation service; methods with a Tx suffix participate in the
// caller's transaction and leave commit/rollback to the caller.
// Timestamps are stored and compared in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var res model.Reservation
	var cancelledAt sql.NullTime
	err := row.Scan(&res.ID, &res.ResourceID, &res.SubjectID, &res.Family, &res.Status,
		&res.StartsAt, &res.EndsAt, &res.CreatedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	res.StartsAt = res.StartsAt.UTC()
	res.EndsAt = res.EndsAt.UTC()
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		res.CancelledAt = &t
	}
	return &res, nil
}

func collectReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// CreateTx inserts a new active reservation within the scope of an
// existing transaction.  A duplicate-key failure here means another
// transaction committed an active reservation for the same subject and
// family first; callers detect it with IsDuplicateKey and decide
// whether that satisfies the caller's intent.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (id, resource_id, subject_id, family, status, starts_at, ends_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, res.ID, res.ResourceID, res.SubjectID,
		string(res.Family), res.Status, res.StartsAt.UTC(), res.EndsAt.UTC())
	if err != nil {
		return err
	}
	// Query back the row to populate the DB-assigned created_at.
	const sel = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	stored, err := scanReservation(tx.QueryRowContext(ctx, sel, res.ID))
	if err != nil {
		return err
	}
	*res = *stored
	return nil
}

// ActiveByResourceTx returns all active reservations on a resource
// inside the caller's transaction.  Combined with the FOR UPDATE lock
// on the resource row this is the snapshot the constraint evaluator
// decides against.
func (r *ReservationRepo) ActiveByResourceTx(ctx context.Context, tx *sql.Tx, resourceID string) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE resource_id = ? AND status = 'active'
	           ORDER BY starts_at, created_at`
	rows, err := tx.QueryContext(ctx, q, resourceID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ActiveBySubjectAndFamilyTx returns the subject's active reservation
// in the given family, or nil when none exists.  Used for the
// one-booking-per-subject rule and for resolving duplicate-key races.
func (r *ReservationRepo) ActiveBySubjectAndFamilyTx(ctx context.Context, tx *sql.Tx, subjectID string, family model.Family) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE subject_id = ? AND family = ? AND status = 'active'
	           LIMIT 1`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, subjectID, string(family)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// ActiveBySubjectAndFamily is the non-transactional variant used after
// a duplicate-key collision has already ended the insert transaction.
func (r *ReservationRepo) ActiveBySubjectAndFamily(ctx context.Context, subjectID string, family model.Family) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE subject_id = ? AND family = ? AND status = 'active'
	           LIMIT 1`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, subjectID, string(family)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// GetByIDTx loads a reservation by ID with a FOR UPDATE lock so a
// cancel cannot race another cancel of the same row.  Returns
// ErrNotFound when the reservation does not exist.
func (r *ReservationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// CancelTx flips a reservation to the terminal cancelled state and
// stamps cancelled_at.  The generated family_key column becomes NULL on
// this update, which is what frees the uniqueness slot for future
// reservations by the same subject.
func (r *ReservationRepo) CancelTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	const q = `UPDATE reservations SET status = 'cancelled', cancelled_at = ?
	           WHERE id = ? AND status = 'active'`
	_, err := tx.ExecContext(ctx, q, at.UTC(), id)
	return err
}

// CountActiveByResource returns active reservation counts for every
// resource in ids.  Resources with no active reservations are absent
// from the map; callers treat a missing entry as zero.  This read runs
// outside any transaction: availability listings may be stale, and the
// client synchronizer reconciles on the next poll.
func (r *ReservationRepo) CountActiveByResource(ctx context.Context, ids []string) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	q := `SELECT resource_id, COUNT(*) FROM reservations
	      WHERE status = 'active' AND resource_id IN (`
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			q += ","
		}
		q += "?"
		args = append(args, id)
	}
	q += `) GROUP BY resource_id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ActiveByResource lists active reservations for a resource outside
// any transaction, for deriving the free intervals of a room.
func (r *ReservationRepo) ActiveByResource(ctx context.Context, resourceID string) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE resource_id = ? AND status = 'active'
	           ORDER BY starts_at`
	rows, err := r.db.QueryContext(ctx, q, resourceID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ListBySubject returns the subject's reservations in a family, newest
// first, including cancelled ones for the history view.
func (r *ReservationRepo) ListBySubject(ctx context.Context, subjectID string, family model.Family) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE subject_id = ? AND family = ?
	           ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, q, subjectID, string(family))
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}
