package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// resourceColumns is the column list shared by every resource query so
// scanResource can stay in one place.
const resourceColumns = `id, family, constraint_shape, capacity_limit, starts_at, ends_at, location, created_at, updated_at`

// ResourceRepo is the read-mostly registry of bookable resources.
// Resources are created and adjusted by the administrative path only;
// the reservation flow never mutates them, it only locks the row to
// serialise capacity checks.
type ResourceRepo struct {
	db *sql.DB
}

// NewResourceRepo returns a new ResourceRepo bound to the given database.
func NewResourceRepo(db *sql.DB) *ResourceRepo { return &ResourceRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// that span both repositories.
func (r *ResourceRepo) DB() *sql.DB { return r.db }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResource(row rowScanner) (*model.Resource, error) {
	var res model.Resource
	var limit sql.NullInt64
	var startsAt, endsAt sql.NullTime
	err := row.Scan(&res.ID, &res.Family, &res.Shape, &limit, &startsAt, &endsAt,
		&res.Location, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if limit.Valid {
		res.Limit = uint32(limit.Int64)
	}
	if startsAt.Valid {
		res.StartsAt = startsAt.Time.UTC()
	}
	if endsAt.Valid {
		res.EndsAt = endsAt.Time.UTC()
	}
	return &res, nil
}

// GetByID returns a single resource or ErrNotFound.
func (r *ResourceRepo) GetByID(ctx context.Context, id string) (*model.Resource, error) {
	const q = `SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`
	res, err := scanResource(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// LockByIDTx loads a resource inside the given transaction with a
// FOR UPDATE row lock.  Concurrent reserve transactions for the same
// resource queue on this lock, so only one at a time can run the
// read-evaluate-insert sequence; that is what makes the capacity
// check-then-commit atomic.
func (r *ResourceRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Resource, error) {
	const q = `SELECT ` + resourceColumns + ` FROM resources WHERE id = ? FOR UPDATE`
	res, err := scanResource(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// ListByFamily returns resources of the given family ordered by their
// fixed window start (rooms, which have no fixed window, sort by
// location).  When from is non-zero, counted-capacity resources whose
// window starts before it are excluded so past slots drop out of the
// availability listing.
func (r *ResourceRepo) ListByFamily(ctx context.Context, family model.Family, from time.Time) ([]model.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE family = ?`
	args := []interface{}{string(family)}
	if !from.IsZero() {
		q += ` AND (starts_at IS NULL OR starts_at >= ?)`
		args = append(args, from.UTC())
	}
	q += ` ORDER BY starts_at IS NULL, starts_at, location, id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Resource, 0)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// Create inserts a new resource.  Only the administrative path calls
// this; limit and shape validation happens in the handler.
func (r *ResourceRepo) Create(ctx context.Context, res *model.Resource) error {
	const q = `INSERT INTO resources (id, family, constraint_shape, capacity_limit, starts_at, ends_at, location)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	var limit interface{}
	if res.Shape == model.ShapeCountedCapacity {
		limit = res.Limit
	}
	var startsAt, endsAt interface{}
	if !res.StartsAt.IsZero() {
		startsAt = res.StartsAt.UTC()
	}
	if !res.EndsAt.IsZero() {
		endsAt = res.EndsAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, q, res.ID, string(res.Family), string(res.Shape),
		limit, startsAt, endsAt, res.Location)
	return err
}

// UpdateLimit adjusts the capacity of a counted-capacity resource.
// This is the administrative capacity-adjustment path; the WHERE clause
// refuses to touch interval-exclusive resources.  Callers verify the
// resource exists and is counted before calling, so a zero-row update
// here is not treated as an error.
func (r *ResourceRepo) UpdateLimit(ctx context.Context, id string, limit uint32) error {
	const q = `UPDATE resources SET capacity_limit = ?
	           WHERE id = ? AND constraint_shape = 'counted_capacity'`
	_, err := r.db.ExecContext(ctx, q, limit, id)
	return err
}
