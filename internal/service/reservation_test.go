package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/queue"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// Query fragments matched against the SQL the repositories issue.
// sqlmock collapses whitespace before matching, so single-spaced
// fragments match the indented multi-line constants.
var (
	qLockResource    = regexp.QuoteMeta(`FROM resources WHERE id = ? FOR UPDATE`)
	qActiveByRes     = regexp.QuoteMeta(`WHERE resource_id = ? AND status = 'active'`)
	qActiveBySubject = regexp.QuoteMeta(`WHERE subject_id = ? AND family = ? AND status = 'active'`)
	qInsertResv      = regexp.QuoteMeta(`INSERT INTO reservations`)
	qSelectResvByID  = regexp.QuoteMeta(`FROM reservations WHERE id = ?`)
	qResvForUpdate   = regexp.QuoteMeta(`FROM reservations WHERE id = ? FOR UPDATE`)
	qCancelResv      = regexp.QuoteMeta(`SET status = 'cancelled'`)
	qListByFamily    = regexp.QuoteMeta(`FROM resources WHERE family = ?`)
	qCountByRes      = regexp.QuoteMeta(`GROUP BY resource_id`)
	qListBySubject   = regexp.QuoteMeta(`ORDER BY created_at DESC`)
)

var (
	slotStart = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	slotEnd   = slotStart.Add(2 * time.Hour)
	stamp     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type eventRecorder struct {
	events []queue.ReservationEvent
}

func (r *eventRecorder) PublishReservationEvent(_ context.Context, ev queue.ReservationEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func newServiceMock(t *testing.T) (*ReservationService, sqlmock.Sqlmock, *eventRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	rec := &eventRecorder{}
	svc := NewReservationService(db, repository.NewResourceRepo(db), repository.NewReservationRepo(db), rec)
	return svc, mock, rec
}

func resourceCols() []string {
	return []string{"id", "family", "constraint_shape", "capacity_limit", "starts_at", "ends_at", "location", "created_at", "updated_at"}
}

func countedRow(id string, limit uint32) *sqlmock.Rows {
	return sqlmock.NewRows(resourceCols()).
		AddRow(id, "practical_slot", "counted_capacity", limit, slotStart, slotEnd, "Lab 3", stamp, stamp)
}

func roomRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows(resourceCols()).
		AddRow(id, "room", "interval_exclusive", nil, nil, nil, "B-204", stamp, stamp)
}

func reservationCols() []string {
	return []string{"id", "resource_id", "subject_id", "family", "status", "starts_at", "ends_at", "created_at", "cancelled_at"}
}

func emptyResvRows() *sqlmock.Rows { return sqlmock.NewRows(reservationCols()) }

func activeResvRow(id, resourceID, subjectID, family string, start, end time.Time) *sqlmock.Rows {
	return emptyResvRows().AddRow(id, resourceID, subjectID, family, "active", start, end, stamp, nil)
}

func TestReserveCountedSuccess(t *testing.T) {
	svc, mock, rec := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 2))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").WillReturnRows(emptyResvRows())
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectExec(qInsertResv).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qSelectResvByID).
		WillReturnRows(activeResvRow("rv-new", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectCommit()

	resv, err := svc.Reserve(context.Background(), "s1", "res-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "rv-new", resv.ID)
	assert.Equal(t, model.StatusActive, resv.Status)
	assert.Equal(t, slotStart, resv.StartsAt)
	assert.Equal(t, stamp, resv.CreatedAt, "created_at is read back from the insert")

	require.Len(t, rec.events, 1)
	assert.Equal(t, queue.EventReservationConfirmed, rec.events[0].Type)
	assert.Equal(t, "rv-new", rec.events[0].ReservationID)
}

func TestReserveCapacityFull(t *testing.T) {
	svc, mock, rec := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 1))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").
		WillReturnRows(activeResvRow("rv-1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectQuery(qActiveBySubject).WithArgs("s2", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectRollback()

	_, err := svc.Reserve(context.Background(), "s2", "res-1", nil)
	assert.ErrorIs(t, err, repository.ErrCapacityFull)
	assert.Empty(t, rec.events, "rejections publish nothing")
}

func TestReserveIdempotentReplay(t *testing.T) {
	// The subject already holds this slot; a retried request returns
	// the existing reservation as success instead of a rejection.
	svc, mock, rec := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 1))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").
		WillReturnRows(activeResvRow("rv-1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectRollback()

	resv, err := svc.Reserve(context.Background(), "s1", "res-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "rv-1", resv.ID, "no second reservation is created")
	require.Len(t, rec.events, 1)
}

func TestReserveAlreadyReservedInFamily(t *testing.T) {
	// One active practical slot per subject: an attempt on a second
	// resource in the same family is rejected.
	svc, mock, _ := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-2").WillReturnRows(countedRow("res-2", 5))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-2").WillReturnRows(emptyResvRows())
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").
		WillReturnRows(activeResvRow("rv-1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectRollback()

	_, err := svc.Reserve(context.Background(), "s1", "res-2", nil)
	assert.ErrorIs(t, err, repository.ErrAlreadyReserved)
}

func TestReserveRoomSuccess(t *testing.T) {
	svc, mock, _ := newServiceMock(t)
	win := &Window{StartsAt: slotStart, EndsAt: slotEnd}

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("room-1").WillReturnRows(roomRow("room-1"))
	mock.ExpectQuery(qActiveByRes).WithArgs("room-1").WillReturnRows(emptyResvRows())
	mock.ExpectExec(qInsertResv).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qSelectResvByID).
		WillReturnRows(activeResvRow("rv-room", "room-1", "s1", "room", slotStart, slotEnd))
	mock.ExpectCommit()

	resv, err := svc.Reserve(context.Background(), "s1", "room-1", win)
	require.NoError(t, err)
	assert.Equal(t, slotStart, resv.StartsAt)
	assert.Equal(t, slotEnd, resv.EndsAt)
}

func TestReserveRoomTimeConflict(t *testing.T) {
	svc, mock, _ := newServiceMock(t)
	win := &Window{StartsAt: slotStart.Add(30 * time.Minute), EndsAt: slotEnd.Add(30 * time.Minute)}

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("room-1").WillReturnRows(roomRow("room-1"))
	mock.ExpectQuery(qActiveByRes).WithArgs("room-1").
		WillReturnRows(activeResvRow("rv-1", "room-1", "s2", "room", slotStart, slotEnd))
	mock.ExpectRollback()

	_, err := svc.Reserve(context.Background(), "s1", "room-1", win)
	assert.ErrorIs(t, err, repository.ErrTimeConflict)
}

func TestReserveRoomWindowValidation(t *testing.T) {
	svc, mock, _ := newServiceMock(t)

	// Missing window.
	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("room-1").WillReturnRows(roomRow("room-1"))
	mock.ExpectRollback()
	_, err := svc.Reserve(context.Background(), "s1", "room-1", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Inverted window.
	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("room-1").WillReturnRows(roomRow("room-1"))
	mock.ExpectRollback()
	_, err = svc.Reserve(context.Background(), "s1", "room-1", &Window{StartsAt: slotEnd, EndsAt: slotStart})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReserveDuplicateKeyRaceSameResource(t *testing.T) {
	// Another request by the same subject committed first and our
	// insert hit the (subject, family) unique index.  The winner holds
	// the same resource, so the intent is satisfied: success.
	svc, mock, rec := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 2))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").WillReturnRows(emptyResvRows())
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectExec(qInsertResv).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 's1-practical_slot'"))
	mock.ExpectRollback()
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").
		WillReturnRows(activeResvRow("rv-winner", "res-1", "s1", "practical_slot", slotStart, slotEnd))

	resv, err := svc.Reserve(context.Background(), "s1", "res-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "rv-winner", resv.ID)
	require.Len(t, rec.events, 1)
}

func TestReserveDuplicateKeyRaceOtherResource(t *testing.T) {
	svc, mock, _ := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-2").WillReturnRows(countedRow("res-2", 2))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-2").WillReturnRows(emptyResvRows())
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectExec(qInsertResv).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 's1-practical_slot'"))
	mock.ExpectRollback()
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").
		WillReturnRows(activeResvRow("rv-winner", "res-1", "s1", "practical_slot", slotStart, slotEnd))

	_, err := svc.Reserve(context.Background(), "s1", "res-2", nil)
	assert.ErrorIs(t, err, repository.ErrAlreadyReserved)
}

func TestReserveRetriesOnDeadlock(t *testing.T) {
	svc, mock, _ := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").
		WillReturnError(errors.New("Error 1213 (40001): Deadlock found when trying to get lock"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 2))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").WillReturnRows(emptyResvRows())
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectExec(qInsertResv).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qSelectResvByID).
		WillReturnRows(activeResvRow("rv-new", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectCommit()

	resv, err := svc.Reserve(context.Background(), "s1", "res-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "rv-new", resv.ID)
}

func TestReserveUnknownResource(t *testing.T) {
	svc, mock, _ := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("nope").WillReturnRows(sqlmock.NewRows(resourceCols()))
	mock.ExpectRollback()

	_, err := svc.Reserve(context.Background(), "s1", "nope", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReserveInputValidation(t *testing.T) {
	svc, _, _ := newServiceMock(t)

	_, err := svc.Reserve(context.Background(), "", "res-1", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Reserve(context.Background(), "s1", "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCancelSuccess(t *testing.T) {
	svc, mock, rec := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qResvForUpdate).WithArgs("rv-1").
		WillReturnRows(activeResvRow("rv-1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectExec(qCancelResv).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resv, err := svc.Cancel(context.Background(), "s1", "rv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, resv.Status)
	require.NotNil(t, resv.CancelledAt)

	require.Len(t, rec.events, 1)
	assert.Equal(t, queue.EventReservationCancelled, rec.events[0].Type)
}

func TestCancelNotOwner(t *testing.T) {
	svc, mock, rec := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qResvForUpdate).WithArgs("rv-1").
		WillReturnRows(activeResvRow("rv-1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "intruder", "rv-1")
	assert.ErrorIs(t, err, repository.ErrNotOwner)
	assert.Empty(t, rec.events)
}

func TestCancelAlreadyCancelled(t *testing.T) {
	// Cancelled is terminal: the second cancel performs no update, so
	// the original cancelled_at stamp is preserved.
	svc, mock, _ := newServiceMock(t)

	earlier := stamp.Add(time.Hour)
	rows := emptyResvRows().
		AddRow("rv-1", "res-1", "s1", "practical_slot", "cancelled", slotStart, slotEnd, stamp, earlier)

	mock.ExpectBegin()
	mock.ExpectQuery(qResvForUpdate).WithArgs("rv-1").WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "s1", "rv-1")
	assert.ErrorIs(t, err, repository.ErrAlreadyCancelled)
}

func TestCancelNotFound(t *testing.T) {
	svc, mock, _ := newServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qResvForUpdate).WithArgs("nope").WillReturnRows(emptyResvRows())
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "s1", "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCancelFreesCapacity(t *testing.T) {
	// Full lifecycle on a one-seat slot: s1 takes the seat, s2 is
	// rejected, s1 cancels, s2's retry succeeds.
	svc, mock, _ := newServiceMock(t)
	ctx := context.Background()

	// s1 reserves the only seat.
	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 1))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").WillReturnRows(emptyResvRows())
	mock.ExpectQuery(qActiveBySubject).WithArgs("s1", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectExec(qInsertResv).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qSelectResvByID).
		WillReturnRows(activeResvRow("rv-s1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectCommit()

	first, err := svc.Reserve(ctx, "s1", "res-1", nil)
	require.NoError(t, err)

	// s2 finds the slot full.
	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 1))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").
		WillReturnRows(activeResvRow("rv-s1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectQuery(qActiveBySubject).WithArgs("s2", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectRollback()

	_, err = svc.Reserve(ctx, "s2", "res-1", nil)
	require.ErrorIs(t, err, repository.ErrCapacityFull)

	// s1 cancels, freeing the seat.
	mock.ExpectBegin()
	mock.ExpectQuery(qResvForUpdate).WithArgs(first.ID).
		WillReturnRows(activeResvRow("rv-s1", "res-1", "s1", "practical_slot", slotStart, slotEnd))
	mock.ExpectExec(qCancelResv).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err = svc.Cancel(ctx, "s1", first.ID)
	require.NoError(t, err)

	// s2 retries and gets the seat.
	mock.ExpectBegin()
	mock.ExpectQuery(qLockResource).WithArgs("res-1").WillReturnRows(countedRow("res-1", 1))
	mock.ExpectQuery(qActiveByRes).WithArgs("res-1").WillReturnRows(emptyResvRows())
	mock.ExpectQuery(qActiveBySubject).WithArgs("s2", "practical_slot").WillReturnRows(emptyResvRows())
	mock.ExpectExec(qInsertResv).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qSelectResvByID).
		WillReturnRows(activeResvRow("rv-s2", "res-1", "s2", "practical_slot", slotStart, slotEnd))
	mock.ExpectCommit()

	second, err := svc.Reserve(ctx, "s2", "res-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "rv-s2", second.ID)
}

func TestListAvailabilityCounted(t *testing.T) {
	svc, mock, _ := newServiceMock(t)

	resources := sqlmock.NewRows(resourceCols()).
		AddRow("res-1", "practical_slot", "counted_capacity", 2, slotStart, slotEnd, "Lab 3", stamp, stamp).
		AddRow("res-2", "practical_slot", "counted_capacity", 3, slotStart.Add(3*time.Hour), slotEnd.Add(3*time.Hour), "Lab 4", stamp, stamp)
	mock.ExpectQuery(qListByFamily).WithArgs("practical_slot").WillReturnRows(resources)
	mock.ExpectQuery(qCountByRes).
		WillReturnRows(sqlmock.NewRows([]string{"resource_id", "cnt"}).AddRow("res-1", 2))

	rows, err := svc.ListAvailability(context.Background(), model.FamilyPractical, AvailabilityQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].ActiveCount)
	assert.Equal(t, 0, rows[0].Remaining, "full slot reports zero remaining")
	assert.Equal(t, 0, rows[1].ActiveCount, "missing count means zero")
	assert.Equal(t, 3, rows[1].Remaining)
}

func TestListAvailabilityRooms(t *testing.T) {
	svc, mock, _ := newServiceMock(t)
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(qListByFamily).WithArgs("room").WillReturnRows(roomRow("room-1"))
	mock.ExpectQuery(qActiveByRes).WithArgs("room-1").
		WillReturnRows(activeResvRow("rv-1", "room-1", "s1", "room", slotStart, slotEnd))

	rows, err := svc.ListAvailability(context.Background(), model.FamilyRoom, AvailabilityQuery{Day: day})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].ActiveCount)
	require.Len(t, rows[0].Free, 2, "one booking splits the day in two gaps")
	assert.Equal(t, day, rows[0].Free[0].Start)
	assert.Equal(t, slotStart, rows[0].Free[0].End)
	assert.Equal(t, slotEnd, rows[0].Free[1].Start)
	assert.Equal(t, day.Add(24*time.Hour), rows[0].Free[1].End)
}

func TestMyReservations(t *testing.T) {
	svc, mock, _ := newServiceMock(t)

	rows := emptyResvRows().
		AddRow("rv-2", "res-2", "s1", "exam_slot", "active", slotStart, slotEnd, stamp.Add(time.Hour), nil).
		AddRow("rv-1", "res-1", "s1", "exam_slot", "cancelled", slotStart, slotEnd, stamp, stamp.Add(2*time.Hour))
	mock.ExpectQuery(qListBySubject).WithArgs("s1", "exam_slot").WillReturnRows(rows)

	list, err := svc.MyReservations(context.Background(), "s1", model.FamilyExam)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rv-2", list[0].ID, "newest first")
	assert.Equal(t, model.StatusCancelled, list[1].Status, "history includes cancelled rows")
	require.NotNil(t, list[1].CancelledAt)
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDay("09.03.2026")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
