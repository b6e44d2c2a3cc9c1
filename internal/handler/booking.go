package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/service"
)

// BookingHandler serves the four family-scoped booking operations:
// availability listing, reserve, cancel and the subject's own
// registrations.  All methods assume JWT authentication has already
// run; subject identity comes from the token, never from the body.
type BookingHandler struct {
	Svc *service.ReservationService
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc *service.ReservationService) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Svc: svc}
}

// availabilityItem is one row of GET /:family/slots.
type availabilityItem struct {
	ResourceID string         `json:"resource_id"`
	Family     string         `json:"family"`
	Location   string         `json:"location,omitempty"`
	Date       string         `json:"date,omitempty"`
	StartsAt   string         `json:"starts_at,omitempty"`
	EndsAt     string         `json:"ends_at,omitempty"`
	Limit      uint32         `json:"limit,omitempty"`
	Remaining  int            `json:"remaining"`
	Free       []intervalItem `json:"free,omitempty"`
}

type intervalItem struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

// reservationItem is the reservation shape shared by book responses
// and the my-registrations listing.
type reservationItem struct {
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	Status        string `json:"status"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

func toReservationItem(r *model.Reservation) reservationItem {
	item := reservationItem{
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		Status:        r.Status,
		StartsAt:      r.StartsAt.Format(time.RFC3339),
		EndsAt:        r.EndsAt.Format(time.RFC3339),
	}
	if r.CancelledAt != nil {
		item.CancelledAt = r.CancelledAt.Format(time.RFC3339)
	}
	return item
}

// ListSlots handles GET /v1/:family/slots.  It returns the current
// availability snapshot for every resource in the family.  The read
// takes no locks and may be momentarily stale; polling clients
// reconcile on the next tick.  Rooms accept an optional ?date=YYYY-MM-DD
// to pick which day's free intervals to derive (default today, UTC).
func (h *BookingHandler) ListSlots(c echo.Context) error {
	family, err := familyParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown family"})
	}
	q := service.AvailabilityQuery{}
	if d := c.QueryParam("date"); d != "" {
		day, err := service.ParseDay(d)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
		}
		q.Day = day
	}
	if f := c.QueryParam("from"); f != "" {
		from, err := service.ParseDay(f)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must be YYYY-MM-DD"})
		}
		q.From = from
	}
	rows, err := h.Svc.ListAvailability(c.Request().Context(), family, q)
	if err != nil {
		return writeServiceError(c, err)
	}
	items := make([]availabilityItem, 0, len(rows))
	for _, row := range rows {
		item := availabilityItem{
			ResourceID: row.Resource.ID,
			Family:     string(row.Resource.Family),
			Location:   row.Resource.Location,
			Limit:      row.Resource.Limit,
			Remaining:  row.Remaining,
		}
		if !row.Resource.StartsAt.IsZero() {
			item.Date = row.Resource.StartsAt.Format("2006-01-02")
			item.StartsAt = row.Resource.StartsAt.Format(time.RFC3339)
			item.EndsAt = row.Resource.EndsAt.Format(time.RFC3339)
		}
		for _, iv := range row.Free {
			item.Free = append(item.Free, intervalItem{
				StartsAt: iv.Start.Format(time.RFC3339),
				EndsAt:   iv.End.Format(time.RFC3339),
			})
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, items)
}

// Book handles POST /v1/:family/book.  The body carries the resource
// id and, for rooms, the requested window.  A retried request whose
// intent is already satisfied returns 201 with the existing
// reservation rather than an error, so double clicks and network
// jitter are harmless.
func (h *BookingHandler) Book(c echo.Context) error {
	subjectID, err := getSubjectID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if _, err := familyParam(c); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown family"})
	}
	var body struct {
		ResourceID string `json:"resource_id"`
		StartsAt   string `json:"starts_at"`
		EndsAt     string `json:"ends_at"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ResourceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "resource_id is required"})
	}
	var window *service.Window
	if body.StartsAt != "" || body.EndsAt != "" {
		start, err1 := time.Parse(time.RFC3339, body.StartsAt)
		end, err2 := time.Parse(time.RFC3339, body.EndsAt)
		if err1 != nil || err2 != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at and ends_at must be RFC3339"})
		}
		window = &service.Window{StartsAt: start, EndsAt: end}
	}
	resv, err := h.Svc.Reserve(c.Request().Context(), subjectID, body.ResourceID, window)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toReservationItem(resv))
}

// Cancel handles POST /v1/:family/cancel.  Only the owning subject may
// cancel; a second cancel of the same reservation reports
// ALREADY_CANCELLED without changing anything.
func (h *BookingHandler) Cancel(c echo.Context) error {
	subjectID, err := getSubjectID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if _, err := familyParam(c); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown family"})
	}
	var body struct {
		ReservationID string `json:"reservation_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ReservationID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reservation_id is required"})
	}
	if _, err := h.Svc.Cancel(c.Request().Context(), subjectID, body.ReservationID); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": model.StatusCancelled})
}

// MyRegistrations handles GET /v1/:family/my-registrations.  It
// returns the subject's reservations in the family, newest first,
// including cancelled ones for the history view.
func (h *BookingHandler) MyRegistrations(c echo.Context) error {
	subjectID, err := getSubjectID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	family, err := familyParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown family"})
	}
	list, err := h.Svc.MyReservations(c.Request().Context(), subjectID, family)
	if err != nil {
		return writeServiceError(c, err)
	}
	items := make([]reservationItem, 0, len(list))
	for i := range list {
		items = append(items, toReservationItem(&list[i]))
	}
	return c.JSON(http.StatusOK, items)
}
