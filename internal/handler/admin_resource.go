package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// AdminHandler implements the administrative path for the resource
// registry: creating bookable resources and adjusting the capacity of
// counted ones.  The reservation flow itself never mutates resources.
// Routes are restricted to the ADMIN role by middleware.
type AdminHandler struct {
	Resources *repository.ResourceRepo
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(resources *repository.ResourceRepo) *AdminHandler {
	if resources == nil {
		panic("nil repository passed to NewAdminHandler")
	}
	return &AdminHandler{Resources: resources}
}

type resourceItem struct {
	ResourceID string `json:"resource_id"`
	Family     string `json:"family"`
	Shape      string `json:"constraint_shape"`
	Limit      uint32 `json:"limit,omitempty"`
	StartsAt   string `json:"starts_at,omitempty"`
	EndsAt     string `json:"ends_at,omitempty"`
	Location   string `json:"location,omitempty"`
}

func toResourceItem(res *model.Resource) resourceItem {
	item := resourceItem{
		ResourceID: res.ID,
		Family:     string(res.Family),
		Shape:      string(res.Shape),
		Limit:      res.Limit,
		Location:   res.Location,
	}
	if !res.StartsAt.IsZero() {
		item.StartsAt = res.StartsAt.Format(time.RFC3339)
		item.EndsAt = res.EndsAt.Format(time.RFC3339)
	}
	return item
}

// CreateResource handles POST /v1/admin/resources.  Counted-capacity
// resources require a positive limit and a fixed window; rooms carry
// neither, since their windows arrive per reservation.
func (h *AdminHandler) CreateResource(c echo.Context) error {
	var body struct {
		Family   string `json:"family"`
		Limit    uint32 `json:"limit"`
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
		Location string `json:"location"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	family, err := model.ParseFamily(body.Family)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown family"})
	}

	res := &model.Resource{
		ID:       uuid.NewString(),
		Family:   family,
		Location: body.Location,
	}
	if family == model.FamilyRoom {
		res.Shape = model.ShapeIntervalExclusive
	} else {
		res.Shape = model.ShapeCountedCapacity
		if body.Limit < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be at least 1"})
		}
		start, err1 := time.Parse(time.RFC3339, body.StartsAt)
		end, err2 := time.Parse(time.RFC3339, body.EndsAt)
		if err1 != nil || err2 != nil || !start.Before(end) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "a valid starts_at/ends_at window is required"})
		}
		res.Limit = body.Limit
		res.StartsAt = start.UTC()
		res.EndsAt = end.UTC()
	}

	if err := h.Resources.Create(c.Request().Context(), res); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create resource"})
	}
	return c.JSON(http.StatusCreated, toResourceItem(res))
}

// GetResource handles GET /v1/admin/resources/:id.
func (h *AdminHandler) GetResource(c echo.Context) error {
	res, err := h.Resources.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "resource not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, toResourceItem(res))
}

// UpdateLimit handles PATCH /v1/admin/resources/:id/limit, the
// administrative capacity adjustment.  It applies only to
// counted-capacity resources; the limit on the resource row is
// otherwise immutable.
func (h *AdminHandler) UpdateLimit(c echo.Context) error {
	var body struct {
		Limit uint32 `json:"limit"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Limit < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be at least 1"})
	}
	ctx := c.Request().Context()
	res, err := h.Resources.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "resource not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if res.Shape != model.ShapeCountedCapacity {
		return c.JSON(http.StatusConflict, echo.Map{"error": "resource has no capacity limit"})
	}
	if err := h.Resources.UpdateLimit(ctx, res.ID, body.Limit); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update limit"})
	}
	res.Limit = body.Limit
	return c.JSON(http.StatusOK, toResourceItem(res))
}
