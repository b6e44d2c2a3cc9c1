// Package handler contains the Echo HTTP handlers for the reservation
// API.  Handlers translate transport concerns (path params, JSON
// bodies, status codes) and delegate every decision to the service
// layer; the four expected rejections come back as typed reason codes,
// not as logged failures.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
	"github.com/iliyamo/slot-reservation/internal/service"
)

// getSubjectID extracts the authenticated subject from the context,
// where the JWT middleware stored the token's sub claim.
func getSubjectID(c echo.Context) (string, error) {
	if v, ok := c.Get("subject_id").(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("missing subject_id in context")
}

// familyParam resolves the :family path segment shared by all booking
// routes.
func familyParam(c echo.Context) (model.Family, error) {
	return model.ParseFamily(c.Param("family"))
}

// rejection maps a service error to its HTTP status and reason code.
// ok is false for errors that are not expected rejections.
func rejection(err error) (status int, reason string, ok bool) {
	switch {
	case errors.Is(err, repository.ErrCapacityFull):
		return http.StatusConflict, "CAPACITY_FULL", true
	case errors.Is(err, repository.ErrTimeConflict):
		return http.StatusConflict, "TIME_CONFLICT", true
	case errors.Is(err, repository.ErrAlreadyReserved):
		return http.StatusConflict, "ALREADY_RESERVED", true
	case errors.Is(err, repository.ErrNotOwner):
		return http.StatusBadRequest, "NOT_OWNER", true
	case errors.Is(err, repository.ErrAlreadyCancelled):
		return http.StatusBadRequest, "ALREADY_CANCELLED", true
	}
	return 0, "", false
}

// writeServiceError renders any non-success service result.  Expected
// rejections become {"reason": ...}; validation failures and unknown
// ids become plain error bodies.
func writeServiceError(c echo.Context, err error) error {
	if status, reason, ok := rejection(err); ok {
		return c.JSON(status, echo.Map{"reason": reason})
	}
	if errors.Is(err, service.ErrInvalidInput) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	if repository.IsRetryable(err) {
		// Bounded retries inside the service already ran; tell the
		// client the whole operation is safe to retry.
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "transient storage conflict, retry"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
}
