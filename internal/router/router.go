// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/handler"
	"github.com/iliyamo/slot-reservation/internal/middleware"
)

// RegisterRoutes registers routes that require no authentication.
// Currently only the health check used by load balancers.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterBooking registers the family-scoped booking endpoints.  The
// availability listing is readable without a token so views can render
// before login and so the response cache serves one entry per family;
// reserve, cancel and the personal history require a STUDENT token.
// cacheMW fronts the polled availability GET and may be nil.
func RegisterBooking(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, cacheMW echo.MiddlewareFunc) {
	if cacheMW != nil {
		e.GET("/v1/:family/slots", h.ListSlots, cacheMW)
	} else {
		e.GET("/v1/:family/slots", h.ListSlots)
	}

	g := e.Group(
		"/v1/:family",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("STUDENT", "ADMIN"),
	)
	g.POST("/book", h.Book)
	g.POST("/cancel", h.Cancel)
	g.GET("/my-registrations", h.MyRegistrations)
}

// RegisterAdmin registers the administrative resource registry
// endpoints under /v1/admin.  Only ADMIN tokens pass.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)
	g.POST("/resources", a.CreateResource)
	g.GET("/resources/:id", a.GetResource)
	g.PATCH("/resources/:id/limit", a.UpdateLimit)
}
