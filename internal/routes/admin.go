package routes

import (
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/dukerupert/kaupa/internal/router"
	"github.com/dukerupert/kaupa/internal/telemetry"
)

// RegisterAdminRoutes registers operator routes. All of them require a
// bearer token carrying the admin role.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	admin := r.Group(
		middleware.WithOwner(deps.Auth.JWTSecret, deps.Auth.Cookies),
		middleware.RequireAdmin,
		telemetry.SentryContextMiddleware(sentryUser),
		middleware.MaxBodySize(middleware.SmallMaxBodySize),
	)

	admin.Post("/admin/orders/{id}/status", deps.OrderStatusHandler.ServeHTTP)
}
