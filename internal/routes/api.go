package routes

import (
	"context"

	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/dukerupert/kaupa/internal/router"
	"github.com/dukerupert/kaupa/internal/telemetry"
)

// RegisterAPIRoutes registers the shopper-facing JSON API. Every route
// resolves the owner first; writes from cookie-holding browsers must be JSON.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	api := r.Group(
		middleware.WithOwner(deps.Auth.JWTSecret, deps.Auth.Cookies),
		telemetry.SentryContextMiddleware(sentryUser),
		middleware.CSRF(middleware.DefaultCSRFConfig()),
		middleware.MaxBodySize(middleware.SmallMaxBodySize),
		deps.RateLimiter.Middleware,
	)
	strict := api.Group(deps.StrictRateLimiter.Middleware)

	// Cart
	api.Get("/api/cart", deps.CartHandler.Get)
	api.Post("/api/cart/items", deps.CartHandler.AddItem)
	api.Patch("/api/cart/items/{id}", deps.CartHandler.UpdateItem)
	api.Delete("/api/cart/items/{id}", deps.CartHandler.RemoveItem)
	api.Post("/api/cart/merge", deps.CartHandler.Merge, middleware.RequireUser)

	// Coupons and checkout
	api.Post("/api/coupons/validate", deps.CheckoutHandler.ValidateCoupon)
	api.Post("/api/checkout", deps.CheckoutHandler.LockPricing)
	api.Get("/api/checkout/return", deps.CheckoutHandler.Return)
	api.Get("/api/checkout/{id}", deps.CheckoutHandler.Get)
	api.Post("/api/checkout/{id}/cancel", deps.CheckoutHandler.Cancel)
	strict.Post("/api/checkout/{id}/pay", deps.CheckoutHandler.StartPayment)

	// Orders
	api.Get("/api/orders/by-session/{session_id}", deps.OrderHandler.BySession)
	api.Get("/api/orders/{id}", deps.OrderHandler.Get)
	strict.Post("/api/orders/lookup", deps.OrderHandler.Lookup)

	// Catalog
	api.Get("/api/variants/{id}/availability", deps.VariantHandler.Availability)
}

// sentryUser tags Sentry events with the caller. Guest ids are bearer
// credentials for a cart, so guests are reported without one.
func sentryUser(ctx context.Context) *telemetry.UserInfo {
	owner, ok := middleware.GetOwner(ctx)
	if !ok {
		return nil
	}
	if owner.IsGuest() {
		return &telemetry.UserInfo{ID: "guest"}
	}
	return &telemetry.UserInfo{ID: owner.Key()}
}
