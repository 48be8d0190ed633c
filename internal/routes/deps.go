package routes

import (
	"context"
	"net/http"

	"github.com/dukerupert/kaupa/internal/cookie"
	"github.com/dukerupert/kaupa/internal/handler/admin"
	"github.com/dukerupert/kaupa/internal/handler/api"
	"github.com/dukerupert/kaupa/internal/middleware"
)

// Auth carries what WithOwner needs to resolve the shopper.
type Auth struct {
	JWTSecret []byte
	Cookies   *cookie.Config
}

// APIDeps contains dependencies for the shopper API routes
type APIDeps struct {
	Auth Auth

	CartHandler     *api.CartHandler
	CheckoutHandler *api.CheckoutHandler
	OrderHandler    *api.OrderHandler
	VariantHandler  *api.VariantHandler

	// RateLimiter applies to every API route. StrictRateLimiter is added on
	// routes that reach the payment processor or expose guest lookups.
	RateLimiter       *middleware.RateLimiter
	StrictRateLimiter *middleware.RateLimiter
}

// AdminDeps contains dependencies for admin routes
type AdminDeps struct {
	Auth Auth

	OrderStatusHandler *admin.OrderStatusHandler
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// OpsDeps contains dependencies for health and metrics
type OpsDeps struct {
	// Ping reports whether the backing store is reachable.
	Ping    func(ctx context.Context) error
	Metrics http.Handler
}
