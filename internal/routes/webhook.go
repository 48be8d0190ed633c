package routes

import (
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/dukerupert/kaupa/internal/router"
)

// RegisterWebhookRoutes registers all webhook routes.
//
// Webhook routes carry no owner or CSRF middleware. The handler verifies
// the Stripe signature before reading anything from the body.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	hooks := r.Group(middleware.MaxBodySize(middleware.WebhookMaxBodySize))

	hooks.Post("/webhooks/stripe", deps.StripeHandler)
}
