// Package events publishes order and checkout lifecycle events for
// downstream consumers (fulfilment, email, reconciliation).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the engine.
const (
	SubjectOrderFinalized          = "order.finalized"
	SubjectOrderFinalizationFailed = "order.finalization_failed"
	SubjectOrderStatusChanged      = "order.status_changed"
	SubjectCheckoutAbandoned       = "checkout.abandoned"
)

// Publisher sends an event to subject. Publishing is best effort: callers log
// failures and carry on, the database is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// OrderFinalized is published after an order is committed.
type OrderFinalized struct {
	OrderID    uuid.UUID `json:"order_id"`
	Number     string    `json:"order_number"`
	CheckoutID uuid.UUID `json:"checkout_id"`
	Status     string    `json:"status"`
	Email      string    `json:"email"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
	PaymentRef string    `json:"payment_ref"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FinalizationFailed is published when a confirmed payment could not be
// turned into an order and needs manual reconciliation.
type FinalizationFailed struct {
	OrderID    uuid.UUID `json:"order_id"`
	CheckoutID uuid.UUID `json:"checkout_id"`
	PaymentRef string    `json:"payment_ref"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OrderStatusChanged is published for every order status transition.
type OrderStatusChanged struct {
	OrderID    uuid.UUID `json:"order_id"`
	Number     string    `json:"order_number"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CheckoutAbandoned is published when a checkout expires unpaid.
type CheckoutAbandoned struct {
	CheckoutID uuid.UUID `json:"checkout_id"`
	OwnerKey   string    `json:"owner_key"`
	From       string    `json:"from"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NopPublisher drops every event. Used when NATS_URL is empty.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }
