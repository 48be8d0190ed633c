// Package billing wraps the hosted payment provider. The checkout flow only
// needs four things from it: open a hosted payment session, read one back,
// expire one, and verify webhook signatures.
package billing

import (
	"context"
	"time"
)

// MinSessionWindow is the shortest session lifetime Stripe accepts.
const MinSessionWindow = 30 * time.Minute

// Provider defines the interface for hosted payment sessions.
type Provider interface {
	// CreateCheckoutSession opens a hosted payment page for a priced checkout.
	// IdempotencyKey makes retries return the same session.
	CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*Session, error)

	// GetCheckoutSession reads the current state of a session. Used to answer
	// the customer's return redirect before the webhook lands.
	GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error)

	// ExpireCheckoutSession closes an open session so it can no longer be
	// paid. Expiring an already closed session is not an error.
	ExpireCheckoutSession(ctx context.Context, sessionID string) error

	// VerifyWebhookSignature verifies that a webhook request is authentic.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error
}

// CreateSessionParams contains parameters for opening a hosted payment session.
type CreateSessionParams struct {
	// AmountCents is the full amount to charge, tax and shipping included.
	AmountCents int64

	// Currency is the ISO currency code (e.g. "usd")
	Currency string

	// Description is shown as the single line item on the hosted page.
	Description string

	// CustomerEmail pre-fills the payment page.
	CustomerEmail string

	// ClientReferenceID is echoed back on the session and in webhooks.
	ClientReferenceID string

	SuccessURL string
	CancelURL  string

	// ExpiresAt bounds how long the session can be paid. It must be at
	// least MinSessionWindow out and is sent as given, so retries with the
	// same idempotency key match.
	ExpiresAt time.Time

	// Metadata must carry checkout_id so webhooks can be matched.
	Metadata map[string]string

	// IdempotencyKey prevents duplicate sessions on retry.
	IdempotencyKey string
}

// Session statuses as reported by the provider.
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Session represents a hosted payment session.
type Session struct {
	ID                string
	URL               string
	Status            string
	PaymentStatus     string
	AmountTotalCents  int64
	Currency          string
	CustomerEmail     string
	ClientReferenceID string
	PaymentIntentID   string
	Metadata          map[string]string
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// Paid reports whether funds are settled for the session.
func (s *Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// CheckoutID returns the checkout_id metadata value, if any.
func (s *Session) CheckoutID() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata["checkout_id"]
}
