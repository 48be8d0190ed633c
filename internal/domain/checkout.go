package domain

import (
	"context"
	"time"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/google/uuid"
)

// =============================================================================
// CHECKOUT DOMAIN ERRORS
// =============================================================================

var (
	ErrCheckoutNotFound     = &Error{Code: ENOTFOUND, Message: "Checkout not found"}
	ErrReservationLapsed    = &Error{Code: ECONFLICT, Message: "Some items in your cart are no longer held. Please review your cart."}
	ErrInvalidShippingRate  = &Error{Code: EINVALID, Message: "Selected shipping option is not available"}
	ErrPaymentUnavailable   = &Error{Code: EUNAVAILABLE, Message: "Payment provider is temporarily unavailable. Please try again."}
	ErrCheckoutNotPayable   = &Error{Code: ECONFLICT, Message: "Checkout is not awaiting payment"}
	ErrMissingCheckoutEmail = &Error{Code: EINVALID, Message: "An email address is required to check out"}
)

// CheckoutState is the lifecycle position of a checkout.
type CheckoutState string

const (
	CheckoutDraft          CheckoutState = "draft"
	CheckoutPricingLocked  CheckoutState = "pricing_locked"
	CheckoutPaymentPending CheckoutState = "payment_pending"
	CheckoutPaid           CheckoutState = "paid"
	CheckoutAbandoned      CheckoutState = "abandoned"
	CheckoutFailed         CheckoutState = "failed"
)

// checkoutTransitions lists every allowed move. Abandoned -> Paid exists only
// for a payment confirmation that arrives after the abandonment sweep.
var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutDraft:          {CheckoutPricingLocked},
	CheckoutPricingLocked:  {CheckoutPaymentPending, CheckoutAbandoned, CheckoutFailed},
	CheckoutPaymentPending: {CheckoutPaid, CheckoutAbandoned, CheckoutFailed},
	CheckoutAbandoned:      {CheckoutPaid},
}

// CanTransitionTo reports whether s may move to next.
func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the checkout still holds a coupon slot and may be paid.
func (s CheckoutState) IsOpen() bool {
	return s == CheckoutPricingLocked || s == CheckoutPaymentPending
}

// IsTerminal reports whether no further transition is possible.
func (s CheckoutState) IsTerminal() bool {
	return len(checkoutTransitions[s]) == 0
}

func (s CheckoutState) Valid() bool {
	switch s {
	case CheckoutDraft, CheckoutPricingLocked, CheckoutPaymentPending,
		CheckoutPaid, CheckoutAbandoned, CheckoutFailed:
		return true
	}
	return false
}

// CheckoutLine is the price snapshot of one cart line taken at pricing lock.
type CheckoutLine struct {
	VariantID      uuid.UUID `json:"variant_id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Options        Options   `json:"options,omitempty"`
	Quantity       int32     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// Totals is the locked money breakdown of a checkout or order.
type Totals struct {
	SubtotalCents int64  `json:"subtotal_cents"`
	DiscountCents int64  `json:"discount_cents"`
	ShippingCents int64  `json:"shipping_cents"`
	TaxCents      int64  `json:"tax_cents"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
}

// Checkout is a pricing-locked intent to buy the owner's cart.
type Checkout struct {
	ID               uuid.UUID
	Owner            Owner
	State            CheckoutState
	Email            string
	Shipping         address.Address
	ShippingRate     string
	Lines            []CheckoutLine
	Totals           Totals
	CouponCode       string
	PaymentSessionID string
	PaymentURL       string
	FailureReason    string
	ExpiresAt        time.Time
	// SessionExpiresAt is fixed the first time payment starts so retried
	// session requests send identical parameters.
	SessionExpiresAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transition moves the checkout to next or returns ErrInvalidTransition.
func (c *Checkout) Transition(next CheckoutState, now time.Time) error {
	if !c.State.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	c.State = next
	c.UpdatedAt = now
	return nil
}

// LockPricingParams are the shopper inputs captured at pricing lock.
type LockPricingParams struct {
	Email        string
	CouponCode   string
	Shipping     address.Address
	ShippingRate string
}

// CheckoutStatus is the advisory view returned to the payment redirect.
// It never reports paid until the authenticated webhook has created the order.
type CheckoutStatus struct {
	CheckoutID    uuid.UUID
	State         CheckoutState
	PaymentStatus string
	Status        string
	OrderNumber   string
}

// Redirect verification statuses.
const (
	RedirectAwaitingConfirmation = "awaiting_confirmation"
	RedirectConfirmed            = "confirmed"
	RedirectNotPaid              = "not_paid"
	RedirectFailed               = "failed"
)

// CheckoutService orchestrates pricing lock, payment and abandonment.
type CheckoutService interface {
	// LockPricing snapshots the cart, applies coupon, shipping and tax, and
	// reserves the coupon slot atomically with the lock.
	LockPricing(ctx context.Context, owner Owner, params LockPricingParams) (*Checkout, error)

	// StartPayment creates the hosted payment session and moves the checkout
	// to PaymentPending.
	StartPayment(ctx context.Context, owner Owner, checkoutID uuid.UUID) (*Checkout, error)

	// Cancel is a shopper-initiated move to Failed.
	Cancel(ctx context.Context, owner Owner, checkoutID uuid.UUID) (*Checkout, error)

	// MarkFailed moves an open checkout to Failed and releases its coupon slot.
	MarkFailed(ctx context.Context, checkoutID uuid.UUID, reason string) error

	// AbandonExpired moves open checkouts past their expiry to Abandoned.
	AbandonExpired(ctx context.Context) (int, error)

	// ValidateCoupon quotes a coupon against a subtotal without reserving it.
	ValidateCoupon(ctx context.Context, owner Owner, code string, subtotalCents int64) (*CouponQuote, error)

	// GetCheckout returns one of the owner's checkouts.
	GetCheckout(ctx context.Context, owner Owner, checkoutID uuid.UUID) (*Checkout, error)

	// VerifyRedirect re-reads the processor session behind a success redirect.
	// It never marks the checkout paid.
	VerifyRedirect(ctx context.Context, owner Owner, sessionID string) (*CheckoutStatus, error)
}
