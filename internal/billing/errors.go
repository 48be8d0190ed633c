package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAPIKey is returned when Stripe API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrSessionNotFound is returned when a checkout session does not exist.
	ErrSessionNotFound = errors.New("billing: checkout session not found")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrIdempotencyConflict is returned when idempotency key matches a different request.
	ErrIdempotencyConflict = errors.New("billing: idempotency key conflict")

	// ErrAmountTooSmall is returned when payment amount is below Stripe's minimum.
	ErrAmountTooSmall = errors.New("billing: amount too small (minimum $0.50 USD)")

	// ErrProviderUnavailable is returned while the circuit breaker is open or
	// saturated.
	ErrProviderUnavailable = errors.New("billing: payment provider unavailable")
)

// MinimumChargeCents is Stripe's smallest chargeable amount in USD.
const MinimumChargeCents = 50

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "resource_missing")
	Type          string // Stripe error type (e.g., "api_error")
	StatusCode    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	switch {
	case e.Code == "rate_limit", e.Code == "lock_timeout":
		return true
	case e.Type == "api_error", e.Type == "api_connection_error":
		return true
	case e.StatusCode == 0, e.StatusCode == 429, e.StatusCode >= 500:
		return true
	}
	return false
}

// IsUnavailable reports whether err means the provider could not be reached
// or refused service, as opposed to rejecting the request.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrProviderUnavailable) {
		return true
	}
	var se *StripeError
	if errors.As(err, &se) {
		return se.IsTemporary()
	}
	return false
}
