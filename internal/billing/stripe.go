package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/stripe/stripe-go/v83"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeProvider implements Provider using Stripe Checkout.
type StripeProvider struct {
	config StripeConfig
	logger *slog.Logger
}

// NewStripeProvider configures the Stripe SDK and returns a provider. API
// calls go through an http.Client traced by Sentry.
func NewStripeProvider(config StripeConfig, logger *slog.Logger) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	stripe.Key = config.APIKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: &telemetry.HTTPTransport{Transport: http.DefaultTransport},
		},
		MaxNetworkRetries: stripe.Int64(int64(config.MaxRetries)),
	}))

	logger.Info("Stripe provider configured", "test_mode", config.IsTestMode())

	return &StripeProvider{config: config, logger: logger}, nil
}

// CreateCheckoutSession opens a Stripe Checkout session in payment mode with a
// single line item for the priced total.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	if params.Currency == "" {
		params.Currency = string(stripe.CurrencyUSD)
	}
	if params.AmountCents < MinimumChargeCents {
		return nil, ErrAmountTooSmall
	}

	sp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					UnitAmount: stripe.Int64(params.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
	}
	sp.Context = ctx
	if params.CustomerEmail != "" {
		sp.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if params.ClientReferenceID != "" {
		sp.ClientReferenceID = stripe.String(params.ClientReferenceID)
	}
	if !params.ExpiresAt.IsZero() {
		sp.ExpiresAt = stripe.Int64(params.ExpiresAt.Unix())
	}
	for k, v := range params.Metadata {
		sp.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		sp.SetIdempotencyKey(params.IdempotencyKey)
	}

	start := time.Now()
	cs, err := checkoutsession.New(sp)
	observeStripe("create_session", start)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toSession(cs), nil
}

// GetCheckoutSession retrieves a Stripe Checkout session.
func (s *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	sp := &stripe.CheckoutSessionParams{}
	sp.Context = ctx

	start := time.Now()
	cs, err := checkoutsession.Get(sessionID, sp)
	observeStripe("get_session", start)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toSession(cs), nil
}

// ExpireCheckoutSession expires an open Stripe Checkout session.
func (s *StripeProvider) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	sp := &stripe.CheckoutSessionExpireParams{}
	sp.Context = ctx

	start := time.Now()
	_, err := checkoutsession.Expire(sessionID, sp)
	observeStripe("expire_session", start)
	if err == nil {
		return nil
	}

	// Stripe refuses to expire sessions that are already complete or expired.
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusBadRequest && se.Code != stripe.ErrorCodeResourceMissing {
		s.logger.Debug("session already closed", "session_id", sessionID, "error", se.Msg)
		return nil
	}
	return wrapStripeError(err)
}

// VerifyWebhookSignature verifies a Stripe webhook signature. API version
// mismatches are tolerated because the handler only reads session fields.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	return verifySignature(payload, signature, secret)
}

func verifySignature(payload []byte, signature string, secret string) error {
	_, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return nil
}

func toSession(cs *stripe.CheckoutSession) *Session {
	sess := &Session{
		ID:                cs.ID,
		URL:               cs.URL,
		Status:            string(cs.Status),
		PaymentStatus:     string(cs.PaymentStatus),
		AmountTotalCents:  cs.AmountTotal,
		Currency:          string(cs.Currency),
		CustomerEmail:     cs.CustomerEmail,
		ClientReferenceID: cs.ClientReferenceID,
		Metadata:          cs.Metadata,
	}
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		sess.CustomerEmail = cs.CustomerDetails.Email
	}
	if cs.PaymentIntent != nil {
		sess.PaymentIntentID = cs.PaymentIntent.ID
	}
	if cs.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(cs.ExpiresAt, 0).UTC()
	}
	if cs.Created > 0 {
		sess.CreatedAt = time.Unix(cs.Created, 0).UTC()
	}
	return sess
}

func observeStripe(operation string, start time.Time) {
	if telemetry.Business != nil {
		telemetry.Business.StripeAPILatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// wrapStripeError converts SDK errors into billing errors.
func wrapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &StripeError{Message: err.Error(), OriginalError: err}
	}

	if se.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, se.Msg)
	}
	if se.Code == stripe.ErrorCodeIdempotencyKeyInUse || se.Type == stripe.ErrorTypeIdempotency {
		return fmt.Errorf("%w: %s", ErrIdempotencyConflict, se.Msg)
	}
	if se.HTTPStatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, se.Msg)
	}

	return &StripeError{
		Message:       se.Msg,
		Code:          string(se.Code),
		Type:          string(se.Type),
		StatusCode:    se.HTTPStatusCode,
		RequestID:     se.RequestID,
		OriginalError: err,
	}
}
