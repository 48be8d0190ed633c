// Package webhook receives payment processor notifications. It is the only
// path by which a checkout becomes an order.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/kaupa/internal/billing"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/handler"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/dukerupert/kaupa/internal/redisx"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
)

// Checkout session events we act on.
const (
	EventSessionCompleted          = "checkout.session.completed"
	EventSessionAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	EventSessionAsyncPaymentFailed = "checkout.session.async_payment_failed"
	EventSessionExpired            = "checkout.session.expired"
)

const dedupScope = "stripe"

// Processing outcomes recorded on the webhook_processed_total metric.
const (
	resultOK      = "ok"
	resultFailed  = "failed"
	resultRetry   = "retry"
	resultIgnored = "ignored"
)

// StripeHandler handles Stripe webhook events
type StripeHandler struct {
	provider  billing.Provider
	orders    domain.OrderService
	checkouts domain.CheckoutService
	dedup     redisx.Deduper
	config    StripeWebhookConfig
}

// StripeWebhookConfig contains configuration for Stripe webhook handling
type StripeWebhookConfig struct {
	// WebhookSecret is the endpoint signing secret (whsec_...).
	WebhookSecret string
}

// NewStripeHandler creates a new Stripe webhook handler. dedup may be nil,
// in which case every delivery is processed and the finalizer's own
// idempotency absorbs repeats.
func NewStripeHandler(provider billing.Provider, orders domain.OrderService, checkouts domain.CheckoutService, dedup redisx.Deduper, config StripeWebhookConfig) *StripeHandler {
	return &StripeHandler{
		provider:  provider,
		orders:    orders,
		checkouts: checkouts,
		dedup:     dedup,
		config:    config,
	}
}

// HandleWebhook processes incoming Stripe webhook events.
//
// Nothing in the body is trusted until the signature checks out. After that
// business outcomes are acknowledged with 200. Store outages and unexpected
// internal errors release the dedup claim and answer 5xx so Stripe retries.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:8080/webhooks/stripe
//	stripe trigger checkout.session.completed
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "webhook.stripe"
	start := time.Now()
	logger := middleware.GetLogger(r.Context())

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, op, "Request body too large"))
			return
		}
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, op, "Error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		logger.Warn("webhook rejected: missing signature", "client_ip", middleware.GetClientIPFromContext(r.Context()))
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, op, "Missing signature"))
		return
	}

	if err := h.provider.VerifyWebhookSignature(payload, signature, h.config.WebhookSecret); err != nil {
		logger.Warn("webhook rejected: signature verification failed",
			"error", err,
			"client_ip", middleware.GetClientIPFromContext(r.Context()),
			"payload_bytes", len(payload),
		)
		handler.ErrorResponse(w, r, domain.WithOp(domain.ErrPaymentVerificationFailed, op))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Warn("webhook rejected: malformed event", "error", err)
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, op, "Invalid JSON"))
		return
	}

	eventType := string(event.Type)
	logger = logger.With("event_id", event.ID, "event_type", eventType)
	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(eventType).Inc()
		defer func() {
			telemetry.Business.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		}()
	}

	// Stripe may give up on the request before we finish; the work should not.
	ctx := context.WithoutCancel(r.Context())

	if h.dedup != nil && event.ID != "" {
		claimed, err := h.dedup.Claim(ctx, dedupScope, event.ID)
		switch {
		case err != nil:
			logger.Warn("webhook dedup unavailable, processing anyway", "error", err)
		case !claimed:
			logger.Info("webhook already processed")
			if telemetry.Business != nil {
				telemetry.Business.WebhookDuplicates.Inc()
			}
			acknowledge(w)
			return
		}
	}

	telemetry.AddBreadcrumb("webhook", eventType, map[string]interface{}{"event_id": event.ID})
	result, err := h.dispatch(ctx, event)
	if err != nil {
		if shouldRetry(err) {
			h.releaseClaim(ctx, logger, event.ID)
			recordProcessed(eventType, resultRetry)
			handler.ErrorResponse(w, r, err)
			return
		}

		logger.Error("webhook processing failed",
			"error", err,
			"code", domain.ErrorCode(err),
			"op", domain.ErrorOp(err),
		)
		telemetry.CaptureErrorFromContext(r.Context(), err, map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		})
		recordProcessed(eventType, resultFailed)
		acknowledge(w)
		return
	}

	logger.Info("webhook processed", "result", result, "duration_ms", time.Since(start).Milliseconds())
	recordProcessed(eventType, result)
	acknowledge(w)
}

// dispatch routes an authenticated event to the service that owns it.
func (h *StripeHandler) dispatch(ctx context.Context, event stripe.Event) (string, error) {
	switch event.Type {
	case EventSessionCompleted:
		return h.handleSessionCompleted(ctx, event)
	case EventSessionAsyncPaymentOK:
		return h.handleAsyncPayment(ctx, event, domain.OrderPaid, "async payment succeeded")
	case EventSessionAsyncPaymentFailed:
		return h.handleAsyncPayment(ctx, event, domain.OrderCancelled, "async payment failed")
	case EventSessionExpired:
		return h.handleSessionExpired(ctx, event)
	default:
		return resultIgnored, nil
	}
}

// handleSessionCompleted finalizes the order. An unpaid session means an
// asynchronous method is still clearing; the order is created Pending.
func (h *StripeHandler) handleSessionCompleted(ctx context.Context, event stripe.Event) (string, error) {
	const op = "webhook.stripe.session_completed"

	cs, checkoutID, err := parseSession(event, op)
	if err != nil {
		return "", err
	}

	email := cs.CustomerEmail
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		email = cs.CustomerDetails.Email
	}

	_, err = h.orders.Finalize(ctx, domain.FinalizeParams{
		PaymentRef:     cs.ID,
		CheckoutID:     checkoutID,
		PaymentSettled: sessionSettled(cs),
		CustomerEmail:  email,
	})
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		return resultOK, nil
	}
	if err != nil {
		return "", err
	}
	return resultOK, nil
}

func (h *StripeHandler) handleAsyncPayment(ctx context.Context, event stripe.Event, to domain.OrderStatus, note string) (string, error) {
	const op = "webhook.stripe.async_payment"

	cs, _, err := parseSession(event, op)
	if err != nil {
		return "", err
	}

	_, err = h.orders.TransitionByPaymentRef(ctx, cs.ID, to, note)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		// Already moved by an earlier delivery or by an admin.
		return resultIgnored, nil
	case errors.Is(err, domain.ErrOrderFlagged):
		middleware.GetLogger(ctx).Warn("async payment outcome left for manual review",
			"payment_ref", cs.ID,
			"target_status", to,
		)
		return resultIgnored, nil
	}
	if err != nil {
		return "", err
	}
	return resultOK, nil
}

func (h *StripeHandler) handleSessionExpired(ctx context.Context, event stripe.Event) (string, error) {
	const op = "webhook.stripe.session_expired"

	_, checkoutID, err := parseSession(event, op)
	if err != nil {
		return "", err
	}

	// A checkout that already closed is left alone by MarkFailed.
	if err := h.checkouts.MarkFailed(ctx, checkoutID, "payment session expired"); err != nil {
		return "", err
	}
	return resultOK, nil
}

// shouldRetry reports whether Stripe should redeliver. A recorded
// finalization failure is final; other internal errors left no trace and
// must be processed again.
func shouldRetry(err error) bool {
	switch domain.ErrorCode(err) {
	case domain.EUNAVAILABLE:
		return true
	case domain.EINTERNAL:
		return !errors.Is(err, domain.ErrFinalizationFailed)
	default:
		return false
	}
}

// releaseClaim forgets the delivery so Stripe's retry is processed.
func (h *StripeHandler) releaseClaim(ctx context.Context, logger *slog.Logger, eventID string) {
	if h.dedup == nil || eventID == "" {
		return
	}
	if err := h.dedup.Release(ctx, dedupScope, eventID); err != nil {
		logger.Warn("failed to release webhook dedup claim", "error", err)
	}
}

// parseSession decodes the checkout session carried by the event. The
// checkout_id metadata is the only link back to our checkout.
func parseSession(event stripe.Event, op string) (*stripe.CheckoutSession, uuid.UUID, error) {
	if event.Data == nil {
		return nil, uuid.Nil, domain.Errorf(domain.EINVALID, op, "Event has no data")
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, uuid.Nil, domain.Errorf(domain.EINVALID, op, "Event data is not a checkout session")
	}
	if cs.ID == "" {
		return nil, uuid.Nil, domain.WithOp(domain.ErrMissingPaymentRef, op)
	}

	checkoutID, err := uuid.Parse(cs.Metadata["checkout_id"])
	if err != nil {
		return nil, uuid.Nil, domain.WithOp(domain.ErrMissingCheckoutID, op)
	}
	return &cs, checkoutID, nil
}

func sessionSettled(cs *stripe.CheckoutSession) bool {
	switch string(cs.PaymentStatus) {
	case billing.PaymentStatusPaid, billing.PaymentStatusNoPaymentRequired:
		return true
	default:
		return false
	}
}

func recordProcessed(eventType, result string) {
	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(eventType, result).Inc()
	}
}

func acknowledge(w http.ResponseWriter) {
	handler.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
