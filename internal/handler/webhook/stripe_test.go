package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/kaupa/internal/billing"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/redisx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
)

const testWebhookSecret = "whsec_test_secret"

var errNotImplemented = errors.New("not implemented")

// mockOrderService implements domain.OrderService for testing
type mockOrderService struct {
	finalizeFunc               func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error)
	transitionByPaymentRefFunc func(ctx context.Context, ref string, to domain.OrderStatus, note string) (*domain.OrderDetail, error)
}

func (m *mockOrderService) Finalize(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
	if m.finalizeFunc != nil {
		return m.finalizeFunc(ctx, params)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) GetOrderByPaymentRef(ctx context.Context, ref string) (*domain.OrderDetail, error) {
	return nil, errNotImplemented
}

func (m *mockOrderService) LookupGuestOrder(ctx context.Context, email, number string) (*domain.OrderDetail, error) {
	return nil, errNotImplemented
}

func (m *mockOrderService) GetOrderForOwner(ctx context.Context, owner domain.Owner, id uuid.UUID) (*domain.OrderDetail, error) {
	return nil, errNotImplemented
}

func (m *mockOrderService) TransitionStatus(ctx context.Context, id uuid.UUID, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
	return nil, errNotImplemented
}

func (m *mockOrderService) TransitionByPaymentRef(ctx context.Context, ref string, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
	if m.transitionByPaymentRefFunc != nil {
		return m.transitionByPaymentRefFunc(ctx, ref, to, note)
	}
	return nil, errNotImplemented
}

// mockCheckoutService implements domain.CheckoutService for testing
type mockCheckoutService struct {
	markFailedFunc func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *mockCheckoutService) LockPricing(ctx context.Context, owner domain.Owner, params domain.LockPricingParams) (*domain.Checkout, error) {
	return nil, errNotImplemented
}

func (m *mockCheckoutService) StartPayment(ctx context.Context, owner domain.Owner, id uuid.UUID) (*domain.Checkout, error) {
	return nil, errNotImplemented
}

func (m *mockCheckoutService) Cancel(ctx context.Context, owner domain.Owner, id uuid.UUID) (*domain.Checkout, error) {
	return nil, errNotImplemented
}

func (m *mockCheckoutService) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.markFailedFunc != nil {
		return m.markFailedFunc(ctx, id, reason)
	}
	return errNotImplemented
}

func (m *mockCheckoutService) AbandonExpired(ctx context.Context) (int, error) {
	return 0, errNotImplemented
}

func (m *mockCheckoutService) ValidateCoupon(ctx context.Context, owner domain.Owner, code string, subtotal int64) (*domain.CouponQuote, error) {
	return nil, errNotImplemented
}

func (m *mockCheckoutService) GetCheckout(ctx context.Context, owner domain.Owner, id uuid.UUID) (*domain.Checkout, error) {
	return nil, errNotImplemented
}

func (m *mockCheckoutService) VerifyRedirect(ctx context.Context, owner domain.Owner, sessionID string) (*domain.CheckoutStatus, error) {
	return nil, errNotImplemented
}

// sessionEvent builds a checkout.session.* event payload.
func sessionEvent(t *testing.T, eventID, eventType string, session map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-09-30.clover",
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	return payload
}

func completedSession(checkoutID uuid.UUID, paymentStatus string) map[string]any {
	return map[string]any{
		"id":             "cs_test_a1",
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": paymentStatus,
		"amount_total":   3929,
		"currency":       "usd",
		"customer_details": map[string]any{
			"email": "ada@example.com",
		},
		"metadata": map[string]string{"checkout_id": checkoutID.String()},
	}
}

func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func newTestHandler(orders *mockOrderService, checkouts *mockCheckoutService, dedup redisx.Deduper) *StripeHandler {
	return NewStripeHandler(billing.NewMockProvider(), orders, checkouts, dedup, StripeWebhookConfig{
		WebhookSecret: testWebhookSecret,
	})
}

func TestHandleWebhook_RejectsUnsignedRequests(t *testing.T) {
	orders := &mockOrderService{
		finalizeFunc: func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
			t.Fatal("finalize must not run for an unverified request")
			return nil, nil
		},
	}
	h := newTestHandler(orders, &mockCheckoutService{}, nil)
	payload := sessionEvent(t, "evt_1", EventSessionCompleted, completedSession(uuid.New(), "paid"))

	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		rec := httptest.NewRecorder()

		h.HandleWebhook(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload: payload,
			Secret:  "whsec_someone_else",
		})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signed.Header)
		rec := httptest.NewRecorder()

		h.HandleWebhook(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotContains(t, rec.Body.String(), "whsec")
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, payload)
		tampered := bytes.Replace(payload, []byte(`"paid"`), []byte(`"unpaid"`), 1)
		req.Body = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(tampered)).Body
		rec := httptest.NewRecorder()

		h.HandleWebhook(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleWebhook_SessionCompleted(t *testing.T) {
	tests := []struct {
		name          string
		paymentStatus string
		wantSettled   bool
	}{
		{"paid", "paid", true},
		{"no payment required", "no_payment_required", true},
		{"async method pending", "unpaid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkoutID := uuid.New()
			var got domain.FinalizeParams
			orders := &mockOrderService{
				finalizeFunc: func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
					got = params
					return &domain.OrderDetail{}, nil
				},
			}
			h := newTestHandler(orders, &mockCheckoutService{}, nil)

			rec := httptest.NewRecorder()
			h.HandleWebhook(rec, signedRequest(t, sessionEvent(t, "evt_"+tt.paymentStatus, EventSessionCompleted, completedSession(checkoutID, tt.paymentStatus))))

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.JSONEq(t, `{"received":true}`, rec.Body.String())
			assert.Equal(t, "cs_test_a1", got.PaymentRef)
			assert.Equal(t, checkoutID, got.CheckoutID)
			assert.Equal(t, tt.wantSettled, got.PaymentSettled)
			assert.Equal(t, "ada@example.com", got.CustomerEmail)
		})
	}
}

func TestHandleWebhook_ProcessingOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"already finalized is success", domain.WithOp(domain.ErrAlreadyFinalized, "order.finalize"), http.StatusOK},
		{"finalization failure is acknowledged", domain.WithOp(domain.ErrFinalizationFailed, "order.finalize"), http.StatusOK},
		{"store outage asks for a retry", domain.WithOp(domain.ErrStoreUnavailable, "order.finalize"), http.StatusServiceUnavailable},
		{"unexpected storage error asks for a retry", domain.Internal(errors.New("conn reset"), "order.finalize", "storage error"), http.StatusInternalServerError},
		{"missing checkout is acknowledged", domain.WithOp(domain.ErrCheckoutNotFound, "order.finalize"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrderService{
				finalizeFunc: func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
					return &domain.OrderDetail{}, tt.err
				},
			}
			h := newTestHandler(orders, &mockCheckoutService{}, nil)

			rec := httptest.NewRecorder()
			h.HandleWebhook(rec, signedRequest(t, sessionEvent(t, "evt_outcome", EventSessionCompleted, completedSession(uuid.New(), "paid"))))

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandleWebhook_MissingCheckoutMetadata(t *testing.T) {
	orders := &mockOrderService{
		finalizeFunc: func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
			t.Fatal("finalize must not run without a checkout id")
			return nil, nil
		},
	}
	h := newTestHandler(orders, &mockCheckoutService{}, nil)

	session := completedSession(uuid.New(), "paid")
	session["metadata"] = map[string]string{}

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, sessionEvent(t, "evt_nometa", EventSessionCompleted, session)))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhook_Dedup(t *testing.T) {
	calls := 0
	orders := &mockOrderService{
		finalizeFunc: func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
			calls++
			return &domain.OrderDetail{}, nil
		},
	}
	h := newTestHandler(orders, &mockCheckoutService{}, redisx.NewMemoryDeduper(0))
	payload := sessionEvent(t, "evt_dup", EventSessionCompleted, completedSession(uuid.New(), "paid"))

	for range 3 {
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, signedRequest(t, payload))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, calls, "repeat deliveries of one event should be skipped")
}

func TestHandleWebhook_RetryReleasesDedupClaim(t *testing.T) {
	calls := 0
	orders := &mockOrderService{
		finalizeFunc: func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
			calls++
			if calls == 1 {
				return nil, domain.ErrStoreUnavailable
			}
			return &domain.OrderDetail{}, nil
		},
	}
	h := newTestHandler(orders, &mockCheckoutService{}, redisx.NewMemoryDeduper(0))
	payload := sessionEvent(t, "evt_retry", EventSessionCompleted, completedSession(uuid.New(), "paid"))

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, payload))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, payload))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, calls)
}

func TestHandleWebhook_InternalErrorReleasesDedupClaim(t *testing.T) {
	calls := 0
	orders := &mockOrderService{
		finalizeFunc: func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
			calls++
			if calls == 1 {
				return nil, domain.Internal(errors.New("unexpected EOF"), "order.finalize", "storage error")
			}
			return &domain.OrderDetail{}, nil
		},
	}
	h := newTestHandler(orders, &mockCheckoutService{}, redisx.NewMemoryDeduper(0))
	payload := sessionEvent(t, "evt_internal", EventSessionCompleted, completedSession(uuid.New(), "paid"))

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, payload))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, payload))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, calls, "the redelivery must be processed")
}

func TestHandleWebhook_AsyncPaymentOnFlaggedOrder(t *testing.T) {
	orders := &mockOrderService{
		transitionByPaymentRefFunc: func(ctx context.Context, ref string, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
			return &domain.OrderDetail{Order: domain.Order{Status: domain.OrderFinalizationFailed}},
				domain.WithOp(domain.ErrOrderFlagged, "order.transition_by_payment_ref")
		},
	}
	h := newTestHandler(orders, &mockCheckoutService{}, nil)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, sessionEvent(t, "evt_async_flagged", EventSessionAsyncPaymentOK, completedSession(uuid.New(), "paid"))))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhook_AsyncPayment(t *testing.T) {
	tests := []struct {
		eventType string
		want      domain.OrderStatus
	}{
		{EventSessionAsyncPaymentOK, domain.OrderPaid},
		{EventSessionAsyncPaymentFailed, domain.OrderCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			var gotRef string
			var gotStatus domain.OrderStatus
			orders := &mockOrderService{
				transitionByPaymentRefFunc: func(ctx context.Context, ref string, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
					gotRef, gotStatus = ref, to
					return &domain.OrderDetail{}, nil
				},
			}
			h := newTestHandler(orders, &mockCheckoutService{}, nil)

			rec := httptest.NewRecorder()
			h.HandleWebhook(rec, signedRequest(t, sessionEvent(t, "evt_async", tt.eventType, completedSession(uuid.New(), "paid"))))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "cs_test_a1", gotRef)
			assert.Equal(t, tt.want, gotStatus)
		})
	}
}

func TestHandleWebhook_AsyncPaymentAlreadyApplied(t *testing.T) {
	orders := &mockOrderService{
		transitionByPaymentRefFunc: func(ctx context.Context, ref string, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
			return nil, domain.WithOp(domain.ErrInvalidTransition, "order.transition")
		},
	}
	h := newTestHandler(orders, &mockCheckoutService{}, nil)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, sessionEvent(t, "evt_async_dup", EventSessionAsyncPaymentOK, completedSession(uuid.New(), "paid"))))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhook_SessionExpired(t *testing.T) {
	checkoutID := uuid.New()
	var gotID uuid.UUID
	checkouts := &mockCheckoutService{
		markFailedFunc: func(ctx context.Context, id uuid.UUID, reason string) error {
			gotID = id
			assert.Equal(t, "payment session expired", reason)
			return nil
		},
	}
	h := newTestHandler(&mockOrderService{}, checkouts, nil)

	session := completedSession(checkoutID, "unpaid")
	session["status"] = "expired"

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, sessionEvent(t, "evt_expired", EventSessionExpired, session)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, checkoutID, gotID)
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	h := newTestHandler(&mockOrderService{}, &mockCheckoutService{}, nil)

	payload, err := json.Marshal(map[string]any{
		"id":     "evt_other",
		"object": "event",
		"type":   "payment_intent.created",
		"data":   map[string]any{"object": map[string]any{"id": "pi_1", "object": "payment_intent"}},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedRequest(t, payload))

	assert.Equal(t, http.StatusOK, rec.Code)
}
