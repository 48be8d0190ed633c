package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakerProvider_TripsOnUnavailable(t *testing.T) {
	ctx := context.Background()
	mock := NewMockProvider()
	outage := &StripeError{Message: "upstream", Type: "api_error", StatusCode: 503}
	mock.CreateCheckoutSessionFunc = func(ctx context.Context, params CreateSessionParams) (*Session, error) {
		return nil, outage
	}

	b := NewBreakerProvider(mock, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, discardLogger())

	for i := 0; i < 2; i++ {
		_, err := b.CreateCheckoutSession(ctx, CreateSessionParams{AmountCents: 100})
		assert.ErrorIs(t, err, outage)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.CreateCheckoutSession(ctx, CreateSessionParams{AmountCents: 100})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.True(t, IsUnavailable(err))
	assert.Len(t, mock.Calls(), 2, "open breaker must not call through")
}

func TestBreakerProvider_RejectionsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	mock := NewMockProvider()

	b := NewBreakerProvider(mock, BreakerConfig{ConsecutiveFailures: 1}, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := b.GetCheckoutSession(ctx, "cs_missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerProvider_RecoversAfterTimeout(t *testing.T) {
	ctx := context.Background()
	mock := NewMockProvider()
	fail := true
	mock.ExpireCheckoutSessionFunc = func(ctx context.Context, id string) error {
		if fail {
			return &StripeError{Message: "timeout", Type: "api_connection_error"}
		}
		return nil
	}

	b := NewBreakerProvider(mock, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: 20 * time.Millisecond}, discardLogger())

	require.Error(t, b.ExpireCheckoutSession(ctx, "cs_1"))
	assert.Equal(t, "open", b.State())

	fail = false
	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, b.ExpireCheckoutSession(ctx, "cs_1"))
	assert.Equal(t, "closed", b.State())
}

func TestBreakerProvider_VerifyBypassesBreaker(t *testing.T) {
	mock := NewMockProvider()
	sentinel := errors.New("bad sig")
	mock.VerifyWebhookSignatureFunc = func(payload []byte, signature, secret string) error { return sentinel }

	b := NewBreakerProvider(mock, BreakerConfig{ConsecutiveFailures: 1}, discardLogger())
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.VerifyWebhookSignature(nil, "", ""), sentinel)
	}
	assert.Equal(t, "closed", b.State())
}
