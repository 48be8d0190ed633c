package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around the payment provider.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. Default: 5
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing.
	// Default: 30s
	OpenTimeout time.Duration

	// HalfOpenRequests is how many probes are allowed while half-open.
	// Default: 1
	HalfOpenRequests uint32
}

// BreakerProvider guards a Provider with a circuit breaker. Only transport
// and 5xx failures count toward tripping it; rejected requests do not.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*Session]
}

// NewBreakerProvider wraps next in a circuit breaker.
func NewBreakerProvider(next Provider, cfg BreakerConfig, logger *slog.Logger) *BreakerProvider {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if telemetry.Business != nil {
				telemetry.Business.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnavailable(err)
		},
	}

	return &BreakerProvider{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*Session](settings),
	}
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}

func (b *BreakerProvider) CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	return b.execute(func() (*Session, error) {
		return b.next.CreateCheckoutSession(ctx, params)
	})
}

func (b *BreakerProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	return b.execute(func() (*Session, error) {
		return b.next.GetCheckoutSession(ctx, sessionID)
	})
}

func (b *BreakerProvider) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	_, err := b.execute(func() (*Session, error) {
		return nil, b.next.ExpireCheckoutSession(ctx, sessionID)
	})
	return err
}

// VerifyWebhookSignature is local computation and bypasses the breaker.
func (b *BreakerProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	return b.next.VerifyWebhookSignature(payload, signature, secret)
}

func (b *BreakerProvider) execute(fn func() (*Session, error)) (*Session, error) {
	sess, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	return sess, err
}
