package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/sethvargo/go-retry"
)

// Transient store failures get three attempts in total.
const (
	retryAttempts = 3
	retryBase     = 50 * time.Millisecond
)

// withRetry runs fn, retrying only repository.ErrTransient. Once attempts are
// exhausted the failure surfaces as domain.ErrStoreUnavailable.
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(retryAttempts-1, retry.NewExponential(retryBase))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && errors.Is(err, repository.ErrTransient) {
			logger.Warn("transient store failure", "op", op, "attempt", attempt, "error", err)
			if telemetry.Business != nil {
				telemetry.Business.StoreRetries.WithLabelValues(op).Inc()
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && errors.Is(err, repository.ErrTransient) {
		logger.Error("store unavailable after retries", "op", op, "attempts", attempt, "error", err)
		return domain.WrapError(err, domain.EUNAVAILABLE, op, domain.ErrStoreUnavailable.Message)
	}
	return err
}
