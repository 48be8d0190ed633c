package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/google/uuid"
)

// The ledger helpers run against any Querier so the reservation manager, cart
// merge and finalizer can move units inside their own transactions.

func reserveUnits(ctx context.Context, q repository.Querier, op string, variantID uuid.UUID, qty int32) error {
	if qty <= 0 {
		return nil
	}
	ok, err := q.ReserveUnits(ctx, variantID, qty)
	if err != nil {
		return storeError(err, op, domain.ErrVariantNotFound)
	}
	if !ok {
		if telemetry.Business != nil {
			telemetry.Business.StockRejections.WithLabelValues(op).Inc()
		}
		return domain.WithOp(domain.ErrInsufficientStock, op)
	}
	return nil
}

func releaseUnits(ctx context.Context, q repository.Querier, logger *slog.Logger, op string, variantID uuid.UUID, qty int32) error {
	if qty <= 0 {
		return nil
	}
	ok, err := q.ReleaseUnits(ctx, variantID, qty)
	if err != nil {
		return storeError(err, op, domain.ErrVariantNotFound)
	}
	if !ok {
		return ledgerDesync(logger, op, variantID, qty)
	}
	return nil
}

func commitUnits(ctx context.Context, q repository.Querier, logger *slog.Logger, op string, variantID uuid.UUID, qty int32) error {
	if qty <= 0 {
		return nil
	}
	ok, err := q.CommitUnits(ctx, variantID, qty)
	if err != nil {
		return storeError(err, op, domain.ErrVariantNotFound)
	}
	if !ok {
		return ledgerDesync(logger, op, variantID, qty)
	}
	return nil
}

func restockUnits(ctx context.Context, q repository.Querier, logger *slog.Logger, op string, variantID uuid.UUID, qty int32) error {
	if qty <= 0 {
		return nil
	}
	ok, err := q.RestockUnits(ctx, variantID, qty)
	if err != nil {
		return storeError(err, op, domain.ErrVariantNotFound)
	}
	if !ok {
		return ledgerDesync(logger, op, variantID, qty)
	}
	return nil
}

// ledgerDesync is never clamped: the counters disagree with the holds and a
// human has to look.
func ledgerDesync(logger *slog.Logger, op string, variantID uuid.UUID, qty int32) error {
	err := domain.WithOp(domain.ErrLedgerDesync, op)
	logger.Error("stock ledger desync",
		"op", op,
		"variant_id", variantID,
		"quantity", qty,
	)
	telemetry.CaptureErrorWithTags(err,
		map[string]string{"op": op, "component": "stock_ledger"},
		map[string]interface{}{"variant_id": variantID.String(), "quantity": qty},
	)
	return err
}

func availableToSell(ctx context.Context, q repository.Querier, op string, variantID uuid.UUID, now time.Time) (int32, error) {
	v, err := q.GetVariant(ctx, variantID)
	if err != nil {
		return 0, storeError(err, op, domain.ErrVariantNotFound)
	}
	held, err := q.SumActiveReserved(ctx, variantID, now)
	if err != nil {
		return 0, storeError(err, op, nil)
	}
	avail := v.StockUnits - held
	if avail < 0 {
		avail = 0
	}
	return avail, nil
}

// stockLedger implements domain.StockLedger.
type stockLedger struct {
	store  repository.Store
	clock  Clock
	logger *slog.Logger
}

// NewStockLedger creates the stock ledger over store.
func NewStockLedger(store repository.Store, clock Clock, logger *slog.Logger) domain.StockLedger {
	return &stockLedger{store: store, clock: clock, logger: logger}
}

func (l *stockLedger) Reserve(ctx context.Context, variantID uuid.UUID, qty int32) error {
	const op = "ledger.reserve"
	if qty <= 0 {
		return domain.WithOp(domain.ErrInvalidQuantity, op)
	}
	return withRetry(ctx, l.logger, op, func(ctx context.Context) error {
		return reserveUnits(ctx, l.store, op, variantID, qty)
	})
}

func (l *stockLedger) Release(ctx context.Context, variantID uuid.UUID, qty int32) error {
	const op = "ledger.release"
	if qty <= 0 {
		return domain.WithOp(domain.ErrInvalidQuantity, op)
	}
	return withRetry(ctx, l.logger, op, func(ctx context.Context) error {
		return releaseUnits(ctx, l.store, l.logger, op, variantID, qty)
	})
}

func (l *stockLedger) Commit(ctx context.Context, variantID uuid.UUID, qty int32) error {
	const op = "ledger.commit"
	if qty <= 0 {
		return domain.WithOp(domain.ErrInvalidQuantity, op)
	}
	return withRetry(ctx, l.logger, op, func(ctx context.Context) error {
		return commitUnits(ctx, l.store, l.logger, op, variantID, qty)
	})
}

func (l *stockLedger) Restock(ctx context.Context, variantID uuid.UUID, qty int32) error {
	const op = "ledger.restock"
	if qty <= 0 {
		return domain.WithOp(domain.ErrInvalidQuantity, op)
	}
	return withRetry(ctx, l.logger, op, func(ctx context.Context) error {
		return restockUnits(ctx, l.store, l.logger, op, variantID, qty)
	})
}

func (l *stockLedger) AvailableToSell(ctx context.Context, variantID uuid.UUID) (int32, error) {
	const op = "ledger.available"
	var avail int32
	err := withRetry(ctx, l.logger, op, func(ctx context.Context) error {
		var err error
		avail, err = availableToSell(ctx, l.store, op, variantID, l.clock.Now())
		return err
	})
	return avail, err
}
