package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/google/uuid"
)

// sweepBatchSize bounds how many expired holds one sweep transaction deletes.
const sweepBatchSize = 500

// holds applies reservation changes through a Querier so callers can compose
// them with cart and checkout writes in one transaction. Every method keeps
// the variant's reserved counter equal to the sum of its hold rows.
type holds struct {
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger
}

// upsert sets the owner's hold to qty and moves only the difference through
// the ledger. An expired row for the same key is released and replaced.
func (h *holds) upsert(ctx context.Context, q repository.Querier, op string, owner domain.Owner, variantID uuid.UUID, qty int32, opts domain.Options) (*domain.Reservation, error) {
	if qty == 0 {
		return nil, h.remove(ctx, q, op, owner, variantID, opts)
	}
	if qty < 0 {
		return nil, domain.WithOp(domain.ErrInvalidQuantity, op)
	}

	now := h.clock.Now()
	if _, _, err := h.sweepVariant(ctx, q, op, variantID, now); err != nil {
		return nil, err
	}

	key := domain.OptionsKey(opts)
	existing, err := q.GetReservation(ctx, owner.Key(), variantID, key)
	if err != nil && !isNotFound(err) {
		return nil, storeError(err, op, nil)
	}
	if existing != nil && !existing.ActiveAt(now) {
		if err := h.drop(ctx, q, op, existing); err != nil {
			return nil, err
		}
		existing = nil
	}

	var held int32
	if existing != nil {
		held = existing.Quantity
	}
	switch delta := qty - held; {
	case delta > 0:
		if err := reserveUnits(ctx, q, op, variantID, delta); err != nil {
			return nil, err
		}
	case delta < 0:
		if err := releaseUnits(ctx, q, h.logger, op, variantID, -delta); err != nil {
			return nil, err
		}
	}

	r := existing
	if r == nil {
		r = &domain.Reservation{
			ID:         uuid.New(),
			Owner:      owner,
			VariantID:  variantID,
			Options:    opts,
			OptionsKey: key,
			CreatedAt:  now,
		}
	}
	r.Quantity = qty
	r.UpdatedAt = now
	r.ExpiresAt = now.Add(h.ttl)
	if err := q.UpsertReservation(ctx, r); err != nil {
		return nil, storeError(err, op, nil)
	}
	return r, nil
}

// remove deletes the hold for the key if present.
func (h *holds) remove(ctx context.Context, q repository.Querier, op string, owner domain.Owner, variantID uuid.UUID, opts domain.Options) error {
	r, err := q.GetReservation(ctx, owner.Key(), variantID, domain.OptionsKey(opts))
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return storeError(err, op, nil)
	}
	return h.drop(ctx, q, op, r)
}

// drop deletes r and releases its units. A row already deleted by a
// concurrent sweep releases nothing.
func (h *holds) drop(ctx context.Context, q repository.Querier, op string, r *domain.Reservation) error {
	deleted, err := q.DeleteReservation(ctx, r.ID)
	if err != nil {
		return storeError(err, op, nil)
	}
	if !deleted {
		return nil
	}
	return releaseUnits(ctx, q, h.logger, op, r.VariantID, r.Quantity)
}

// removeAll drops every hold the owner has, active or not.
func (h *holds) removeAll(ctx context.Context, q repository.Querier, op string, owner domain.Owner) error {
	rs, err := q.ListReservationsByOwner(ctx, owner.Key())
	if err != nil {
		return storeError(err, op, nil)
	}
	for i := range rs {
		if err := h.drop(ctx, q, op, &rs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (h *holds) listActive(ctx context.Context, q repository.Querier, op string, owner domain.Owner) ([]domain.Reservation, error) {
	rs, err := q.ListReservationsByOwner(ctx, owner.Key())
	if err != nil {
		return nil, storeError(err, op, nil)
	}
	now := h.clock.Now()
	active := make([]domain.Reservation, 0, len(rs))
	for _, r := range rs {
		if r.ActiveAt(now) {
			active = append(active, r)
		}
	}
	return active, nil
}

// sweepVariant releases the expired holds of one variant ahead of a reserve.
func (h *holds) sweepVariant(ctx context.Context, q repository.Querier, op string, variantID uuid.UUID, now time.Time) (int, int64, error) {
	expired, err := q.DeleteExpiredReservations(ctx, now, &variantID, 0)
	if err != nil {
		return 0, 0, storeError(err, op, nil)
	}
	var units int64
	for _, r := range expired {
		if err := releaseUnits(ctx, q, h.logger, op, r.VariantID, r.Quantity); err != nil {
			return 0, 0, err
		}
		units += int64(r.Quantity)
	}
	return len(expired), units, nil
}

func (h *holds) extend(ctx context.Context, q repository.Querier, op string, owner domain.Owner) (time.Time, error) {
	now := h.clock.Now()
	expiresAt := now.Add(h.ttl)
	if _, err := q.ExtendReservations(ctx, owner.Key(), now, expiresAt); err != nil {
		return time.Time{}, storeError(err, op, nil)
	}
	return expiresAt, nil
}

// rekey hands the from-owner's hold to the to-owner. Quantities are summed
// when the destination already holds the key; no units move in the ledger.
func (h *holds) rekey(ctx context.Context, q repository.Querier, op string, from, to domain.Owner, variantID uuid.UUID, opts domain.Options) error {
	now := h.clock.Now()
	key := domain.OptionsKey(opts)

	src, err := q.GetReservation(ctx, from.Key(), variantID, key)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return storeError(err, op, nil)
	}
	if !src.ActiveAt(now) {
		return h.drop(ctx, q, op, src)
	}

	dst, err := q.GetReservation(ctx, to.Key(), variantID, key)
	if err != nil && !isNotFound(err) {
		return storeError(err, op, nil)
	}
	if dst != nil && !dst.ActiveAt(now) {
		if err := h.drop(ctx, q, op, dst); err != nil {
			return err
		}
		dst = nil
	}

	if dst != nil {
		if _, err := q.DeleteReservation(ctx, src.ID); err != nil {
			return storeError(err, op, nil)
		}
		dst.Quantity += src.Quantity
		dst.UpdatedAt = now
		dst.ExpiresAt = now.Add(h.ttl)
		return storeError(q.UpsertReservation(ctx, dst), op, nil)
	}

	src.Owner = to
	src.UpdatedAt = now
	src.ExpiresAt = now.Add(h.ttl)
	return storeError(q.UpsertReservation(ctx, src), op, nil)
}

// heldQuantity returns the owner's active hold for the key, or 0.
func (h *holds) heldQuantity(ctx context.Context, q repository.Querier, op string, owner domain.Owner, variantID uuid.UUID, optionsKey string) (int32, error) {
	r, err := q.GetReservation(ctx, owner.Key(), variantID, optionsKey)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, storeError(err, op, nil)
	}
	if !r.ActiveAt(h.clock.Now()) {
		return 0, nil
	}
	return r.Quantity, nil
}

// reservationManager implements domain.ReservationManager.
type reservationManager struct {
	store repository.Store
	holds *holds
}

// NewReservationManager creates a reservation manager whose holds live for ttl
// after their last update.
func NewReservationManager(store repository.Store, clock Clock, ttl time.Duration, logger *slog.Logger) domain.ReservationManager {
	if ttl <= 0 {
		ttl = domain.DefaultReservationTTL
	}
	return &reservationManager{
		store: store,
		holds: &holds{clock: clock, ttl: ttl, logger: logger},
	}
}

func (m *reservationManager) inTx(ctx context.Context, op string, fn func(q repository.Querier) error) error {
	return withRetry(ctx, m.holds.logger, op, func(ctx context.Context) error {
		return m.store.ExecTx(ctx, fn)
	})
}

func (m *reservationManager) Upsert(ctx context.Context, owner domain.Owner, variantID uuid.UUID, qty int32, opts domain.Options) (*domain.Reservation, error) {
	const op = "reservation.upsert"
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateOptions(opts); err != nil {
		return nil, err
	}

	var r *domain.Reservation
	err := m.inTx(ctx, op, func(q repository.Querier) error {
		var err error
		r, err = m.holds.upsert(ctx, q, op, owner, variantID, qty, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (m *reservationManager) Remove(ctx context.Context, owner domain.Owner, variantID uuid.UUID, opts domain.Options) error {
	const op = "reservation.remove"
	return m.inTx(ctx, op, func(q repository.Querier) error {
		return m.holds.remove(ctx, q, op, owner, variantID, opts)
	})
}

func (m *reservationManager) ListActive(ctx context.Context, owner domain.Owner) ([]domain.Reservation, error) {
	const op = "reservation.list_active"
	var rs []domain.Reservation
	err := withRetry(ctx, m.holds.logger, op, func(ctx context.Context) error {
		var err error
		rs, err = m.holds.listActive(ctx, m.store, op, owner)
		return err
	})
	return rs, err
}

// SweepExpired deletes expired holds in batches, one transaction per batch.
// A desync on one row is logged and the sweep moves on.
func (m *reservationManager) SweepExpired(ctx context.Context) (domain.SweepResult, error) {
	const op = "reservation.sweep"
	var result domain.SweepResult

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var (
			batch int
			units int64
		)
		err := m.inTx(ctx, op, func(q repository.Querier) error {
			batch, units = 0, 0
			expired, err := q.DeleteExpiredReservations(ctx, m.holds.clock.Now(), nil, sweepBatchSize)
			if err != nil {
				return storeError(err, op, nil)
			}
			batch = len(expired)
			for _, r := range expired {
				if err := releaseUnits(ctx, q, m.holds.logger, op, r.VariantID, r.Quantity); err != nil {
					if errors.Is(err, domain.ErrLedgerDesync) {
						continue
					}
					return err
				}
				units += int64(r.Quantity)
			}
			return nil
		})
		if err != nil {
			return result, err
		}

		result.Count += batch
		result.UnitsReleased += units
		if telemetry.Business != nil {
			telemetry.Business.ReservationsSwept.Add(float64(batch))
			telemetry.Business.UnitsReleased.Add(float64(units))
		}
		if batch < sweepBatchSize {
			break
		}
	}

	if result.Count > 0 {
		m.holds.logger.Info("expired reservations swept",
			"count", result.Count,
			"units_released", result.UnitsReleased,
		)
	}
	return result, nil
}

func (m *reservationManager) Extend(ctx context.Context, owner domain.Owner) (time.Time, error) {
	const op = "reservation.extend"
	var expiresAt time.Time
	err := withRetry(ctx, m.holds.logger, op, func(ctx context.Context) error {
		var err error
		expiresAt, err = m.holds.extend(ctx, m.store, op, owner)
		return err
	})
	return expiresAt, err
}

func (m *reservationManager) Rekey(ctx context.Context, from, to domain.Owner, variantID uuid.UUID, opts domain.Options) error {
	const op = "reservation.rekey"
	if from.Key() == to.Key() {
		return nil
	}
	return m.inTx(ctx, op, func(q repository.Querier) error {
		return m.holds.rekey(ctx, q, op, from, to, variantID, opts)
	})
}
