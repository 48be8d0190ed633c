package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultReservationTTL is how long a hold lives after its last update.
const DefaultReservationTTL = 15 * time.Minute

// Reservation is a time-boxed hold of units for one owner, variant and option set.
type Reservation struct {
	ID         uuid.UUID
	Owner      Owner
	VariantID  uuid.UUID
	Options    Options
	OptionsKey string
	Quantity   int32
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

// ActiveAt reports whether the hold still counts against availability at now.
func (r *Reservation) ActiveAt(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Count         int
	UnitsReleased int64
}

// StockLedger owns the authoritative stock counters for each variant.
type StockLedger interface {
	// Reserve moves qty units from available to reserved.
	// Returns ErrInsufficientStock when fewer than qty units are free.
	Reserve(ctx context.Context, variantID uuid.UUID, qty int32) error

	// Release returns qty reserved units to available.
	Release(ctx context.Context, variantID uuid.UUID, qty int32) error

	// Commit permanently removes qty reserved units from stock.
	Commit(ctx context.Context, variantID uuid.UUID, qty int32) error

	// AvailableToSell is stock minus units held by unexpired reservations.
	AvailableToSell(ctx context.Context, variantID uuid.UUID) (int32, error)

	// Restock credits qty previously sold units back to stock.
	Restock(ctx context.Context, variantID uuid.UUID, qty int32) error
}

// ReservationManager keeps one hold per owner, variant and option set in sync
// with the stock ledger.
type ReservationManager interface {
	// Upsert sets the held quantity to qty, reserving or releasing only the
	// difference, and refreshes the expiry. A qty of 0 removes the hold.
	Upsert(ctx context.Context, owner Owner, variantID uuid.UUID, qty int32, opts Options) (*Reservation, error)

	// Remove deletes the hold and releases its units.
	Remove(ctx context.Context, owner Owner, variantID uuid.UUID, opts Options) error

	// ListActive returns the owner's unexpired holds.
	ListActive(ctx context.Context, owner Owner) ([]Reservation, error)

	// SweepExpired deletes every expired hold and releases its units.
	SweepExpired(ctx context.Context) (SweepResult, error)

	// Extend refreshes the expiry of all the owner's unexpired holds.
	Extend(ctx context.Context, owner Owner) (time.Time, error)

	// Rekey moves a hold from one owner to another, combining quantities
	// when the destination already holds the same key.
	Rekey(ctx context.Context, from, to Owner, variantID uuid.UUID, opts Options) error
}
