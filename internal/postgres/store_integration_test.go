//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to TEST_DATABASE_URL, applies migrations and returns
// a Store. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	require.NoError(t, internal.RunMigrations(db))

	return New(pool)
}

func createTestVariant(t *testing.T, s *Store, stock int32) *domain.Variant {
	t.Helper()
	v := &domain.Variant{
		ProductID:  uuid.New(),
		SKU:        "IT-" + uuid.NewString()[:8],
		Name:       "Integration Blend 12oz",
		PriceCents: 1800,
		StockUnits: stock,
	}
	require.NoError(t, s.CreateVariant(context.Background(), v))
	return v
}

func TestStore_UnitGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := createTestVariant(t, s, 5)

	ok, err := s.ReserveUnits(ctx, v.ID, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReserveUnits(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "reserve beyond stock must fail the guard")

	ok, err = s.CommitUnits(ctx, v.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), got.StockUnits)
	assert.Equal(t, int32(3), got.ReservedUnits)
	assert.Equal(t, int32(2), got.SoldUnits)

	ok, err = s.RestockUnits(ctx, v.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "cannot restock more than was sold")

	_, err = s.ReserveUnits(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_ExecTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := createTestVariant(t, s, 4)

	boom := errors.New("boom")
	err := s.ExecTx(ctx, func(q repository.Querier) error {
		ok, err := q.ReserveUnits(ctx, v.ID, 3)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.ReservedUnits)
}

func TestStore_ReservationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := createTestVariant(t, s, 10)
	now := time.Now().UTC().Truncate(time.Microsecond)
	owner := domain.GuestOwner("it-" + uuid.NewString())

	r := &domain.Reservation{
		Owner:      owner,
		VariantID:  v.ID,
		Options:    domain.Options{"grind": "whole"},
		OptionsKey: "grind=whole",
		Quantity:   2,
		CreatedAt:  now.Add(-time.Hour),
		UpdatedAt:  now.Add(-time.Hour),
		ExpiresAt:  now.Add(-time.Minute),
	}
	require.NoError(t, s.UpsertReservation(ctx, r))

	sum, err := s.SumActiveReserved(ctx, v.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int32(0), sum, "expired holds do not count")

	swept, err := s.DeleteExpiredReservations(ctx, now, &v.ID, 10)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, domain.Options{"grind": "whole"}, swept[0].Options)

	swept, err = s.DeleteExpiredReservations(ctx, now, &v.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, swept)
}

func TestStore_OrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := createTestVariant(t, s, 10)
	now := time.Now().UTC().Truncate(time.Microsecond)

	o := &domain.Order{
		Number:     domain.NewOrderNumber(now),
		CheckoutID: uuid.New(),
		Owner:      domain.UserOwner(uuid.New()),
		Email:      "buyer@example.com",
		Items: []domain.OrderItem{{
			VariantID:      v.ID,
			SKU:            v.SKU,
			Name:           v.Name,
			Quantity:       2,
			UnitPriceCents: 1800,
			LineTotalCents: 3600,
		}},
		Totals:     domain.Totals{SubtotalCents: 3600, TotalCents: 3600, Currency: "usd"},
		Status:     domain.OrderPaid,
		PaymentRef: "cs_test_" + uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.InsertOrder(ctx, o))

	dup := *o
	dup.ID = uuid.Nil
	dup.Number = domain.NewOrderNumber(now)
	dup.Items = nil
	assert.ErrorIs(t, s.InsertOrder(ctx, &dup), repository.ErrDuplicate)

	got, err := s.GetOrderByPaymentRef(ctx, o.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(3600), got.Items[0].LineTotalCents)

	ok, err := s.UpdateOrderStatus(ctx, o.ID, domain.OrderPending, domain.OrderShipped, now)
	require.NoError(t, err)
	assert.False(t, ok, "stale from-status must not update")

	ok, err = s.UpdateOrderStatus(ctx, o.ID, domain.OrderPaid, domain.OrderShipped, now)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.UpdateOrderStatus(ctx, uuid.New(), domain.OrderPaid, domain.OrderShipped, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
