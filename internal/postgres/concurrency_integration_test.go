//go:build integration

package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/dukerupert/kaupa/internal/billing"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/service"
	"github.com/dukerupert/kaupa/internal/shipping"
	"github.com/dukerupert/kaupa/internal/tax"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedger_ConcurrentReserveReleaseCommit(t *testing.T) {
	const (
		total   = int32(20)
		workers = 40
	)
	s := newTestStore(t)
	ctx := context.Background()
	v := createTestVariant(t, s, total)
	ledger := service.NewStockLedger(s, service.SystemClock(), discardLogger())

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		sold  atomic.Int32
		errs  = make(chan error, workers)
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			err := ledger.Reserve(ctx, v.ID, 1)
			if errors.Is(err, domain.ErrInsufficientStock) {
				return
			}
			if err != nil {
				errs <- err
				return
			}

			if i%2 == 0 {
				err = ledger.Release(ctx, v.ID, 1)
			} else if err = ledger.Commit(ctx, v.ID, 1); err == nil {
				sold.Add(1)
			}
			if err != nil {
				errs <- err
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected ledger error: %v", err)
	}

	got, err := s.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.ReservedUnits)
	assert.Equal(t, sold.Load(), got.SoldUnits)
	assert.Equal(t, total, got.StockUnits+got.SoldUnits)
	assert.GreaterOrEqual(t, got.StockUnits, int32(0))
}

func TestCheckout_ConcurrentLockPricingSingleUseCoupon(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := createTestVariant(t, s, 10)
	logger := discardLogger()
	clock := service.SystemClock()

	code := "IT" + uuid.NewString()[:8]
	require.NoError(t, s.CreateCoupon(ctx, &domain.Coupon{
		Code:          code,
		DiscountType:  domain.DiscountFixed,
		DiscountValue: 500,
		MaxUsesGlobal: 1,
		Active:        true,
	}))

	carts := service.NewCartService(s, clock, 15*time.Minute, logger)
	checkouts := service.NewCheckoutService(s, billing.NewMockProvider(),
		shipping.NewFlatRateProvider(shipping.DefaultFlatRates, 0), tax.NewNoTaxCalculator(),
		address.NewBasicValidator(), nil, clock, service.CheckoutConfig{
			Currency:      "usd",
			SuccessURL:    "https://shop.test/checkout/return?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     "https://shop.test/cart",
			PaymentWindow: 30 * time.Minute,
		}, logger)

	owners := []domain.Owner{
		domain.GuestOwner(domain.NewGuestID()),
		domain.GuestOwner(domain.NewGuestID()),
	}
	for _, owner := range owners {
		_, err := carts.AddItem(ctx, owner, v.ID, 1, nil)
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, len(owners))
	)
	for i, owner := range owners {
		wg.Add(1)
		go func(i int, owner domain.Owner) {
			defer wg.Done()
			<-start
			_, results[i] = checkouts.LockPricing(ctx, owner, domain.LockPricingParams{
				Email:      uuid.NewString()[:8] + "@example.com",
				CouponCode: code,
				Shipping: address.Address{
					FullName:     "Ada Lovelace",
					AddressLine1: "1 Main St",
					City:         "Portland",
					State:        "OR",
					PostalCode:   "97201",
					Country:      "US",
				},
				ShippingRate: "standard",
			})
		}(i, owner)
	}
	close(start)
	wg.Wait()

	var won, lost int
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case domain.IsCouponInvalid(err):
			lost++
		default:
			t.Errorf("unexpected lock error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}
