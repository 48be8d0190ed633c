package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/dukerupert/kaupa/internal/billing"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/events"
	"github.com/dukerupert/kaupa/internal/memory"
	"github.com/dukerupert/kaupa/internal/shipping"
	"github.com/dukerupert/kaupa/internal/tax"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testTTL        = 15 * time.Minute
	testShipping   = int64(500)
	testTaxCents   = int64(100)
	testRateID     = "standard"
	testCurrency   = "usd"
	testSuccessURL = "https://shop.test/checkout/return?session_id={CHECKOUT_SESSION_ID}"
	testCancelURL  = "https://shop.test/cart"
	testGuestEmail = "guest@example.com"
	testPriceCents = int64(1800)
)

// testEnv wires every service over one in-memory store.
type testEnv struct {
	store        *memory.Store
	clock        *fakeClock
	ledger       domain.StockLedger
	reservations domain.ReservationManager
	cart         domain.CartService
	checkout     domain.CheckoutService
	orders       domain.OrderService
	billing      *billing.MockProvider
	shipping     *shipping.MockProvider
	tax          *tax.MockCalculator
	publisher    *events.RecordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	clock := newFakeClock()
	logger := discardLogger()

	shippingProvider := shipping.NewMockProvider()
	shippingProvider.GetRatesFunc = func(ctx context.Context, params shipping.RateParams) ([]shipping.Rate, error) {
		return []shipping.Rate{
			{RateID: testRateID, Carrier: "Mock", ServiceName: "Standard", CostCents: testShipping},
			{RateID: "express", Carrier: "Mock", ServiceName: "Express", CostCents: 1500},
		}, nil
	}
	taxCalculator := tax.NewMockCalculator()
	taxCalculator.CalculateTaxFunc = func(ctx context.Context, params tax.TaxParams) (*tax.TaxResult, error) {
		return &tax.TaxResult{TotalTaxCents: testTaxCents}, nil
	}
	billingProvider := billing.NewMockProvider()
	publisher := &events.RecordingPublisher{}

	return &testEnv{
		store:        store,
		clock:        clock,
		ledger:       NewStockLedger(store, clock, logger),
		reservations: NewReservationManager(store, clock, testTTL, logger),
		cart:         NewCartService(store, clock, testTTL, logger),
		checkout: NewCheckoutService(store, billingProvider, shippingProvider, taxCalculator,
			address.NewBasicValidator(), publisher, clock, CheckoutConfig{
				Currency:       testCurrency,
				SuccessURL:     testSuccessURL,
				CancelURL:      testCancelURL,
				PaymentWindow:  30 * time.Minute,
				ReservationTTL: testTTL,
			}, logger),
		orders:    NewOrderService(store, publisher, clock, testTTL, logger),
		billing:   billingProvider,
		shipping:  shippingProvider,
		tax:       taxCalculator,
		publisher: publisher,
	}
}

func (e *testEnv) seedVariant(t *testing.T, stock int32) *domain.Variant {
	t.Helper()
	v := &domain.Variant{
		ProductID:  uuid.New(),
		SKU:        "ETH-" + uuid.NewString()[:8],
		Name:       "Ethiopia Guji 12oz",
		PriceCents: testPriceCents,
		StockUnits: stock,
	}
	require.NoError(t, e.store.CreateVariant(context.Background(), v))
	return v
}

func (e *testEnv) variant(t *testing.T, id uuid.UUID) *domain.Variant {
	t.Helper()
	v, err := e.store.GetVariant(context.Background(), id)
	require.NoError(t, err)
	return v
}

func (e *testEnv) seedCoupon(t *testing.T, c domain.Coupon) *domain.Coupon {
	t.Helper()
	c.Active = true
	require.NoError(t, e.store.CreateCoupon(context.Background(), &c))
	return &c
}

func testAddress() address.Address {
	return address.Address{
		FullName:     "Ada Lovelace",
		AddressLine1: "12 Analytical Way",
		City:         "Portland",
		State:        "or",
		PostalCode:   "97201",
		Country:      "us",
	}
}

func lockParams(email, coupon string) domain.LockPricingParams {
	return domain.LockPricingParams{
		Email:        email,
		CouponCode:   coupon,
		Shipping:     testAddress(),
		ShippingRate: testRateID,
	}
}

// lockedCheckout adds qty of v to a fresh guest cart and locks pricing.
func (e *testEnv) lockedCheckout(t *testing.T, v *domain.Variant, qty int32, coupon string) (domain.Owner, *domain.Checkout) {
	t.Helper()
	ctx := context.Background()
	owner := domain.GuestOwner(domain.NewGuestID())
	_, err := e.cart.AddItem(ctx, owner, v.ID, qty, nil)
	require.NoError(t, err)
	c, err := e.checkout.LockPricing(ctx, owner, lockParams(testGuestEmail, coupon))
	require.NoError(t, err)
	return owner, c
}

// payingCheckout locks pricing and starts payment.
func (e *testEnv) payingCheckout(t *testing.T, v *domain.Variant, qty int32, coupon string) (domain.Owner, *domain.Checkout) {
	t.Helper()
	owner, c := e.lockedCheckout(t, v, qty, coupon)
	c, err := e.checkout.StartPayment(context.Background(), owner, c.ID)
	require.NoError(t, err)
	return owner, c
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewRandom()
	require.NoError(t, err)
	return id
}
