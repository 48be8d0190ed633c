package api

import (
	"context"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/google/uuid"
)

type mockCartService struct {
	AddItemFunc            func(ctx context.Context, owner domain.Owner, variantID uuid.UUID, qty int32, opts domain.Options) (*domain.CartSummary, error)
	UpdateQuantityFunc     func(ctx context.Context, owner domain.Owner, itemID uuid.UUID, qty int32) (*domain.CartSummary, error)
	RemoveItemFunc         func(ctx context.Context, owner domain.Owner, itemID uuid.UUID) (*domain.CartSummary, error)
	MergeGuestIntoUserFunc func(ctx context.Context, guestID string, userID uuid.UUID) (*domain.MergeResult, error)
	SummaryFunc            func(ctx context.Context, owner domain.Owner) (*domain.CartSummary, error)
}

func (m *mockCartService) AddItem(ctx context.Context, owner domain.Owner, variantID uuid.UUID, qty int32, opts domain.Options) (*domain.CartSummary, error) {
	return m.AddItemFunc(ctx, owner, variantID, qty, opts)
}

func (m *mockCartService) UpdateQuantity(ctx context.Context, owner domain.Owner, itemID uuid.UUID, qty int32) (*domain.CartSummary, error) {
	return m.UpdateQuantityFunc(ctx, owner, itemID, qty)
}

func (m *mockCartService) RemoveItem(ctx context.Context, owner domain.Owner, itemID uuid.UUID) (*domain.CartSummary, error) {
	return m.RemoveItemFunc(ctx, owner, itemID)
}

func (m *mockCartService) MergeGuestIntoUser(ctx context.Context, guestID string, userID uuid.UUID) (*domain.MergeResult, error) {
	return m.MergeGuestIntoUserFunc(ctx, guestID, userID)
}

func (m *mockCartService) Summary(ctx context.Context, owner domain.Owner) (*domain.CartSummary, error) {
	return m.SummaryFunc(ctx, owner)
}

type mockCheckoutService struct {
	LockPricingFunc    func(ctx context.Context, owner domain.Owner, params domain.LockPricingParams) (*domain.Checkout, error)
	StartPaymentFunc   func(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error)
	CancelFunc         func(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error)
	MarkFailedFunc     func(ctx context.Context, checkoutID uuid.UUID, reason string) error
	AbandonExpiredFunc func(ctx context.Context) (int, error)
	ValidateCouponFunc func(ctx context.Context, owner domain.Owner, code string, subtotalCents int64) (*domain.CouponQuote, error)
	GetCheckoutFunc    func(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error)
	VerifyRedirectFunc func(ctx context.Context, owner domain.Owner, sessionID string) (*domain.CheckoutStatus, error)
}

func (m *mockCheckoutService) LockPricing(ctx context.Context, owner domain.Owner, params domain.LockPricingParams) (*domain.Checkout, error) {
	return m.LockPricingFunc(ctx, owner, params)
}

func (m *mockCheckoutService) StartPayment(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error) {
	return m.StartPaymentFunc(ctx, owner, checkoutID)
}

func (m *mockCheckoutService) Cancel(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error) {
	return m.CancelFunc(ctx, owner, checkoutID)
}

func (m *mockCheckoutService) MarkFailed(ctx context.Context, checkoutID uuid.UUID, reason string) error {
	return m.MarkFailedFunc(ctx, checkoutID, reason)
}

func (m *mockCheckoutService) AbandonExpired(ctx context.Context) (int, error) {
	return m.AbandonExpiredFunc(ctx)
}

func (m *mockCheckoutService) ValidateCoupon(ctx context.Context, owner domain.Owner, code string, subtotalCents int64) (*domain.CouponQuote, error) {
	return m.ValidateCouponFunc(ctx, owner, code, subtotalCents)
}

func (m *mockCheckoutService) GetCheckout(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error) {
	return m.GetCheckoutFunc(ctx, owner, checkoutID)
}

func (m *mockCheckoutService) VerifyRedirect(ctx context.Context, owner domain.Owner, sessionID string) (*domain.CheckoutStatus, error) {
	return m.VerifyRedirectFunc(ctx, owner, sessionID)
}

type mockOrderService struct {
	FinalizeFunc               func(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error)
	GetOrderByPaymentRefFunc   func(ctx context.Context, paymentRef string) (*domain.OrderDetail, error)
	LookupGuestOrderFunc       func(ctx context.Context, email, orderNumber string) (*domain.OrderDetail, error)
	GetOrderForOwnerFunc       func(ctx context.Context, owner domain.Owner, orderID uuid.UUID) (*domain.OrderDetail, error)
	TransitionStatusFunc       func(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, note string) (*domain.OrderDetail, error)
	TransitionByPaymentRefFunc func(ctx context.Context, paymentRef string, to domain.OrderStatus, note string) (*domain.OrderDetail, error)
}

func (m *mockOrderService) Finalize(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
	return m.FinalizeFunc(ctx, params)
}

func (m *mockOrderService) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*domain.OrderDetail, error) {
	return m.GetOrderByPaymentRefFunc(ctx, paymentRef)
}

func (m *mockOrderService) LookupGuestOrder(ctx context.Context, email, orderNumber string) (*domain.OrderDetail, error) {
	return m.LookupGuestOrderFunc(ctx, email, orderNumber)
}

func (m *mockOrderService) GetOrderForOwner(ctx context.Context, owner domain.Owner, orderID uuid.UUID) (*domain.OrderDetail, error) {
	return m.GetOrderForOwnerFunc(ctx, owner, orderID)
}

func (m *mockOrderService) TransitionStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
	return m.TransitionStatusFunc(ctx, orderID, to, note)
}

func (m *mockOrderService) TransitionByPaymentRef(ctx context.Context, paymentRef string, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
	return m.TransitionByPaymentRefFunc(ctx, paymentRef, to, note)
}

type mockStockLedger struct {
	AvailableToSellFunc func(ctx context.Context, variantID uuid.UUID) (int32, error)
}

func (m *mockStockLedger) Reserve(ctx context.Context, variantID uuid.UUID, qty int32) error {
	return nil
}

func (m *mockStockLedger) Release(ctx context.Context, variantID uuid.UUID, qty int32) error {
	return nil
}

func (m *mockStockLedger) Commit(ctx context.Context, variantID uuid.UUID, qty int32) error {
	return nil
}

func (m *mockStockLedger) AvailableToSell(ctx context.Context, variantID uuid.UUID) (int32, error) {
	return m.AvailableToSellFunc(ctx, variantID)
}

func (m *mockStockLedger) Restock(ctx context.Context, variantID uuid.UUID, qty int32) error {
	return nil
}

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
