// Package repository defines the persistence contract shared by the Postgres
// and in-memory stores.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("repository: duplicate key")

	// ErrTransient marks failures that are safe to retry: serialization
	// conflicts, deadlocks and dropped connections.
	ErrTransient = errors.New("repository: transient failure")
)

// Querier is every query the services issue. A Querier obtained inside
// Store.ExecTx runs all calls in one transaction.
type Querier interface {
	// Variants and stock counters. The Units methods are conditional updates
	// and report false when their guard does not hold.
	CreateVariant(ctx context.Context, v *domain.Variant) error
	GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error)
	ReserveUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error)
	ReleaseUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error)
	CommitUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error)
	RestockUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error)

	// Reservations.
	GetReservation(ctx context.Context, ownerKey string, variantID uuid.UUID, optionsKey string) (*domain.Reservation, error)
	UpsertReservation(ctx context.Context, r *domain.Reservation) error
	DeleteReservation(ctx context.Context, id uuid.UUID) (bool, error)
	ListReservationsByOwner(ctx context.Context, ownerKey string) ([]domain.Reservation, error)
	SumActiveReserved(ctx context.Context, variantID uuid.UUID, now time.Time) (int32, error)
	ExtendReservations(ctx context.Context, ownerKey string, now, expiresAt time.Time) (int64, error)
	// DeleteExpiredReservations removes holds with expires_at < now and
	// returns them. A nil variantID sweeps every variant.
	DeleteExpiredReservations(ctx context.Context, now time.Time, variantID *uuid.UUID, limit int) ([]domain.Reservation, error)

	// Carts.
	GetCartByOwner(ctx context.Context, ownerKey string) (*domain.Cart, error)
	CreateCart(ctx context.Context, c *domain.Cart) error
	DeleteCart(ctx context.Context, id uuid.UUID) error
	ListCartItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error)
	GetCartItem(ctx context.Context, id uuid.UUID) (*domain.CartItem, error)
	GetCartItemByKey(ctx context.Context, cartID, variantID uuid.UUID, optionsKey string) (*domain.CartItem, error)
	InsertCartItem(ctx context.Context, item *domain.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, id uuid.UUID, qty int32, now time.Time) error
	DeleteCartItem(ctx context.Context, id uuid.UUID) error
	ClearCartItems(ctx context.Context, cartID uuid.UUID) error

	// Coupons and usage slots.
	CreateCoupon(ctx context.Context, c *domain.Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	// LockCouponByCode reads the coupon and serializes concurrent slot claims on it.
	LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	CountCouponUsage(ctx context.Context, couponID uuid.UUID, usageKey string) (domain.CouponUsage, error)
	GetRedemptionByCheckout(ctx context.Context, checkoutID uuid.UUID) (*domain.CouponRedemption, error)
	InsertRedemption(ctx context.Context, r *domain.CouponRedemption) error
	UpdateRedemptionStatus(ctx context.Context, checkoutID uuid.UUID, status domain.RedemptionStatus, now time.Time) error

	// Checkouts. UpdateCheckout writes every mutable field and reports false
	// if the stored state no longer equals expected.
	InsertCheckout(ctx context.Context, c *domain.Checkout) error
	GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error)
	GetCheckoutByPaymentSession(ctx context.Context, sessionID string) (*domain.Checkout, error)
	ListOpenCheckoutsByOwner(ctx context.Context, ownerKey string) ([]domain.Checkout, error)
	ListExpiredCheckouts(ctx context.Context, now time.Time, limit int) ([]domain.Checkout, error)
	UpdateCheckout(ctx context.Context, c *domain.Checkout, expected domain.CheckoutState) (bool, error)

	// Orders.
	InsertOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, now time.Time) (bool, error)
	InsertOrderEvent(ctx context.Context, e *domain.OrderEvent) error
	ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error)
}

// Store is a Querier that can also run a function inside one transaction.
// If fn returns an error every write it made is rolled back.
type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(q Querier) error) error
	Ping(ctx context.Context) error
}
