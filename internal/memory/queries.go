package memory

import (
	"context"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/google/uuid"
)

// The methods below run one query under the store lock.

func (s *Store) CreateVariant(ctx context.Context, v *domain.Variant) error {
	return s.view(func(q *querier) error { return q.CreateVariant(ctx, v) })
}

func (s *Store) GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error) {
	var out *domain.Variant
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetVariant(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) ReserveUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	var out bool
	err := s.view(func(q *querier) (err error) {
		out, err = q.ReserveUnits(ctx, variantID, qty)
		return err
	})
	return out, err
}

func (s *Store) ReleaseUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	var out bool
	err := s.view(func(q *querier) (err error) {
		out, err = q.ReleaseUnits(ctx, variantID, qty)
		return err
	})
	return out, err
}

func (s *Store) CommitUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	var out bool
	err := s.view(func(q *querier) (err error) {
		out, err = q.CommitUnits(ctx, variantID, qty)
		return err
	})
	return out, err
}

func (s *Store) RestockUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	var out bool
	err := s.view(func(q *querier) (err error) {
		out, err = q.RestockUnits(ctx, variantID, qty)
		return err
	})
	return out, err
}

func (s *Store) GetReservation(ctx context.Context, ownerKey string, variantID uuid.UUID, optionsKey string) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetReservation(ctx, ownerKey, variantID, optionsKey)
		return err
	})
	return out, err
}

func (s *Store) UpsertReservation(ctx context.Context, r *domain.Reservation) error {
	return s.view(func(q *querier) error { return q.UpsertReservation(ctx, r) })
}

func (s *Store) DeleteReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	var out bool
	err := s.view(func(q *querier) (err error) {
		out, err = q.DeleteReservation(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) ListReservationsByOwner(ctx context.Context, ownerKey string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := s.view(func(q *querier) (err error) {
		out, err = q.ListReservationsByOwner(ctx, ownerKey)
		return err
	})
	return out, err
}

func (s *Store) SumActiveReserved(ctx context.Context, variantID uuid.UUID, now time.Time) (int32, error) {
	var out int32
	err := s.view(func(q *querier) (err error) {
		out, err = q.SumActiveReserved(ctx, variantID, now)
		return err
	})
	return out, err
}

func (s *Store) ExtendReservations(ctx context.Context, ownerKey string, now, expiresAt time.Time) (int64, error) {
	var out int64
	err := s.view(func(q *querier) (err error) {
		out, err = q.ExtendReservations(ctx, ownerKey, now, expiresAt)
		return err
	})
	return out, err
}

func (s *Store) DeleteExpiredReservations(ctx context.Context, now time.Time, variantID *uuid.UUID, limit int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := s.view(func(q *querier) (err error) {
		out, err = q.DeleteExpiredReservations(ctx, now, variantID, limit)
		return err
	})
	return out, err
}

func (s *Store) GetCartByOwner(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	var out *domain.Cart
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetCartByOwner(ctx, ownerKey)
		return err
	})
	return out, err
}

func (s *Store) CreateCart(ctx context.Context, c *domain.Cart) error {
	return s.view(func(q *querier) error { return q.CreateCart(ctx, c) })
}

func (s *Store) DeleteCart(ctx context.Context, id uuid.UUID) error {
	return s.view(func(q *querier) error { return q.DeleteCart(ctx, id) })
}

func (s *Store) ListCartItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	var out []domain.CartItem
	err := s.view(func(q *querier) (err error) {
		out, err = q.ListCartItems(ctx, cartID)
		return err
	})
	return out, err
}

func (s *Store) GetCartItem(ctx context.Context, id uuid.UUID) (*domain.CartItem, error) {
	var out *domain.CartItem
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetCartItem(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) GetCartItemByKey(ctx context.Context, cartID, variantID uuid.UUID, optionsKey string) (*domain.CartItem, error) {
	var out *domain.CartItem
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetCartItemByKey(ctx, cartID, variantID, optionsKey)
		return err
	})
	return out, err
}

func (s *Store) InsertCartItem(ctx context.Context, item *domain.CartItem) error {
	return s.view(func(q *querier) error { return q.InsertCartItem(ctx, item) })
}

func (s *Store) UpdateCartItemQuantity(ctx context.Context, id uuid.UUID, qty int32, now time.Time) error {
	return s.view(func(q *querier) error { return q.UpdateCartItemQuantity(ctx, id, qty, now) })
}

func (s *Store) DeleteCartItem(ctx context.Context, id uuid.UUID) error {
	return s.view(func(q *querier) error { return q.DeleteCartItem(ctx, id) })
}

func (s *Store) ClearCartItems(ctx context.Context, cartID uuid.UUID) error {
	return s.view(func(q *querier) error { return q.ClearCartItems(ctx, cartID) })
}

func (s *Store) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	return s.view(func(q *querier) error { return q.CreateCoupon(ctx, c) })
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var out *domain.Coupon
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetCouponByCode(ctx, code)
		return err
	})
	return out, err
}

func (s *Store) LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var out *domain.Coupon
	err := s.view(func(q *querier) (err error) {
		out, err = q.LockCouponByCode(ctx, code)
		return err
	})
	return out, err
}

func (s *Store) CountCouponUsage(ctx context.Context, couponID uuid.UUID, usageKey string) (domain.CouponUsage, error) {
	var out domain.CouponUsage
	err := s.view(func(q *querier) (err error) {
		out, err = q.CountCouponUsage(ctx, couponID, usageKey)
		return err
	})
	return out, err
}

func (s *Store) GetRedemptionByCheckout(ctx context.Context, checkoutID uuid.UUID) (*domain.CouponRedemption, error) {
	var out *domain.CouponRedemption
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetRedemptionByCheckout(ctx, checkoutID)
		return err
	})
	return out, err
}

func (s *Store) InsertRedemption(ctx context.Context, r *domain.CouponRedemption) error {
	return s.view(func(q *querier) error { return q.InsertRedemption(ctx, r) })
}

func (s *Store) UpdateRedemptionStatus(ctx context.Context, checkoutID uuid.UUID, status domain.RedemptionStatus, now time.Time) error {
	return s.view(func(q *querier) error { return q.UpdateRedemptionStatus(ctx, checkoutID, status, now) })
}

func (s *Store) InsertCheckout(ctx context.Context, c *domain.Checkout) error {
	return s.view(func(q *querier) error { return q.InsertCheckout(ctx, c) })
}

func (s *Store) GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error) {
	var out *domain.Checkout
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetCheckout(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) GetCheckoutByPaymentSession(ctx context.Context, sessionID string) (*domain.Checkout, error) {
	var out *domain.Checkout
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetCheckoutByPaymentSession(ctx, sessionID)
		return err
	})
	return out, err
}

func (s *Store) ListOpenCheckoutsByOwner(ctx context.Context, ownerKey string) ([]domain.Checkout, error) {
	var out []domain.Checkout
	err := s.view(func(q *querier) (err error) {
		out, err = q.ListOpenCheckoutsByOwner(ctx, ownerKey)
		return err
	})
	return out, err
}

func (s *Store) ListExpiredCheckouts(ctx context.Context, now time.Time, limit int) ([]domain.Checkout, error) {
	var out []domain.Checkout
	err := s.view(func(q *querier) (err error) {
		out, err = q.ListExpiredCheckouts(ctx, now, limit)
		return err
	})
	return out, err
}

func (s *Store) UpdateCheckout(ctx context.Context, c *domain.Checkout, expected domain.CheckoutState) (bool, error) {
	var out bool
	err := s.view(func(q *querier) (err error) {
		out, err = q.UpdateCheckout(ctx, c, expected)
		return err
	})
	return out, err
}

func (s *Store) InsertOrder(ctx context.Context, o *domain.Order) error {
	return s.view(func(q *querier) error { return q.InsertOrder(ctx, o) })
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var out *domain.Order
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetOrder(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*domain.Order, error) {
	var out *domain.Order
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetOrderByPaymentRef(ctx, paymentRef)
		return err
	})
	return out, err
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	var out *domain.Order
	err := s.view(func(q *querier) (err error) {
		out, err = q.GetOrderByNumber(ctx, number)
		return err
	})
	return out, err
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	var out bool
	err := s.view(func(q *querier) (err error) {
		out, err = q.UpdateOrderStatus(ctx, id, from, to, now)
		return err
	})
	return out, err
}

func (s *Store) InsertOrderEvent(ctx context.Context, e *domain.OrderEvent) error {
	return s.view(func(q *querier) error { return q.InsertOrderEvent(ctx, e) })
}

func (s *Store) ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	var out []domain.OrderEvent
	err := s.view(func(q *querier) (err error) {
		out, err = q.ListOrderEvents(ctx, orderID)
		return err
	})
	return out, err
}
