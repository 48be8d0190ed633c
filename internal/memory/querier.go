package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
)

// querier runs against d with the store lock already held.
type querier struct {
	s *Store
	d *data
}

var _ repository.Querier = (*querier)(nil)

// =============================================================================
// Variants
// =============================================================================

func (q *querier) CreateVariant(ctx context.Context, v *domain.Variant) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if _, ok := q.d.variants[v.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range q.d.variants {
		if existing.SKU == v.SKU {
			return repository.ErrDuplicate
		}
	}
	q.d.variants[v.ID] = *v
	return nil
}

func (q *querier) GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error) {
	if err := q.s.fault("GetVariant"); err != nil {
		return nil, err
	}
	v, ok := q.d.variants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

// updateVariant applies mutate if guard holds.
func (q *querier) updateVariant(method string, id uuid.UUID, guard func(v domain.Variant) bool, mutate func(v *domain.Variant)) (bool, error) {
	if err := q.s.fault(method); err != nil {
		return false, err
	}
	v, ok := q.d.variants[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !guard(v) {
		return false, nil
	}
	mutate(&v)
	q.d.variants[id] = v
	return true, nil
}

func (q *querier) ReserveUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.updateVariant("ReserveUnits", variantID,
		func(v domain.Variant) bool { return v.StockUnits-v.ReservedUnits >= qty },
		func(v *domain.Variant) { v.ReservedUnits += qty },
	)
}

func (q *querier) ReleaseUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.updateVariant("ReleaseUnits", variantID,
		func(v domain.Variant) bool { return v.ReservedUnits >= qty },
		func(v *domain.Variant) { v.ReservedUnits -= qty },
	)
}

func (q *querier) CommitUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.updateVariant("CommitUnits", variantID,
		func(v domain.Variant) bool { return v.ReservedUnits >= qty && v.StockUnits >= qty },
		func(v *domain.Variant) {
			v.StockUnits -= qty
			v.ReservedUnits -= qty
			v.SoldUnits += qty
		},
	)
}

func (q *querier) RestockUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.updateVariant("RestockUnits", variantID,
		func(v domain.Variant) bool { return v.SoldUnits >= qty },
		func(v *domain.Variant) {
			v.StockUnits += qty
			v.SoldUnits -= qty
		},
	)
}

// =============================================================================
// Reservations
// =============================================================================

func (q *querier) GetReservation(ctx context.Context, ownerKey string, variantID uuid.UUID, optionsKey string) (*domain.Reservation, error) {
	for _, r := range q.d.reservations {
		if r.Owner.Key() == ownerKey && r.VariantID == variantID && r.OptionsKey == optionsKey {
			c := copyReservation(r)
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) UpsertReservation(ctx context.Context, r *domain.Reservation) error {
	if err := q.s.fault("UpsertReservation"); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	for id, existing := range q.d.reservations {
		if id != r.ID && existing.Owner.Key() == r.Owner.Key() &&
			existing.VariantID == r.VariantID && existing.OptionsKey == r.OptionsKey {
			return repository.ErrDuplicate
		}
	}
	q.d.reservations[r.ID] = copyReservation(*r)
	return nil
}

func (q *querier) DeleteReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, ok := q.d.reservations[id]; !ok {
		return false, nil
	}
	delete(q.d.reservations, id)
	return true, nil
}

func (q *querier) ListReservationsByOwner(ctx context.Context, ownerKey string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range q.d.reservations {
		if r.Owner.Key() == ownerKey {
			out = append(out, copyReservation(r))
		}
	}
	sortReservations(out)
	return out, nil
}

func (q *querier) SumActiveReserved(ctx context.Context, variantID uuid.UUID, now time.Time) (int32, error) {
	var sum int32
	for _, r := range q.d.reservations {
		if r.VariantID == variantID && r.ActiveAt(now) {
			sum += r.Quantity
		}
	}
	return sum, nil
}

func (q *querier) ExtendReservations(ctx context.Context, ownerKey string, now, expiresAt time.Time) (int64, error) {
	var n int64
	for id, r := range q.d.reservations {
		if r.Owner.Key() == ownerKey && r.ActiveAt(now) {
			r.ExpiresAt = expiresAt
			r.UpdatedAt = now
			q.d.reservations[id] = r
			n++
		}
	}
	return n, nil
}

func (q *querier) DeleteExpiredReservations(ctx context.Context, now time.Time, variantID *uuid.UUID, limit int) ([]domain.Reservation, error) {
	var expired []domain.Reservation
	for _, r := range q.d.reservations {
		if variantID != nil && r.VariantID != *variantID {
			continue
		}
		if !r.ActiveAt(now) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, r := range expired {
		delete(q.d.reservations, r.ID)
	}
	return expired, nil
}

func sortReservations(rs []domain.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID.String() < rs[j].ID.String()
	})
}

// =============================================================================
// Carts
// =============================================================================

func (q *querier) GetCartByOwner(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	for _, c := range q.d.carts {
		if c.Owner.Key() == ownerKey {
			cart := c
			return &cart, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) CreateCart(ctx context.Context, c *domain.Cart) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	for _, existing := range q.d.carts {
		if existing.Owner.Key() == c.Owner.Key() {
			return repository.ErrDuplicate
		}
	}
	q.d.carts[c.ID] = *c
	return nil
}

func (q *querier) DeleteCart(ctx context.Context, id uuid.UUID) error {
	for itemID, it := range q.d.cartItems {
		if it.CartID == id {
			delete(q.d.cartItems, itemID)
		}
	}
	delete(q.d.carts, id)
	return nil
}

// withVariant fills the catalog columns a Postgres join would return.
func (q *querier) withVariant(it domain.CartItem) domain.CartItem {
	it = copyCartItem(it)
	if v, ok := q.d.variants[it.VariantID]; ok {
		it.SKU = v.SKU
		it.Name = v.Name
		it.UnitPriceCents = v.PriceCents
	}
	return it
}

func (q *querier) ListCartItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	var out []domain.CartItem
	for _, it := range q.d.cartItems {
		if it.CartID == cartID {
			out = append(out, q.withVariant(it))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (q *querier) GetCartItem(ctx context.Context, id uuid.UUID) (*domain.CartItem, error) {
	it, ok := q.d.cartItems[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	item := q.withVariant(it)
	return &item, nil
}

func (q *querier) GetCartItemByKey(ctx context.Context, cartID, variantID uuid.UUID, optionsKey string) (*domain.CartItem, error) {
	for _, it := range q.d.cartItems {
		if it.CartID == cartID && it.VariantID == variantID && it.OptionsKey == optionsKey {
			item := q.withVariant(it)
			return &item, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) InsertCartItem(ctx context.Context, item *domain.CartItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if _, ok := q.d.carts[item.CartID]; !ok {
		return repository.ErrNotFound
	}
	for _, it := range q.d.cartItems {
		if it.CartID == item.CartID && it.VariantID == item.VariantID && it.OptionsKey == item.OptionsKey {
			return repository.ErrDuplicate
		}
	}
	q.d.cartItems[item.ID] = copyCartItem(*item)
	return nil
}

func (q *querier) UpdateCartItemQuantity(ctx context.Context, id uuid.UUID, qty int32, now time.Time) error {
	it, ok := q.d.cartItems[id]
	if !ok {
		return repository.ErrNotFound
	}
	it.Quantity = qty
	it.UpdatedAt = now
	q.d.cartItems[id] = it
	return nil
}

func (q *querier) DeleteCartItem(ctx context.Context, id uuid.UUID) error {
	delete(q.d.cartItems, id)
	return nil
}

func (q *querier) ClearCartItems(ctx context.Context, cartID uuid.UUID) error {
	for id, it := range q.d.cartItems {
		if it.CartID == cartID {
			delete(q.d.cartItems, id)
		}
	}
	return nil
}

// =============================================================================
// Coupons
// =============================================================================

func (q *querier) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Code = domain.NormalizeCouponCode(c.Code)
	for _, existing := range q.d.coupons {
		if existing.Code == c.Code {
			return repository.ErrDuplicate
		}
	}
	q.d.coupons[c.ID] = *c
	return nil
}

func (q *querier) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	for _, c := range q.d.coupons {
		if c.Code == code {
			coupon := c
			return &coupon, nil
		}
	}
	return nil, repository.ErrNotFound
}

// LockCouponByCode needs no row lock here; the store mutex already
// serializes the transaction.
func (q *querier) LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return q.GetCouponByCode(ctx, code)
}

func (q *querier) CountCouponUsage(ctx context.Context, couponID uuid.UUID, usageKey string) (domain.CouponUsage, error) {
	var usage domain.CouponUsage
	for _, r := range q.d.redemptions {
		if r.CouponID != couponID || r.Status == domain.RedemptionReleased {
			continue
		}
		usage.Global++
		if usageKey != "" && r.UsageKey == usageKey {
			usage.ForUser++
		}
	}
	return usage, nil
}

func (q *querier) GetRedemptionByCheckout(ctx context.Context, checkoutID uuid.UUID) (*domain.CouponRedemption, error) {
	for _, r := range q.d.redemptions {
		if r.CheckoutID == checkoutID {
			red := r
			return &red, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) InsertRedemption(ctx context.Context, r *domain.CouponRedemption) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	for _, existing := range q.d.redemptions {
		if existing.CheckoutID == r.CheckoutID {
			return repository.ErrDuplicate
		}
	}
	q.d.redemptions[r.ID] = *r
	return nil
}

func (q *querier) UpdateRedemptionStatus(ctx context.Context, checkoutID uuid.UUID, status domain.RedemptionStatus, now time.Time) error {
	for id, r := range q.d.redemptions {
		if r.CheckoutID == checkoutID {
			r.Status = status
			r.UpdatedAt = now
			q.d.redemptions[id] = r
			return nil
		}
	}
	return repository.ErrNotFound
}

// =============================================================================
// Checkouts
// =============================================================================

func (q *querier) InsertCheckout(ctx context.Context, c *domain.Checkout) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := q.d.checkouts[c.ID]; ok {
		return repository.ErrDuplicate
	}
	if c.PaymentSessionID != "" {
		if _, err := q.GetCheckoutByPaymentSession(ctx, c.PaymentSessionID); err == nil {
			return repository.ErrDuplicate
		}
	}
	q.d.checkouts[c.ID] = copyCheckout(*c)
	return nil
}

func (q *querier) GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error) {
	c, ok := q.d.checkouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c = copyCheckout(c)
	return &c, nil
}

func (q *querier) GetCheckoutByPaymentSession(ctx context.Context, sessionID string) (*domain.Checkout, error) {
	for _, c := range q.d.checkouts {
		if c.PaymentSessionID == sessionID {
			c = copyCheckout(c)
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) ListOpenCheckoutsByOwner(ctx context.Context, ownerKey string) ([]domain.Checkout, error) {
	var out []domain.Checkout
	for _, c := range q.d.checkouts {
		if c.Owner.Key() == ownerKey && c.State.IsOpen() {
			out = append(out, copyCheckout(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *querier) ListExpiredCheckouts(ctx context.Context, now time.Time, limit int) ([]domain.Checkout, error) {
	var out []domain.Checkout
	for _, c := range q.d.checkouts {
		if c.State.IsOpen() && !c.ExpiresAt.After(now) {
			out = append(out, copyCheckout(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *querier) UpdateCheckout(ctx context.Context, c *domain.Checkout, expected domain.CheckoutState) (bool, error) {
	stored, ok := q.d.checkouts[c.ID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if stored.State != expected {
		return false, nil
	}
	if c.PaymentSessionID != "" && c.PaymentSessionID != stored.PaymentSessionID {
		if other, err := q.GetCheckoutByPaymentSession(ctx, c.PaymentSessionID); err == nil && other.ID != c.ID {
			return false, repository.ErrDuplicate
		}
	}
	q.d.checkouts[c.ID] = copyCheckout(*c)
	return true, nil
}

// =============================================================================
// Orders
// =============================================================================

func (q *querier) InsertOrder(ctx context.Context, o *domain.Order) error {
	if err := q.s.fault("InsertOrder"); err != nil {
		return err
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	for _, existing := range q.d.orders {
		if existing.PaymentRef == o.PaymentRef || existing.Number == o.Number {
			return repository.ErrDuplicate
		}
	}
	for i := range o.Items {
		if o.Items[i].ID == uuid.Nil {
			o.Items[i].ID = uuid.New()
		}
		o.Items[i].OrderID = o.ID
	}
	q.d.orders[o.ID] = copyOrder(*o)
	return nil
}

func (q *querier) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := q.d.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	o = copyOrder(o)
	return &o, nil
}

func (q *querier) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*domain.Order, error) {
	for _, o := range q.d.orders {
		if o.PaymentRef == paymentRef {
			o = copyOrder(o)
			return &o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	for _, o := range q.d.orders {
		if o.Number == number {
			o = copyOrder(o)
			return &o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (q *querier) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	o, ok := q.d.orders[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = now
	q.d.orders[id] = o
	return true, nil
}

func (q *querier) InsertOrderEvent(ctx context.Context, e *domain.OrderEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	q.d.events = append(q.d.events, *e)
	return nil
}

func (q *querier) ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	var out []domain.OrderEvent
	for _, e := range q.d.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
