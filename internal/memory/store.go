// Package memory is an in-process implementation of repository.Store used in
// development when no DATABASE_URL is configured, and by service tests.
//
// A single mutex serializes every call, so each counter update is
// linearizable and ExecTx runs as one critical section. ExecTx snapshots the
// data before fn runs and restores it if fn fails.
package memory

import (
	"context"
	"sync"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
)

// Store implements repository.Store in memory.
type Store struct {
	mu     sync.Mutex
	d      *data
	faults map[string][]error
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		d:      newData(),
		faults: make(map[string][]error),
	}
}

// ExecTx runs fn while holding the store lock. Calling methods on s itself
// from inside fn deadlocks; use the Querier passed to fn.
func (s *Store) ExecTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(&querier{s: s, d: s.d}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// InjectFault makes the next len(errs) calls to the named Querier method
// return those errors in order. Only used by tests.
func (s *Store) InjectFault(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = append(s.faults[method], errs...)
}

// fault pops the next injected error for method. Callers hold s.mu.
func (s *Store) fault(method string) error {
	queue := s.faults[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.faults[method] = queue[1:]
	return err
}

// view runs fn under the lock without snapshotting.
func (s *Store) view(fn func(q *querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&querier{s: s, d: s.d})
}

// data is the full state of the store.
type data struct {
	variants     map[uuid.UUID]domain.Variant
	reservations map[uuid.UUID]domain.Reservation
	carts        map[uuid.UUID]domain.Cart
	cartItems    map[uuid.UUID]domain.CartItem
	coupons      map[uuid.UUID]domain.Coupon
	redemptions  map[uuid.UUID]domain.CouponRedemption
	checkouts    map[uuid.UUID]domain.Checkout
	orders       map[uuid.UUID]domain.Order
	events       []domain.OrderEvent
}

func newData() *data {
	return &data{
		variants:     make(map[uuid.UUID]domain.Variant),
		reservations: make(map[uuid.UUID]domain.Reservation),
		carts:        make(map[uuid.UUID]domain.Cart),
		cartItems:    make(map[uuid.UUID]domain.CartItem),
		coupons:      make(map[uuid.UUID]domain.Coupon),
		redemptions:  make(map[uuid.UUID]domain.CouponRedemption),
		checkouts:    make(map[uuid.UUID]domain.Checkout),
		orders:       make(map[uuid.UUID]domain.Order),
	}
}

// clone deep-copies the state. Nested slices and maps are copied by the
// per-type helpers so a rollback cannot observe later writes.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.variants {
		c.variants[k] = v
	}
	for k, v := range d.reservations {
		c.reservations[k] = copyReservation(v)
	}
	for k, v := range d.carts {
		c.carts[k] = v
	}
	for k, v := range d.cartItems {
		c.cartItems[k] = copyCartItem(v)
	}
	for k, v := range d.coupons {
		c.coupons[k] = v
	}
	for k, v := range d.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range d.checkouts {
		c.checkouts[k] = copyCheckout(v)
	}
	for k, v := range d.orders {
		c.orders[k] = copyOrder(v)
	}
	c.events = append([]domain.OrderEvent(nil), d.events...)
	return c
}

func copyOptions(o domain.Options) domain.Options {
	if o == nil {
		return nil
	}
	c := make(domain.Options, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

func copyReservation(r domain.Reservation) domain.Reservation {
	r.Options = copyOptions(r.Options)
	return r
}

func copyCartItem(i domain.CartItem) domain.CartItem {
	i.Options = copyOptions(i.Options)
	return i
}

func copyCheckout(c domain.Checkout) domain.Checkout {
	lines := make([]domain.CheckoutLine, len(c.Lines))
	for i, l := range c.Lines {
		l.Options = copyOptions(l.Options)
		lines[i] = l
	}
	c.Lines = lines
	return c
}

func copyOrder(o domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Options = copyOptions(it.Options)
		items[i] = it
	}
	o.Items = items
	return o
}
