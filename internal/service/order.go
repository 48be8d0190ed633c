package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/events"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/google/uuid"
)

// finalizeFailure aborts the finalize transaction. Label is a bounded metric
// value; detail is recorded on the flagged order.
type finalizeFailure struct {
	label  string
	detail string
}

func (f *finalizeFailure) Error() string { return f.label + ": " + f.detail }

// errConcurrentFinalize means another delivery inserted the order first.
var errConcurrentFinalize = errors.New("order inserted concurrently")

type orderService struct {
	store     repository.Store
	holds     *holds
	publisher events.Publisher
	clock     Clock
	logger    *slog.Logger
}

// NewOrderService creates the order finalizer.
func NewOrderService(store repository.Store, publisher events.Publisher, clock Clock, reservationTTL time.Duration, logger *slog.Logger) domain.OrderService {
	if reservationTTL <= 0 {
		reservationTTL = domain.DefaultReservationTTL
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &orderService{
		store:     store,
		holds:     &holds{clock: clock, ttl: reservationTTL, logger: logger},
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

func (s *orderService) inTx(ctx context.Context, op string, fn func(q repository.Querier) error) error {
	return withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		return s.store.ExecTx(ctx, fn)
	})
}

// Finalize turns a confirmed payment into an order.
//
// The payment ref is the idempotency key: a replay returns the existing order
// with ErrAlreadyFinalized. Stock is committed from the owner's holds, and a
// lapsed hold is re-reserved from free stock in the same transaction. If the
// units or the coupon slot cannot be had, nothing is committed and a
// finalization_failed order is recorded instead for manual reconciliation.
func (s *orderService) Finalize(ctx context.Context, params domain.FinalizeParams) (*domain.OrderDetail, error) {
	const op = "order.finalize"
	ref := strings.TrimSpace(params.PaymentRef)
	if ref == "" {
		return nil, domain.WithOp(domain.ErrMissingPaymentRef, op)
	}
	if params.CheckoutID == uuid.Nil {
		return nil, domain.WithOp(domain.ErrMissingCheckoutID, op)
	}

	if detail, err := s.existing(ctx, op, ref); err != nil || detail != nil {
		return detail, err
	}

	var (
		detail   *domain.OrderDetail
		checkout *domain.Checkout
		prev     domain.CheckoutState
	)
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		detail, checkout = nil, nil

		c, err := q.GetCheckout(ctx, params.CheckoutID)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		checkout = c
		prev = c.State

		if c.PaymentSessionID != "" && c.PaymentSessionID != ref {
			return &finalizeFailure{label: "session_mismatch", detail: "payment session " + ref + " does not belong to this checkout"}
		}
		if !c.State.CanTransitionTo(domain.CheckoutPaid) {
			return &finalizeFailure{label: "checkout_closed", detail: "checkout is " + string(c.State)}
		}

		for _, line := range c.Lines {
			if err := s.commitLine(ctx, q, op, c.Owner, line); err != nil {
				return err
			}
		}
		// Holds for lines added after the lock go with the cart.
		if err := s.holds.removeAll(ctx, q, op, c.Owner); err != nil {
			return err
		}

		now := s.clock.Now()
		status := domain.OrderPaid
		if !params.PaymentSettled {
			status = domain.OrderPending
		}
		order := orderFromCheckout(c, ref, status, params.CustomerEmail, now)
		order.StockCommitted = true
		if err := q.InsertOrder(ctx, order); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return errConcurrentFinalize
			}
			return storeError(err, op, nil)
		}

		if c.CouponCode != "" {
			if err := s.consumeRedemption(ctx, q, op, c, now); err != nil {
				return err
			}
		}

		cart, err := q.GetCartByOwner(ctx, c.Owner.Key())
		if err != nil && !isNotFound(err) {
			return storeError(err, op, nil)
		}
		if cart != nil {
			if err := q.ClearCartItems(ctx, cart.ID); err != nil {
				return storeError(err, op, nil)
			}
		}

		if err := c.Transition(domain.CheckoutPaid, now); err != nil {
			return domain.WithOp(err, op)
		}
		ok, err := q.UpdateCheckout(ctx, c, prev)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		if !ok {
			return domain.WithOp(domain.ErrInvalidTransition, op)
		}

		event := domain.OrderEvent{
			OrderID:   order.ID,
			ToStatus:  status,
			Note:      "order created from checkout",
			CreatedAt: now,
		}
		if err := q.InsertOrderEvent(ctx, &event); err != nil {
			return storeError(err, op, nil)
		}

		detail = &domain.OrderDetail{Order: *order, Events: []domain.OrderEvent{event}}
		return nil
	})

	var failure *finalizeFailure
	switch {
	case err == nil:
	case errors.Is(err, errConcurrentFinalize):
		return s.existing(ctx, op, ref)
	case errors.As(err, &failure):
		return s.recordFailure(ctx, op, ref, checkout, params, failure)
	default:
		s.logger.Error("order finalization error",
			"payment_ref", ref,
			"checkout_id", params.CheckoutID,
			"error", err,
		)
		return nil, err
	}

	o := detail.Order
	if telemetry.Business != nil {
		telemetry.Business.OrdersFinalized.WithLabelValues(string(o.Status)).Inc()
		telemetry.Business.OrderValue.Observe(float64(o.Totals.TotalCents) / 100)
		telemetry.Business.CheckoutTransitions.WithLabelValues(string(prev), string(domain.CheckoutPaid)).Inc()
		if o.CouponCode != "" {
			telemetry.Business.CouponRedemptions.WithLabelValues(string(domain.RedemptionConsumed)).Inc()
		}
	}
	s.logger.Info("order finalized",
		"order_id", o.ID,
		"order_number", o.Number,
		"checkout_id", o.CheckoutID,
		"status", o.Status,
		"total_cents", o.Totals.TotalCents,
	)

	err = s.publisher.Publish(ctx, events.SubjectOrderFinalized, events.OrderFinalized{
		OrderID:    o.ID,
		Number:     o.Number,
		CheckoutID: o.CheckoutID,
		Status:     string(o.Status),
		Email:      o.Email,
		TotalCents: o.Totals.TotalCents,
		Currency:   o.Totals.Currency,
		PaymentRef: o.PaymentRef,
		OccurredAt: o.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to publish order finalized", "order_id", o.ID, "error", err)
	}
	return detail, nil
}

// existing returns the order already recorded for ref, paired with the error
// a replay should see. It returns nil, nil when there is none.
func (s *orderService) existing(ctx context.Context, op, ref string) (*domain.OrderDetail, error) {
	detail, err := s.loadDetail(ctx, op, func(q repository.Querier) (*domain.Order, error) {
		return q.GetOrderByPaymentRef(ctx, ref)
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment already finalized",
		"payment_ref", ref,
		"order_id", detail.Order.ID,
		"status", detail.Order.Status,
	)
	if detail.Order.Status == domain.OrderFinalizationFailed {
		return detail, domain.WithOp(domain.ErrFinalizationFailed, op)
	}
	return detail, domain.WithOp(domain.ErrAlreadyFinalized, op)
}

// commitLine commits one line's units. The owner's hold for the key is used
// first, expired or not; a shortfall is reserved from free stock.
func (s *orderService) commitLine(ctx context.Context, q repository.Querier, op string, owner domain.Owner, line domain.CheckoutLine) error {
	need := line.Quantity
	r, err := q.GetReservation(ctx, owner.Key(), line.VariantID, domain.OptionsKey(line.Options))
	if err != nil && !isNotFound(err) {
		return storeError(err, op, nil)
	}

	var held int32
	if r != nil {
		deleted, err := q.DeleteReservation(ctx, r.ID)
		if err != nil {
			return storeError(err, op, nil)
		}
		if deleted {
			held = r.Quantity
		}
	}

	take := min(held, need)
	if excess := held - take; excess > 0 {
		if err := releaseUnits(ctx, q, s.logger, op, line.VariantID, excess); err != nil {
			return s.lineFailure(err, line)
		}
	}
	if short := need - take; short > 0 {
		if _, _, err := s.holds.sweepVariant(ctx, q, op, line.VariantID, s.clock.Now()); err != nil {
			return err
		}
		if err := reserveUnits(ctx, q, op, line.VariantID, short); err != nil {
			return s.lineFailure(err, line)
		}
		s.logger.Info("re-reserved lapsed units at finalization",
			"variant_id", line.VariantID,
			"sku", line.SKU,
			"units", short,
		)
	}

	if err := commitUnits(ctx, q, s.logger, op, line.VariantID, need); err != nil {
		return s.lineFailure(err, line)
	}
	return nil
}

// lineFailure turns stock outcomes into a finalize failure. Anything else
// (transient store errors included) passes through.
func (s *orderService) lineFailure(err error, line domain.CheckoutLine) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return &finalizeFailure{label: "insufficient_stock", detail: "not enough stock to commit " + line.SKU}
	case errors.Is(err, domain.ErrVariantNotFound):
		return &finalizeFailure{label: "variant_missing", detail: "variant for " + line.SKU + " no longer exists"}
	case errors.Is(err, domain.ErrLedgerDesync):
		return &finalizeFailure{label: "ledger_desync", detail: "stock ledger out of sync for " + line.SKU}
	}
	return err
}

// consumeRedemption marks the checkout's coupon slot consumed. A slot released
// by abandonment is claimed again under the coupon's caps first.
func (s *orderService) consumeRedemption(ctx context.Context, q repository.Querier, op string, c *domain.Checkout, now time.Time) error {
	r, err := q.GetRedemptionByCheckout(ctx, c.ID)
	if err != nil && !isNotFound(err) {
		return storeError(err, op, nil)
	}

	if r == nil || r.Status == domain.RedemptionReleased {
		coupon, err := q.LockCouponByCode(ctx, c.CouponCode)
		if isNotFound(err) {
			return &finalizeFailure{label: "coupon_unavailable", detail: "coupon " + c.CouponCode + " no longer exists"}
		}
		if err != nil {
			return storeError(err, op, nil)
		}

		usageKey := domain.CouponUsageKey(c.Owner, c.Email)
		if r != nil {
			usageKey = r.UsageKey
		}
		usage, err := q.CountCouponUsage(ctx, coupon.ID, usageKey)
		if err != nil {
			return storeError(err, op, nil)
		}
		if (coupon.MaxUsesGlobal > 0 && usage.Global >= coupon.MaxUsesGlobal) ||
			(coupon.MaxUsesPerUser > 0 && usage.ForUser >= coupon.MaxUsesPerUser) {
			return &finalizeFailure{label: "coupon_unavailable", detail: "coupon " + c.CouponCode + " usage limit reached after checkout lapsed"}
		}

		if r == nil {
			err := q.InsertRedemption(ctx, &domain.CouponRedemption{
				CouponID:   coupon.ID,
				CouponCode: coupon.Code,
				CheckoutID: c.ID,
				UsageKey:   usageKey,
				Status:     domain.RedemptionConsumed,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			return storeError(err, op, nil)
		}
	}

	if r.Status == domain.RedemptionConsumed {
		return nil
	}
	if err := q.UpdateRedemptionStatus(ctx, c.ID, domain.RedemptionConsumed, now); err != nil {
		return storeError(err, op, nil)
	}
	return nil
}

// recordFailure writes the finalization_failed order in its own transaction.
// Cart, holds and coupon slot are left as they were.
func (s *orderService) recordFailure(ctx context.Context, op, ref string, c *domain.Checkout, params domain.FinalizeParams, failure *finalizeFailure) (*domain.OrderDetail, error) {
	var detail *domain.OrderDetail
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		detail = nil
		now := s.clock.Now()
		order := orderFromCheckout(c, ref, domain.OrderFinalizationFailed, params.CustomerEmail, now)
		order.FailureReason = failure.detail
		if err := q.InsertOrder(ctx, order); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return errConcurrentFinalize
			}
			return storeError(err, op, nil)
		}
		event := domain.OrderEvent{
			OrderID:   order.ID,
			ToStatus:  domain.OrderFinalizationFailed,
			Note:      failure.detail,
			CreatedAt: now,
		}
		if err := q.InsertOrderEvent(ctx, &event); err != nil {
			return storeError(err, op, nil)
		}
		detail = &domain.OrderDetail{Order: *order, Events: []domain.OrderEvent{event}}
		return nil
	})
	if errors.Is(err, errConcurrentFinalize) {
		return s.existing(ctx, op, ref)
	}
	if err != nil {
		s.logger.Error("failed to record finalization failure",
			"payment_ref", ref,
			"checkout_id", params.CheckoutID,
			"reason", failure.detail,
			"error", err,
		)
		return nil, err
	}

	o := detail.Order
	s.logger.Error("order finalization failed",
		"order_id", o.ID,
		"order_number", o.Number,
		"payment_ref", ref,
		"checkout_id", o.CheckoutID,
		"reason", failure.detail,
	)
	telemetry.CaptureErrorWithTags(failure,
		map[string]string{"op": op, "reason": failure.label},
		map[string]interface{}{
			"order_id":    o.ID.String(),
			"checkout_id": o.CheckoutID.String(),
			"payment_ref": ref,
		},
	)
	if telemetry.Business != nil {
		telemetry.Business.FinalizationsFailed.WithLabelValues(failure.label).Inc()
	}

	err = s.publisher.Publish(ctx, events.SubjectOrderFinalizationFailed, events.FinalizationFailed{
		OrderID:    o.ID,
		CheckoutID: o.CheckoutID,
		PaymentRef: ref,
		Reason:     failure.detail,
		OccurredAt: o.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to publish finalization failure", "order_id", o.ID, "error", err)
	}

	return detail, domain.WrapError(failure, domain.EINTERNAL, op, domain.ErrFinalizationFailed.Message)
}

func (s *orderService) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*domain.OrderDetail, error) {
	const op = "order.get_by_payment_ref"
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, domain.WithOp(domain.ErrMissingPaymentRef, op)
	}
	return s.loadDetail(ctx, op, func(q repository.Querier) (*domain.Order, error) {
		return q.GetOrderByPaymentRef(ctx, paymentRef)
	})
}

// LookupGuestOrder matches email case-insensitively. A wrong email looks the
// same as a wrong number.
func (s *orderService) LookupGuestOrder(ctx context.Context, email, orderNumber string) (*domain.OrderDetail, error) {
	const op = "order.lookup_guest"
	email = strings.TrimSpace(email)
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if email == "" || orderNumber == "" {
		return nil, domain.Invalid(op, "Email and order number are required")
	}

	detail, err := s.loadDetail(ctx, op, func(q repository.Querier) (*domain.Order, error) {
		return q.GetOrderByNumber(ctx, orderNumber)
	})
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(detail.Order.Email, email) {
		s.logger.Info("guest order lookup email mismatch", "order_number", orderNumber)
		return nil, domain.WithOp(domain.ErrOrderNotFound, op)
	}
	return detail, nil
}

func (s *orderService) GetOrderForOwner(ctx context.Context, owner domain.Owner, orderID uuid.UUID) (*domain.OrderDetail, error) {
	const op = "order.get_for_owner"
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	detail, err := s.loadDetail(ctx, op, func(q repository.Querier) (*domain.Order, error) {
		return q.GetOrder(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	if detail.Order.Owner.Key() != owner.Key() {
		return nil, domain.WithOp(domain.ErrOrderNotFound, op)
	}
	return detail, nil
}

// TransitionStatus applies a status change from the order transition table.
// Cancelling an order whose stock was committed credits the units back.
func (s *orderService) TransitionStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
	const op = "order.transition_status"
	if !to.Valid() {
		return nil, domain.Invalid(op, "Unknown order status: "+string(to))
	}

	var (
		detail *domain.OrderDetail
		from   domain.OrderStatus
	)
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		detail = nil
		o, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return storeError(err, op, domain.ErrOrderNotFound)
		}
		from = o.Status
		if !from.CanTransitionTo(to) {
			return domain.WithOp(domain.ErrInvalidTransition, op)
		}

		if to == domain.OrderCancelled && o.StockCommitted {
			for _, it := range o.Items {
				if err := restockUnits(ctx, q, s.logger, op, it.VariantID, it.Quantity); err != nil {
					return err
				}
			}
		}

		now := s.clock.Now()
		ok, err := q.UpdateOrderStatus(ctx, o.ID, from, to, now)
		if err != nil {
			return storeError(err, op, domain.ErrOrderNotFound)
		}
		if !ok {
			return domain.WithOp(domain.ErrInvalidTransition, op)
		}
		if err := q.InsertOrderEvent(ctx, &domain.OrderEvent{
			OrderID:    o.ID,
			FromStatus: from,
			ToStatus:   to,
			Note:       note,
			CreatedAt:  now,
		}); err != nil {
			return storeError(err, op, nil)
		}

		o.Status = to
		o.UpdatedAt = now
		evs, err := q.ListOrderEvents(ctx, o.ID)
		if err != nil {
			return storeError(err, op, nil)
		}
		detail = &domain.OrderDetail{Order: *o, Events: evs}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o := detail.Order
	if telemetry.Business != nil {
		telemetry.Business.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	s.logger.Info("order status changed",
		"order_id", o.ID,
		"order_number", o.Number,
		"from", from,
		"to", to,
	)

	err = s.publisher.Publish(ctx, events.SubjectOrderStatusChanged, events.OrderStatusChanged{
		OrderID:    o.ID,
		Number:     o.Number,
		From:       string(from),
		To:         string(to),
		Note:       note,
		OccurredAt: o.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to publish order status change", "order_id", o.ID, "error", err)
	}
	return detail, nil
}

// TransitionByPaymentRef is TransitionStatus keyed by payment ref. An order
// already in the target status is returned unchanged so redelivered
// processor events are harmless. Flagged orders are left for an admin.
func (s *orderService) TransitionByPaymentRef(ctx context.Context, paymentRef string, to domain.OrderStatus, note string) (*domain.OrderDetail, error) {
	const op = "order.transition_by_payment_ref"
	detail, err := s.GetOrderByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if detail.Order.Status == domain.OrderFinalizationFailed {
		return detail, domain.WithOp(domain.ErrOrderFlagged, op)
	}
	if detail.Order.Status == to {
		return detail, nil
	}
	return s.TransitionStatus(ctx, detail.Order.ID, to, note)
}

func (s *orderService) loadDetail(ctx context.Context, op string, get func(q repository.Querier) (*domain.Order, error)) (*domain.OrderDetail, error) {
	var detail *domain.OrderDetail
	err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		o, err := get(s.store)
		if err != nil {
			return storeError(err, op, domain.ErrOrderNotFound)
		}
		evs, err := s.store.ListOrderEvents(ctx, o.ID)
		if err != nil {
			return storeError(err, op, nil)
		}
		detail = &domain.OrderDetail{Order: *o, Events: evs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func orderFromCheckout(c *domain.Checkout, ref string, status domain.OrderStatus, fallbackEmail string, now time.Time) *domain.Order {
	email := c.Email
	if email == "" {
		email = strings.TrimSpace(fallbackEmail)
	}
	items := make([]domain.OrderItem, 0, len(c.Lines))
	for _, l := range c.Lines {
		items = append(items, domain.OrderItem{
			VariantID:      l.VariantID,
			SKU:            l.SKU,
			Name:           l.Name,
			Options:        l.Options,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			LineTotalCents: l.LineTotalCents,
		})
	}
	return &domain.Order{
		Number:     domain.NewOrderNumber(now),
		CheckoutID: c.ID,
		Owner:      c.Owner,
		Email:      email,
		Shipping:   c.Shipping,
		Items:      items,
		Totals:     c.Totals,
		CouponCode: c.CouponCode,
		Status:     status,
		PaymentRef: ref,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
