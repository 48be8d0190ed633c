package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/dukerupert/kaupa/internal/billing"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/events"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/dukerupert/kaupa/internal/shipping"
	"github.com/dukerupert/kaupa/internal/tax"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/google/uuid"
)

// abandonBatchSize bounds one pass of the abandonment sweep.
const abandonBatchSize = 100

// CheckoutConfig holds the checkout knobs read from the environment.
type CheckoutConfig struct {
	// Currency is the ISO code every checkout is priced in.
	Currency string

	// SuccessURL may contain {CHECKOUT_SESSION_ID}, which Stripe fills in.
	SuccessURL string
	CancelURL  string

	// PaymentWindow is how long a locked checkout stays payable.
	PaymentWindow time.Duration

	// ReservationTTL is applied when holds are refreshed at lock and payment.
	ReservationTTL time.Duration

	// UnitWeightGrams is the shipping weight assumed per unit.
	UnitWeightGrams int32
}

func (c *CheckoutConfig) setDefaults() {
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.PaymentWindow <= 0 {
		c.PaymentWindow = 30 * time.Minute
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = domain.DefaultReservationTTL
	}
	if c.UnitWeightGrams <= 0 {
		c.UnitWeightGrams = 340
	}
}

type checkoutService struct {
	store            repository.Store
	holds            *holds
	billingProvider  billing.Provider
	shippingProvider shipping.Provider
	taxCalculator    tax.Calculator
	addrValidator    address.Validator
	publisher        events.Publisher
	clock            Clock
	cfg              CheckoutConfig
	logger           *slog.Logger
}

// NewCheckoutService creates a new CheckoutService instance.
func NewCheckoutService(
	store repository.Store,
	billingProvider billing.Provider,
	shippingProvider shipping.Provider,
	taxCalculator tax.Calculator,
	addrValidator address.Validator,
	publisher events.Publisher,
	clock Clock,
	cfg CheckoutConfig,
	logger *slog.Logger,
) domain.CheckoutService {
	cfg.setDefaults()
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &checkoutService{
		store:            store,
		holds:            &holds{clock: clock, ttl: cfg.ReservationTTL, logger: logger},
		billingProvider:  billingProvider,
		shippingProvider: shippingProvider,
		taxCalculator:    taxCalculator,
		addrValidator:    addrValidator,
		publisher:        publisher,
		clock:            clock,
		cfg:              cfg,
		logger:           logger,
	}
}

func (s *checkoutService) inTx(ctx context.Context, op string, fn func(q repository.Querier) error) error {
	return withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		return s.store.ExecTx(ctx, fn)
	})
}

// LockPricing prices the owner's cart and freezes the result.
//
// Quotes from the shipping, tax and coupon lookups are taken before the
// transaction. Inside it the cart is re-read and must still match the quoted
// lines with every line held, the coupon slot is claimed under its row lock,
// and the checkout row is written. Any open checkout the owner already had is
// abandoned so only one can be paid.
func (s *checkoutService) LockPricing(ctx context.Context, owner domain.Owner, params domain.LockPricingParams) (*domain.Checkout, error) {
	const op = "checkout.lock_pricing"
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(params.Email)
	if email == "" && owner.IsGuest() {
		return nil, domain.WithOp(domain.ErrMissingCheckoutEmail, op)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, domain.NewValidationError(op, "email", "Enter a valid email address")
		}
	}

	var items []domain.CartItem
	err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		var err error
		items, err = s.cartItems(ctx, s.store, op, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.WithOp(domain.ErrEmptyCart, op)
	}

	shipTo, err := s.validateAddress(ctx, op, params.Shipping)
	if err != nil {
		return nil, err
	}

	lines, subtotal, units := snapshotLines(items)

	code := domain.NormalizeCouponCode(params.CouponCode)
	usageKey := domain.CouponUsageKey(owner, email)
	var discount int64
	if code != "" {
		now := s.clock.Now()
		err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
			var err error
			discount, err = s.quoteCoupon(ctx, s.store, op, now, owner, code, usageKey, subtotal)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	rates, err := s.shippingProvider.GetRates(ctx, shipping.RateParams{
		Destination:   shipTo,
		Packages:      []shipping.Package{{WeightGrams: s.cfg.UnitWeightGrams * int32(units)}},
		SubtotalCents: subtotal - discount,
	})
	if err != nil {
		return nil, err
	}
	rate, err := shipping.FindRate(rates, params.ShippingRate)
	if err != nil {
		return nil, domain.WithOp(domain.ErrInvalidShippingRate, op)
	}

	taxResult, err := s.taxCalculator.CalculateTax(ctx, tax.TaxParams{
		ShippingAddress: shipTo,
		LineItems:       taxLineItems(lines),
		DiscountCents:   discount,
		ShippingCents:   rate.CostCents,
		Currency:        s.cfg.Currency,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	checkout := &domain.Checkout{
		ID:           uuid.New(),
		Owner:        owner,
		Email:        email,
		Shipping:     shipTo,
		ShippingRate: rate.RateID,
		Lines:        lines,
		Totals: domain.Totals{
			SubtotalCents: subtotal,
			DiscountCents: discount,
			ShippingCents: rate.CostCents,
			TaxCents:      taxResult.TotalTaxCents,
			TotalCents:    subtotal - discount + rate.CostCents + taxResult.TotalTaxCents,
			Currency:      s.cfg.Currency,
		},
		CouponCode: code,
		ExpiresAt:  now.Add(s.cfg.PaymentWindow),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var superseded []domain.Checkout
	err = s.inTx(ctx, op, func(q repository.Querier) error {
		superseded = nil
		checkout.State = domain.CheckoutDraft

		if err := s.verifyCartHeld(ctx, q, op, owner, lines); err != nil {
			return err
		}

		open, err := q.ListOpenCheckoutsByOwner(ctx, owner.Key())
		if err != nil {
			return storeError(err, op, nil)
		}
		for i := range open {
			prev := open[i]
			if err := s.closeCheckout(ctx, q, op, &open[i], domain.CheckoutAbandoned, "superseded by a newer checkout", now); err != nil {
				return err
			}
			superseded = append(superseded, prev)
		}

		if _, err := s.holds.extend(ctx, q, op, owner); err != nil {
			return err
		}

		if code != "" {
			if err := s.claimCoupon(ctx, q, op, now, owner, checkout.ID, code, usageKey, subtotal, discount); err != nil {
				return err
			}
		}

		if err := checkout.Transition(domain.CheckoutPricingLocked, now); err != nil {
			return domain.WithOp(err, op)
		}
		if err := q.InsertCheckout(ctx, checkout); err != nil {
			return storeError(err, op, nil)
		}
		return nil
	})
	if err != nil {
		if domain.IsCouponInvalid(err) {
			s.logger.Info("coupon rejected at pricing lock", "owner", owner.Key(), "code", code, "reason", domain.ErrorMessage(err))
		}
		return nil, err
	}

	for _, prev := range superseded {
		s.recordTransition(prev.State, domain.CheckoutAbandoned)
		s.expireSession(ctx, prev.PaymentSessionID)
	}
	s.recordTransition(domain.CheckoutDraft, domain.CheckoutPricingLocked)
	if code != "" && telemetry.Business != nil {
		telemetry.Business.CouponRedemptions.WithLabelValues(string(domain.RedemptionReserved)).Inc()
	}

	s.logger.Info("checkout pricing locked",
		"checkout_id", checkout.ID,
		"owner", owner.Key(),
		"total_cents", checkout.Totals.TotalCents,
		"coupon", code,
	)
	return checkout, nil
}

// fixSessionExpiry records the processor session deadline once: the
// checkout's own expiry, pushed out to the processor's minimum window.
func (s *checkoutService) fixSessionExpiry(ctx context.Context, op string, checkoutID uuid.UUID) (*domain.Checkout, error) {
	var c *domain.Checkout
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		fresh, err := q.GetCheckout(ctx, checkoutID)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		c = fresh
		if !fresh.SessionExpiresAt.IsZero() {
			return nil
		}
		if fresh.State != domain.CheckoutPricingLocked {
			return domain.WithOp(domain.ErrCheckoutNotPayable, op)
		}

		now := s.clock.Now()
		expires := fresh.ExpiresAt
		if floor := now.Add(billing.MinSessionWindow); expires.Before(floor) {
			expires = floor
		}
		fresh.SessionExpiresAt = expires.UTC().Truncate(time.Second)
		fresh.UpdatedAt = now
		ok, err := q.UpdateCheckout(ctx, fresh, domain.CheckoutPricingLocked)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		if !ok {
			return domain.WithOp(domain.ErrCheckoutNotPayable, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// StartPayment opens the hosted payment session. Calling it again for a
// checkout already awaiting payment returns the same session.
func (s *checkoutService) StartPayment(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error) {
	const op = "checkout.start_payment"

	c, err := s.ownedCheckout(ctx, op, owner, checkoutID)
	if err != nil {
		return nil, err
	}
	if c.State == domain.CheckoutPaymentPending && c.PaymentSessionID != "" {
		return c, nil
	}
	if c.State != domain.CheckoutPricingLocked {
		return nil, domain.WithOp(domain.ErrCheckoutNotPayable, op)
	}
	if !c.ExpiresAt.After(s.clock.Now()) {
		return nil, domain.Conflict(op, "This checkout has expired. Please review your cart and try again.")
	}

	err = withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		_, err := s.holds.extend(ctx, s.store, op, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c.SessionExpiresAt.IsZero() {
		if c, err = s.fixSessionExpiry(ctx, op, c.ID); err != nil {
			return nil, err
		}
	}

	session, err := s.billingProvider.CreateCheckoutSession(ctx, billing.CreateSessionParams{
		AmountCents:       c.Totals.TotalCents,
		Currency:          c.Totals.Currency,
		Description:       checkoutDescription(c),
		CustomerEmail:     c.Email,
		ClientReferenceID: c.ID.String(),
		SuccessURL:        s.cfg.SuccessURL,
		CancelURL:         s.cfg.CancelURL,
		ExpiresAt:         c.SessionExpiresAt,
		Metadata:          map[string]string{"checkout_id": c.ID.String()},
		IdempotencyKey:    c.ID.String(),
	})
	if err != nil {
		return nil, s.paymentError(op, c.ID, err)
	}
	if telemetry.Business != nil {
		telemetry.Business.PaymentSessions.WithLabelValues("created").Inc()
	}

	now := s.clock.Now()
	err = s.inTx(ctx, op, func(q repository.Querier) error {
		fresh, err := q.GetCheckout(ctx, c.ID)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		if fresh.State == domain.CheckoutPaymentPending && fresh.PaymentSessionID == session.ID {
			c = fresh
			return nil
		}
		if fresh.State != domain.CheckoutPricingLocked {
			return domain.WithOp(domain.ErrCheckoutNotPayable, op)
		}

		fresh.PaymentSessionID = session.ID
		fresh.PaymentURL = session.URL
		if err := fresh.Transition(domain.CheckoutPaymentPending, now); err != nil {
			return domain.WithOp(err, op)
		}
		ok, err := q.UpdateCheckout(ctx, fresh, domain.CheckoutPricingLocked)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		if !ok {
			return domain.WithOp(domain.ErrCheckoutNotPayable, op)
		}
		c = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(domain.CheckoutPricingLocked, domain.CheckoutPaymentPending)
	s.logger.Info("payment session created",
		"checkout_id", c.ID,
		"session_id", c.PaymentSessionID,
		"amount_cents", c.Totals.TotalCents,
	)
	return c, nil
}

// Cancel moves the owner's open checkout to Failed and closes its session.
func (s *checkoutService) Cancel(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error) {
	const op = "checkout.cancel"

	c, err := s.ownedCheckout(ctx, op, owner, checkoutID)
	if err != nil {
		return nil, err
	}
	if c.State == domain.CheckoutFailed {
		return c, nil
	}
	prev := c.State

	err = s.inTx(ctx, op, func(q repository.Querier) error {
		fresh, err := q.GetCheckout(ctx, checkoutID)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		prev = fresh.State
		if err := s.closeCheckout(ctx, q, op, fresh, domain.CheckoutFailed, "cancelled by customer", s.clock.Now()); err != nil {
			return err
		}
		c = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(prev, domain.CheckoutFailed)
	s.expireSession(ctx, c.PaymentSessionID)
	return c, nil
}

// MarkFailed closes an open checkout after a processor-side failure. A
// checkout that is no longer open is left as is.
func (s *checkoutService) MarkFailed(ctx context.Context, checkoutID uuid.UUID, reason string) error {
	const op = "checkout.mark_failed"

	var (
		prev    domain.CheckoutState
		changed bool
	)
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		changed = false
		c, err := q.GetCheckout(ctx, checkoutID)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		if !c.State.IsOpen() {
			return nil
		}
		prev = c.State
		if err := s.closeCheckout(ctx, q, op, c, domain.CheckoutFailed, reason, s.clock.Now()); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.recordTransition(prev, domain.CheckoutFailed)
		s.logger.Info("checkout marked failed", "checkout_id", checkoutID, "reason", reason)
	}
	return nil
}

// AbandonExpired abandons open checkouts past their expiry and releases
// their coupon slots. Holds are left to the reservation sweep.
func (s *checkoutService) AbandonExpired(ctx context.Context) (int, error) {
	const op = "checkout.abandon_expired"

	var (
		total    int
		firstErr error
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var expired []domain.Checkout
		err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
			var err error
			expired, err = s.store.ListExpiredCheckouts(ctx, s.clock.Now(), abandonBatchSize)
			return storeError(err, op, nil)
		})
		if err != nil {
			return total, err
		}

		progressed := 0
		for i := range expired {
			abandoned, err := s.abandon(ctx, op, expired[i].ID)
			if err != nil {
				s.logger.Error("failed to abandon checkout", "checkout_id", expired[i].ID, "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			progressed++
			if abandoned != nil {
				total++
			}
		}

		if len(expired) < abandonBatchSize || progressed == 0 {
			break
		}
	}

	if total > 0 {
		s.logger.Info("expired checkouts abandoned", "count", total)
	}
	return total, firstErr
}

func (s *checkoutService) abandon(ctx context.Context, op string, checkoutID uuid.UUID) (*domain.Checkout, error) {
	var (
		abandoned *domain.Checkout
		prev      domain.CheckoutState
	)
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		abandoned = nil
		now := s.clock.Now()
		c, err := q.GetCheckout(ctx, checkoutID)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		if !c.State.IsOpen() || c.ExpiresAt.After(now) {
			return nil
		}
		prev = c.State
		if err := s.closeCheckout(ctx, q, op, c, domain.CheckoutAbandoned, "payment window expired", now); err != nil {
			return err
		}
		abandoned = c
		return nil
	})
	if err != nil || abandoned == nil {
		return nil, err
	}

	s.recordTransition(prev, domain.CheckoutAbandoned)
	if telemetry.Business != nil {
		telemetry.Business.CheckoutAbandoned.Inc()
	}
	s.expireSession(ctx, abandoned.PaymentSessionID)

	err = s.publisher.Publish(ctx, events.SubjectCheckoutAbandoned, events.CheckoutAbandoned{
		CheckoutID: abandoned.ID,
		OwnerKey:   abandoned.Owner.Key(),
		From:       string(prev),
		OccurredAt: abandoned.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to publish checkout abandoned", "checkout_id", abandoned.ID, "error", err)
	}
	return abandoned, nil
}

// ValidateCoupon quotes a coupon without claiming a slot.
func (s *checkoutService) ValidateCoupon(ctx context.Context, owner domain.Owner, code string, subtotalCents int64) (*domain.CouponQuote, error) {
	const op = "checkout.validate_coupon"
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return nil, domain.NewValidationError(op, "code", "Coupon code is required")
	}
	if subtotalCents < 0 {
		return nil, domain.Invalid(op, "subtotal must not be negative")
	}

	// Guests have no email yet; key them by session so the per-user cap
	// check does not demand one before checkout.
	usageKey := domain.CouponUsageKey(owner, "")
	if owner.IsGuest() {
		usageKey = "guest:" + owner.GuestID
	}

	var (
		discount int64
		coupon   *domain.Coupon
	)
	now := s.clock.Now()
	err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		var err error
		coupon, err = s.store.GetCouponByCode(ctx, code)
		if isNotFound(err) {
			return domain.CouponInvalid(op, "This coupon code is not valid")
		}
		if err != nil {
			return storeError(err, op, nil)
		}
		discount, err = s.quoteCoupon(ctx, s.store, op, now, owner, code, usageKey, subtotalCents)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &domain.CouponQuote{
		Code:          coupon.Code,
		DiscountType:  coupon.DiscountType,
		DiscountCents: discount,
		SubtotalCents: subtotalCents,
	}, nil
}

func (s *checkoutService) GetCheckout(ctx context.Context, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error) {
	return s.ownedCheckout(ctx, "checkout.get", owner, checkoutID)
}

// VerifyRedirect answers the customer's return from the hosted page. Only the
// webhook creates orders, so until one exists a paid session is reported as
// awaiting confirmation.
func (s *checkoutService) VerifyRedirect(ctx context.Context, owner domain.Owner, sessionID string) (*domain.CheckoutStatus, error) {
	const op = "checkout.verify_redirect"
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.NewValidationError(op, "session_id", "Session ID is required")
	}

	var (
		c     *domain.Checkout
		order *domain.Order
	)
	err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		var err error
		c, err = s.store.GetCheckoutByPaymentSession(ctx, sessionID)
		if err != nil {
			return storeError(err, op, domain.ErrCheckoutNotFound)
		}
		order, err = s.store.GetOrderByPaymentRef(ctx, sessionID)
		if isNotFound(err) {
			order = nil
			return nil
		}
		return storeError(err, op, nil)
	})
	if err != nil {
		return nil, err
	}
	if c.Owner.Key() != owner.Key() {
		s.logger.Warn("redirect session belongs to another owner",
			"owner", owner.Key(),
			"checkout_id", c.ID,
		)
		return nil, domain.WithOp(domain.ErrCheckoutNotFound, op)
	}

	status := &domain.CheckoutStatus{CheckoutID: c.ID, State: c.State}
	if order != nil {
		status.OrderNumber = order.Number
		status.Status = domain.RedirectConfirmed
		if order.Status == domain.OrderFinalizationFailed {
			status.Status = domain.RedirectAwaitingConfirmation
		}
		return status, nil
	}

	session, err := s.billingProvider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, billing.ErrSessionNotFound) {
			return nil, domain.WithOp(domain.ErrCheckoutNotFound, op)
		}
		s.logger.Warn("could not read payment session on redirect", "session_id", sessionID, "error", err)
		status.Status = domain.RedirectAwaitingConfirmation
		return status, nil
	}

	status.PaymentStatus = session.PaymentStatus
	switch session.Status {
	case billing.SessionStatusComplete:
		status.Status = domain.RedirectAwaitingConfirmation
	case billing.SessionStatusExpired:
		status.Status = domain.RedirectFailed
	default:
		status.Status = domain.RedirectNotPaid
	}
	return status, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *checkoutService) ownedCheckout(ctx context.Context, op string, owner domain.Owner, checkoutID uuid.UUID) (*domain.Checkout, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	var c *domain.Checkout
	err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		var err error
		c, err = s.store.GetCheckout(ctx, checkoutID)
		return storeError(err, op, domain.ErrCheckoutNotFound)
	})
	if err != nil {
		return nil, err
	}
	if c.Owner.Key() != owner.Key() {
		s.logger.Warn("checkout ownership mismatch",
			"op", op,
			"owner", owner.Key(),
			"checkout_id", checkoutID,
		)
		return nil, domain.WithOp(domain.ErrUnauthorized, op)
	}
	return c, nil
}

// closeCheckout moves c to a closed state and releases its coupon slot.
func (s *checkoutService) closeCheckout(ctx context.Context, q repository.Querier, op string, c *domain.Checkout, to domain.CheckoutState, reason string, now time.Time) error {
	prev := c.State
	if err := c.Transition(to, now); err != nil {
		return domain.WithOp(err, op)
	}
	c.FailureReason = reason
	ok, err := q.UpdateCheckout(ctx, c, prev)
	if err != nil {
		return storeError(err, op, domain.ErrCheckoutNotFound)
	}
	if !ok {
		return domain.WithOp(domain.ErrInvalidTransition, op)
	}
	return releaseRedemption(ctx, q, op, c.ID, now)
}

// releaseRedemption frees a reserved coupon slot. Consumed slots stay consumed.
func releaseRedemption(ctx context.Context, q repository.Querier, op string, checkoutID uuid.UUID, now time.Time) error {
	r, err := q.GetRedemptionByCheckout(ctx, checkoutID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return storeError(err, op, nil)
	}
	if r.Status != domain.RedemptionReserved {
		return nil
	}
	if err := q.UpdateRedemptionStatus(ctx, checkoutID, domain.RedemptionReleased, now); err != nil {
		return storeError(err, op, nil)
	}
	if telemetry.Business != nil {
		telemetry.Business.CouponRedemptions.WithLabelValues(string(domain.RedemptionReleased)).Inc()
	}
	return nil
}

// quoteCoupon validates without locking and returns the discount.
func (s *checkoutService) quoteCoupon(ctx context.Context, q repository.Querier, op string, now time.Time, owner domain.Owner, code, usageKey string, subtotal int64) (int64, error) {
	coupon, err := q.GetCouponByCode(ctx, code)
	if isNotFound(err) {
		return 0, domain.CouponInvalid(op, "This coupon code is not valid")
	}
	if err != nil {
		return 0, storeError(err, op, nil)
	}
	usage, err := q.CountCouponUsage(ctx, coupon.ID, usageKey)
	if err != nil {
		return 0, storeError(err, op, nil)
	}
	own, err := ownOpenSlots(ctx, q, op, owner, coupon.ID, usageKey)
	if err != nil {
		return 0, err
	}
	usage.Global -= own.Global
	usage.ForUser -= own.ForUser
	if err := coupon.Check(op, now, owner, usageKey, subtotal, usage); err != nil {
		return 0, err
	}
	return coupon.DiscountFor(subtotal), nil
}

// ownOpenSlots counts the slots of coupon reserved by the owner's open
// checkouts. A new pricing lock supersedes those checkouts and frees them.
func ownOpenSlots(ctx context.Context, q repository.Querier, op string, owner domain.Owner, couponID uuid.UUID, usageKey string) (domain.CouponUsage, error) {
	var own domain.CouponUsage
	open, err := q.ListOpenCheckoutsByOwner(ctx, owner.Key())
	if err != nil {
		return own, storeError(err, op, nil)
	}
	for _, c := range open {
		r, err := q.GetRedemptionByCheckout(ctx, c.ID)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return own, storeError(err, op, nil)
		}
		if r.CouponID != couponID || r.Status != domain.RedemptionReserved {
			continue
		}
		own.Global++
		if usageKey != "" && r.UsageKey == usageKey {
			own.ForUser++
		}
	}
	return own, nil
}

// claimCoupon re-validates under the coupon row lock and takes a slot.
func (s *checkoutService) claimCoupon(ctx context.Context, q repository.Querier, op string, now time.Time, owner domain.Owner, checkoutID uuid.UUID, code, usageKey string, subtotal, quoted int64) error {
	coupon, err := q.LockCouponByCode(ctx, code)
	if isNotFound(err) {
		return domain.CouponInvalid(op, "This coupon code is not valid")
	}
	if err != nil {
		return storeError(err, op, nil)
	}
	usage, err := q.CountCouponUsage(ctx, coupon.ID, usageKey)
	if err != nil {
		return storeError(err, op, nil)
	}
	if err := coupon.Check(op, now, owner, usageKey, subtotal, usage); err != nil {
		return err
	}
	if coupon.DiscountFor(subtotal) != quoted {
		return domain.Conflict(op, "This coupon changed while your order was being priced. Please try again.")
	}

	err = q.InsertRedemption(ctx, &domain.CouponRedemption{
		CouponID:   coupon.ID,
		CouponCode: coupon.Code,
		CheckoutID: checkoutID,
		UsageKey:   usageKey,
		Status:     domain.RedemptionReserved,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return storeError(err, op, nil)
}

// verifyCartHeld checks the cart still matches the priced lines and that every
// line is covered by an unexpired hold.
func (s *checkoutService) verifyCartHeld(ctx context.Context, q repository.Querier, op string, owner domain.Owner, lines []domain.CheckoutLine) error {
	items, err := s.cartItems(ctx, q, op, owner)
	if err != nil {
		return err
	}
	current, _, _ := snapshotLines(items)
	if !sameLines(current, lines) {
		return domain.Conflict(op, "Your cart changed while checking out. Please review it and try again.")
	}

	for _, it := range items {
		held, err := s.holds.heldQuantity(ctx, q, op, owner, it.VariantID, it.OptionsKey)
		if err != nil {
			return err
		}
		if held < it.Quantity {
			s.logger.Info("cart line no longer held",
				"owner", owner.Key(),
				"variant_id", it.VariantID,
				"quantity", it.Quantity,
				"held", held,
			)
			return domain.WithOp(domain.ErrReservationLapsed, op)
		}
	}
	return nil
}

func (s *checkoutService) cartItems(ctx context.Context, q repository.Querier, op string, owner domain.Owner) ([]domain.CartItem, error) {
	cart, err := q.GetCartByOwner(ctx, owner.Key())
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, op, nil)
	}
	items, err := q.ListCartItems(ctx, cart.ID)
	if err != nil {
		return nil, storeError(err, op, nil)
	}
	return items, nil
}

func (s *checkoutService) validateAddress(ctx context.Context, op string, addr address.Address) (address.Address, error) {
	result, err := s.addrValidator.Validate(ctx, addr)
	if err != nil {
		return address.Address{}, domain.Internal(err, op, "address validation failed")
	}
	if !result.IsValid {
		var verr error
		for _, fe := range result.Errors {
			if verr == nil {
				verr = domain.NewValidationError(op, "shipping."+fe.Field, fe.Message)
				continue
			}
			verr = domain.AddFieldError(verr, "shipping."+fe.Field, fe.Message)
		}
		if verr == nil {
			verr = domain.NewValidationError(op, "shipping", "Shipping address is not valid")
		}
		return address.Address{}, verr
	}
	if result.NormalizedAddress != nil {
		return *result.NormalizedAddress, nil
	}
	return addr, nil
}

func (s *checkoutService) paymentError(op string, checkoutID uuid.UUID, err error) error {
	result := "error"
	defer func() {
		if telemetry.Business != nil {
			telemetry.Business.PaymentSessions.WithLabelValues(result).Inc()
		}
	}()

	switch {
	case billing.IsUnavailable(err):
		result = "unavailable"
		s.logger.Warn("payment provider unavailable", "checkout_id", checkoutID, "error", err)
		return domain.WrapError(err, domain.EUNAVAILABLE, op, domain.ErrPaymentUnavailable.Message)
	case errors.Is(err, billing.ErrAmountTooSmall):
		result = "rejected"
		return domain.Invalid(op, "Order total is below the minimum charge amount")
	}
	s.logger.Error("failed to create payment session", "checkout_id", checkoutID, "error", err)
	return domain.Internal(err, op, "failed to create payment session")
}

// expireSession closes a hosted session so it can no longer be paid.
func (s *checkoutService) expireSession(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := s.billingProvider.ExpireCheckoutSession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to expire payment session", "session_id", sessionID, "error", err)
	}
}

func (s *checkoutService) recordTransition(from, to domain.CheckoutState) {
	if telemetry.Business != nil {
		telemetry.Business.CheckoutTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

// snapshotLines prices cart items at their current unit price.
func snapshotLines(items []domain.CartItem) ([]domain.CheckoutLine, int64, int) {
	lines := make([]domain.CheckoutLine, 0, len(items))
	var (
		subtotal int64
		units    int
	)
	for _, it := range items {
		total := it.LineSubtotalCents()
		lines = append(lines, domain.CheckoutLine{
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Name:           it.Name,
			Options:        it.Options,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: total,
		})
		subtotal += total
		units += int(it.Quantity)
	}
	return lines, subtotal, units
}

func sameLines(a, b []domain.CheckoutLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].VariantID != b[i].VariantID ||
			domain.OptionsKey(a[i].Options) != domain.OptionsKey(b[i].Options) ||
			a[i].Quantity != b[i].Quantity ||
			a[i].UnitPriceCents != b[i].UnitPriceCents {
			return false
		}
	}
	return true
}

func taxLineItems(lines []domain.CheckoutLine) []tax.LineItem {
	out := make([]tax.LineItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, tax.LineItem{
			VariantID:   l.VariantID,
			Description: l.Name,
			Quantity:    l.Quantity,
			UnitCents:   l.UnitPriceCents,
			TotalCents:  l.LineTotalCents,
		})
	}
	return out
}

func checkoutDescription(c *domain.Checkout) string {
	if len(c.Lines) == 1 {
		return c.Lines[0].Name
	}
	var units int32
	for _, l := range c.Lines {
		units += l.Quantity
	}
	return "Order of " + strconv.Itoa(int(units)) + " items"
}
