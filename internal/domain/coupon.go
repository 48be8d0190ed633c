package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType selects how DiscountValue is interpreted.
type DiscountType string

const (
	// DiscountFixed takes DiscountValue cents off the subtotal.
	DiscountFixed DiscountType = "fixed"

	// DiscountPercentage takes DiscountValue basis points (1/100 of a percent)
	// off the subtotal.
	DiscountPercentage DiscountType = "percentage"
)

// RedemptionStatus tracks a coupon usage slot through checkout.
type RedemptionStatus string

const (
	RedemptionReserved RedemptionStatus = "reserved"
	RedemptionConsumed RedemptionStatus = "consumed"
	RedemptionReleased RedemptionStatus = "released"
)

// Coupon is a discount code with usage caps.
// Zero MaxUsesGlobal or MaxUsesPerUser means unlimited. Zero ValidFrom or
// ValidUntil leaves that side of the window open.
type Coupon struct {
	ID             uuid.UUID
	Code           string
	DiscountType   DiscountType
	DiscountValue  int64
	MinOrderCents  int64
	MaxUsesGlobal  int32
	MaxUsesPerUser int32
	ValidFrom      time.Time
	ValidUntil     time.Time
	AssignedUserID uuid.UUID
	Active         bool
	CreatedAt      time.Time
}

// CouponUsage counts slots held in the reserved or consumed state.
type CouponUsage struct {
	Global  int32
	ForUser int32
}

// CouponRedemption is one usage slot, tied to the checkout that claimed it.
type CouponRedemption struct {
	ID         uuid.UUID
	CouponID   uuid.UUID
	CouponCode string
	CheckoutID uuid.UUID
	UsageKey   string
	Status     RedemptionStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CouponQuote is the result of validating a coupon against a subtotal.
type CouponQuote struct {
	Code          string
	DiscountType  DiscountType
	DiscountCents int64
	SubtotalCents int64
}

// NormalizeCouponCode trims and upper-cases a code for case-insensitive lookup.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CouponUsageKey identifies a shopper for per-user caps: the user id, or the
// lower-cased email for guests. Returns "" for a guest without an email.
func CouponUsageKey(owner Owner, email string) string {
	if owner.IsUser() {
		return owner.UserID.String()
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	return "email:" + email
}

// Check validates the coupon for this shopper and subtotal.
// Failures are CouponInvalid errors with a reason fit for the shopper.
func (c *Coupon) Check(op string, now time.Time, owner Owner, usageKey string, subtotalCents int64, usage CouponUsage) error {
	if !c.Active {
		return CouponInvalid(op, "This coupon is no longer active")
	}
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return CouponInvalid(op, "This coupon is not valid yet")
	}
	if !c.ValidUntil.IsZero() && !now.Before(c.ValidUntil) {
		return CouponInvalid(op, "This coupon has expired")
	}
	if c.AssignedUserID != uuid.Nil && owner.UserID != c.AssignedUserID {
		return CouponInvalid(op, "This coupon is not available for your account")
	}
	if subtotalCents < c.MinOrderCents {
		return CouponInvalid(op, "Your order does not meet the minimum for this coupon")
	}
	if c.MaxUsesGlobal > 0 && usage.Global >= c.MaxUsesGlobal {
		return CouponInvalid(op, "This coupon has reached its usage limit")
	}
	if c.MaxUsesPerUser > 0 {
		if usageKey == "" {
			return CouponInvalid(op, "An email address is required to use this coupon")
		}
		if usage.ForUser >= c.MaxUsesPerUser {
			return CouponInvalid(op, "You have already used this coupon")
		}
	}
	return nil
}

// DiscountFor computes the discount on subtotalCents. The discount never
// exceeds the subtotal. Percentages round half away from zero to the cent.
func (c *Coupon) DiscountFor(subtotalCents int64) int64 {
	if subtotalCents <= 0 {
		return 0
	}

	var discount int64
	switch c.DiscountType {
	case DiscountFixed:
		discount = c.DiscountValue
	case DiscountPercentage:
		discount = decimal.NewFromInt(subtotalCents).
			Mul(decimal.NewFromInt(c.DiscountValue)).
			Div(decimal.NewFromInt(10000)).
			Round(0).
			IntPart()
	}

	if discount < 0 {
		return 0
	}
	if discount > subtotalCents {
		return subtotalCents
	}
	return discount
}
