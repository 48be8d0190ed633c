package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
)

const couponColumns = `id, code, discount_type, discount_value, min_order_cents, max_uses_global,
	max_uses_per_user, valid_from, valid_until, assigned_user_id, active, created_at`

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var (
		c          domain.Coupon
		dtype      string
		validFrom  *time.Time
		validUntil *time.Time
		assigned   uuid.NullUUID
	)
	err := row.Scan(&c.ID, &c.Code, &dtype, &c.DiscountValue, &c.MinOrderCents, &c.MaxUsesGlobal,
		&c.MaxUsesPerUser, &validFrom, &validUntil, &assigned, &c.Active, &c.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	c.DiscountType = domain.DiscountType(dtype)
	if validFrom != nil {
		c.ValidFrom = *validFrom
	}
	if validUntil != nil {
		c.ValidUntil = *validUntil
	}
	if assigned.Valid {
		c.AssignedUserID = assigned.UUID
	}
	return &c, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func (q *Queries) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Code = domain.NormalizeCouponCode(c.Code)

	_, err := q.db.Exec(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Code, string(c.DiscountType), c.DiscountValue, c.MinOrderCents, c.MaxUsesGlobal,
		c.MaxUsesPerUser, nullableTime(c.ValidFrom), nullableTime(c.ValidUntil),
		nullableUUID(c.AssignedUserID), c.Active, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", mapError(err))
	}
	return nil
}

func (q *Queries) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := scanCoupon(q.db.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE lower(code) = lower($1)`, code))
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return c, nil
}

// LockCouponByCode takes a row lock so slot counting and claiming are
// serialized per coupon for the rest of the transaction.
func (q *Queries) LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := scanCoupon(q.db.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE lower(code) = lower($1) FOR UPDATE`, code))
	if err != nil {
		return nil, fmt.Errorf("failed to lock coupon: %w", err)
	}
	return c, nil
}

func (q *Queries) CountCouponUsage(ctx context.Context, couponID uuid.UUID, usageKey string) (domain.CouponUsage, error) {
	var usage domain.CouponUsage
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*)::int,
		       (COUNT(*) FILTER (WHERE $2::text <> '' AND usage_key = $2::text))::int
		FROM coupon_redemptions
		WHERE coupon_id = $1 AND status <> 'released'`, couponID, usageKey).Scan(&usage.Global, &usage.ForUser)
	if err != nil {
		return usage, fmt.Errorf("failed to count coupon usage: %w", mapError(err))
	}
	return usage, nil
}

func (q *Queries) GetRedemptionByCheckout(ctx context.Context, checkoutID uuid.UUID) (*domain.CouponRedemption, error) {
	var (
		r      domain.CouponRedemption
		status string
	)
	err := q.db.QueryRow(ctx, `
		SELECT r.id, r.coupon_id, c.code, r.checkout_id, r.usage_key, r.status, r.created_at, r.updated_at
		FROM coupon_redemptions r
		JOIN coupons c ON c.id = r.coupon_id
		WHERE r.checkout_id = $1`, checkoutID).
		Scan(&r.ID, &r.CouponID, &r.CouponCode, &r.CheckoutID, &r.UsageKey, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get redemption: %w", mapError(err))
	}
	r.Status = domain.RedemptionStatus(status)
	return &r, nil
}

func (q *Queries) InsertRedemption(ctx context.Context, r *domain.CouponRedemption) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO coupon_redemptions (id, coupon_id, checkout_id, usage_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.CouponID, r.CheckoutID, r.UsageKey, string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert redemption: %w", mapError(err))
	}
	return nil
}

func (q *Queries) UpdateRedemptionStatus(ctx context.Context, checkoutID uuid.UUID, status domain.RedemptionStatus, now time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE coupon_redemptions SET status = $2, updated_at = $3 WHERE checkout_id = $1`,
		checkoutID, string(status), now)
	if err != nil {
		return fmt.Errorf("failed to update redemption: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update redemption: %w", repository.ErrNotFound)
	}
	return nil
}
