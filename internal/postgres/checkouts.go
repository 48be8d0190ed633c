package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const checkoutColumns = `id, owner_key, state, email, shipping, shipping_rate, lines, totals, coupon_code,
	payment_session_id, payment_url, failure_reason, expires_at, session_expires_at, created_at, updated_at`

func scanCheckout(row rowScanner) (*domain.Checkout, error) {
	var (
		c                       domain.Checkout
		ownerKey, state         string
		shipping, lines, totals []byte
		sessionID               *string
		sessionExpiresAt        *time.Time
	)
	err := row.Scan(&c.ID, &ownerKey, &state, &c.Email, &shipping, &c.ShippingRate, &lines, &totals,
		&c.CouponCode, &sessionID, &c.PaymentURL, &c.FailureReason, &c.ExpiresAt, &sessionExpiresAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	c.State = domain.CheckoutState(state)
	if sessionID != nil {
		c.PaymentSessionID = *sessionID
	}
	if sessionExpiresAt != nil {
		c.SessionExpiresAt = *sessionExpiresAt
	}
	if c.Owner, err = domain.ParseOwnerKey(ownerKey); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shipping, &c.Shipping); err != nil {
		return nil, fmt.Errorf("failed to decode checkout shipping: %w", err)
	}
	if err := json.Unmarshal(lines, &c.Lines); err != nil {
		return nil, fmt.Errorf("failed to decode checkout lines: %w", err)
	}
	if err := json.Unmarshal(totals, &c.Totals); err != nil {
		return nil, fmt.Errorf("failed to decode checkout totals: %w", err)
	}
	return &c, nil
}

func collectCheckouts(rows pgx.Rows) ([]domain.Checkout, error) {
	defer rows.Close()
	var out []domain.Checkout
	for rows.Next() {
		c, err := scanCheckout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// checkoutArgs encodes the JSON columns and the nullable session columns.
func checkoutArgs(c *domain.Checkout) (shipping, lines, totals []byte, sessionID *string, sessionExpiresAt *time.Time, err error) {
	if shipping, err = json.Marshal(c.Shipping); err != nil {
		return
	}
	if c.Lines == nil {
		lines = []byte(`[]`)
	} else if lines, err = json.Marshal(c.Lines); err != nil {
		return
	}
	if totals, err = json.Marshal(c.Totals); err != nil {
		return
	}
	if c.PaymentSessionID != "" {
		s := c.PaymentSessionID
		sessionID = &s
	}
	if !c.SessionExpiresAt.IsZero() {
		t := c.SessionExpiresAt
		sessionExpiresAt = &t
	}
	return
}

func (q *Queries) InsertCheckout(ctx context.Context, c *domain.Checkout) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	shipping, lines, totals, sessionID, sessionExpiresAt, err := checkoutArgs(c)
	if err != nil {
		return fmt.Errorf("failed to encode checkout: %w", err)
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO checkouts (`+checkoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.Owner.Key(), string(c.State), c.Email, shipping, c.ShippingRate, lines, totals,
		c.CouponCode, sessionID, c.PaymentURL, c.FailureReason, c.ExpiresAt, sessionExpiresAt,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert checkout: %w", mapError(err))
	}
	return nil
}

func (q *Queries) GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error) {
	c, err := scanCheckout(q.db.QueryRow(ctx,
		`SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	return c, nil
}

func (q *Queries) GetCheckoutByPaymentSession(ctx context.Context, sessionID string) (*domain.Checkout, error) {
	c, err := scanCheckout(q.db.QueryRow(ctx,
		`SELECT `+checkoutColumns+` FROM checkouts WHERE payment_session_id = $1`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout by session: %w", err)
	}
	return c, nil
}

func (q *Queries) ListOpenCheckoutsByOwner(ctx context.Context, ownerKey string) ([]domain.Checkout, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+checkoutColumns+`
		FROM checkouts
		WHERE owner_key = $1 AND state IN ('pricing_locked', 'payment_pending')
		ORDER BY created_at`, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list open checkouts: %w", mapError(err))
	}
	return collectCheckouts(rows)
}

func (q *Queries) ListExpiredCheckouts(ctx context.Context, now time.Time, limit int) ([]domain.Checkout, error) {
	var lim *int64
	if limit > 0 {
		l := int64(limit)
		lim = &l
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+checkoutColumns+`
		FROM checkouts
		WHERE state IN ('pricing_locked', 'payment_pending') AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired checkouts: %w", mapError(err))
	}
	return collectCheckouts(rows)
}

func (q *Queries) UpdateCheckout(ctx context.Context, c *domain.Checkout, expected domain.CheckoutState) (bool, error) {
	shipping, lines, totals, sessionID, sessionExpiresAt, err := checkoutArgs(c)
	if err != nil {
		return false, fmt.Errorf("failed to encode checkout: %w", err)
	}

	tag, err := q.db.Exec(ctx, `
		UPDATE checkouts
		SET state = $2, email = $3, shipping = $4, shipping_rate = $5, lines = $6, totals = $7,
		    coupon_code = $8, payment_session_id = $9, payment_url = $10, failure_reason = $11,
		    expires_at = $12, session_expires_at = $13, updated_at = $14
		WHERE id = $1 AND state = $15`,
		c.ID, string(c.State), c.Email, shipping, c.ShippingRate, lines, totals,
		c.CouponCode, sessionID, c.PaymentURL, c.FailureReason, c.ExpiresAt, sessionExpiresAt,
		c.UpdatedAt, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to update checkout: %w", mapError(err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM checkouts WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check checkout: %w", mapError(err))
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}
