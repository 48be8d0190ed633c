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

const orderColumns = `id, order_number, checkout_id, owner_key, email, shipping, totals, coupon_code,
	status, payment_ref, failure_reason, stock_committed, created_at, updated_at`

// InsertOrder writes the order row and its items in one batch.
func (q *Queries) InsertOrder(ctx context.Context, o *domain.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return fmt.Errorf("failed to encode order shipping: %w", err)
	}
	totals, err := json.Marshal(o.Totals)
	if err != nil {
		return fmt.Errorf("failed to encode order totals: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.Number, o.CheckoutID, o.Owner.Key(), o.Email, shipping, totals, o.CouponCode,
		string(o.Status), o.PaymentRef, o.FailureReason, o.StockCommitted, o.CreatedAt, o.UpdatedAt)

	for i := range o.Items {
		it := &o.Items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.OrderID = o.ID
		opts, err := marshalOptions(it.Options)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO order_items (id, order_id, variant_id, sku, name, options, quantity, unit_price_cents, line_total_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.OrderID, it.VariantID, it.SKU, it.Name, opts, it.Quantity, it.UnitPriceCents, it.LineTotalCents)
	}

	br := q.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert order: %w", mapError(err))
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert order: %w", mapError(err))
	}
	return nil
}

func (q *Queries) getOrder(ctx context.Context, where string, arg any) (*domain.Order, error) {
	var (
		o                domain.Order
		ownerKey, status string
		shipping, totals []byte
	)
	err := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg).
		Scan(&o.ID, &o.Number, &o.CheckoutID, &ownerKey, &o.Email, &shipping, &totals, &o.CouponCode,
			&status, &o.PaymentRef, &o.FailureReason, &o.StockCommitted, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", mapError(err))
	}

	o.Status = domain.OrderStatus(status)
	if o.Owner, err = domain.ParseOwnerKey(ownerKey); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("failed to decode order shipping: %w", err)
	}
	if err := json.Unmarshal(totals, &o.Totals); err != nil {
		return nil, fmt.Errorf("failed to decode order totals: %w", err)
	}

	if o.Items, err = q.listOrderItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (q *Queries) listOrderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, variant_id, sku, name, options, quantity, unit_price_cents, line_total_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY sku, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", mapError(err))
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var (
			it   domain.OrderItem
			opts []byte
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.SKU, &it.Name, &opts,
			&it.Quantity, &it.UnitPriceCents, &it.LineTotalCents); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", mapError(err))
		}
		if it.Options, err = unmarshalOptions(opts); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", mapError(err))
	}
	return items, nil
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return q.getOrder(ctx, `id = $1`, id)
}

func (q *Queries) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*domain.Order, error) {
	return q.getOrder(ctx, `payment_ref = $1`, paymentRef)
}

func (q *Queries) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return q.getOrder(ctx, `order_number = $1`, number)
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, string(from), string(to), now)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", mapError(err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check order: %w", mapError(err))
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (q *Queries) InsertOrderEvent(ctx context.Context, e *domain.OrderEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO order_events (id, order_id, from_status, to_status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.OrderID, string(e.FromStatus), string(e.ToStatus), e.Note, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order event: %w", mapError(err))
	}
	return nil
}

func (q *Queries) ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, note, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order events: %w", mapError(err))
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var (
			e        domain.OrderEvent
			from, to string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &from, &to, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order event: %w", mapError(err))
		}
		e.FromStatus = domain.OrderStatus(from)
		e.ToStatus = domain.OrderStatus(to)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list order events: %w", mapError(err))
	}
	return events, nil
}
