package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
)

func (q *Queries) GetCartByOwner(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	var (
		c   domain.Cart
		key string
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, owner_key, created_at, updated_at
		FROM carts
		WHERE owner_key = $1`, ownerKey).Scan(&c.ID, &key, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", mapError(err))
	}
	if c.Owner, err = domain.ParseOwnerKey(key); err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *Queries) CreateCart(ctx context.Context, c *domain.Cart) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO carts (id, owner_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`, c.ID, c.Owner.Key(), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cart: %w", mapError(err))
	}
	return nil
}

func (q *Queries) DeleteCart(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM carts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete cart: %w", mapError(err))
	}
	return nil
}

const cartItemSelect = `
	SELECT ci.id, ci.cart_id, ci.variant_id, v.sku, v.name, ci.options, ci.options_key,
	       ci.quantity, v.price_cents, ci.created_at, ci.updated_at
	FROM cart_items ci
	JOIN product_variants v ON v.id = ci.variant_id`

func scanCartItem(row rowScanner) (*domain.CartItem, error) {
	var (
		it   domain.CartItem
		opts []byte
	)
	err := row.Scan(&it.ID, &it.CartID, &it.VariantID, &it.SKU, &it.Name, &opts, &it.OptionsKey,
		&it.Quantity, &it.UnitPriceCents, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if it.Options, err = unmarshalOptions(opts); err != nil {
		return nil, err
	}
	return &it, nil
}

func (q *Queries) ListCartItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	rows, err := q.db.Query(ctx, cartItemSelect+`
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id`, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", mapError(err))
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", mapError(err))
	}
	return items, nil
}

func (q *Queries) GetCartItem(ctx context.Context, id uuid.UUID) (*domain.CartItem, error) {
	it, err := scanCartItem(q.db.QueryRow(ctx, cartItemSelect+` WHERE ci.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	return it, nil
}

func (q *Queries) GetCartItemByKey(ctx context.Context, cartID, variantID uuid.UUID, optionsKey string) (*domain.CartItem, error) {
	it, err := scanCartItem(q.db.QueryRow(ctx, cartItemSelect+`
		WHERE ci.cart_id = $1 AND ci.variant_id = $2 AND ci.options_key = $3`,
		cartID, variantID, optionsKey))
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	return it, nil
}

func (q *Queries) InsertCartItem(ctx context.Context, item *domain.CartItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	opts, err := marshalOptions(item.Options)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, variant_id, options, options_key, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.CartID, item.VariantID, opts, item.OptionsKey, item.Quantity, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cart item: %w", mapError(err))
	}
	return nil
}

func (q *Queries) UpdateCartItemQuantity(ctx context.Context, id uuid.UUID, qty int32, now time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE cart_items SET quantity = $2, updated_at = $3 WHERE id = $1`, id, qty, now)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update cart item: %w", repository.ErrNotFound)
	}
	return nil
}

func (q *Queries) DeleteCartItem(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete cart item: %w", mapError(err))
	}
	return nil
}

func (q *Queries) ClearCartItems(ctx context.Context, cartID uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", mapError(err))
	}
	return nil
}
