package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const variantColumns = `id, product_id, sku, name, price_cents, stock_units, reserved_units, sold_units, created_at, updated_at`

func scanVariant(row rowScanner) (*domain.Variant, error) {
	var v domain.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.PriceCents,
		&v.StockUnits, &v.ReservedUnits, &v.SoldUnits, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &v, nil
}

func (q *Queries) CreateVariant(ctx context.Context, v *domain.Variant) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = v.CreatedAt

	_, err := q.db.Exec(ctx, `
		INSERT INTO product_variants (`+variantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.ProductID, v.SKU, v.Name, v.PriceCents,
		v.StockUnits, v.ReservedUnits, v.SoldUnits, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create variant: %w", mapError(err))
	}
	return nil
}

func (q *Queries) GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error) {
	v, err := scanVariant(q.db.QueryRow(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

// guardedUpdate runs a conditional counter update. Zero affected rows means
// the guard failed, unless the variant does not exist at all.
func (q *Queries) guardedUpdate(ctx context.Context, op, sql string, id uuid.UUID, qty int32) (bool, error) {
	tag, err := q.db.Exec(ctx, sql, id, qty)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, mapError(err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM product_variants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check variant: %w", mapError(err))
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (q *Queries) ReserveUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.guardedUpdate(ctx, "reserve units", `
		UPDATE product_variants
		SET reserved_units = reserved_units + $2, updated_at = now()
		WHERE id = $1 AND stock_units - reserved_units >= $2`, variantID, qty)
}

func (q *Queries) ReleaseUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.guardedUpdate(ctx, "release units", `
		UPDATE product_variants
		SET reserved_units = reserved_units - $2, updated_at = now()
		WHERE id = $1 AND reserved_units >= $2`, variantID, qty)
}

func (q *Queries) CommitUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.guardedUpdate(ctx, "commit units", `
		UPDATE product_variants
		SET stock_units = stock_units - $2,
		    reserved_units = reserved_units - $2,
		    sold_units = sold_units + $2,
		    updated_at = now()
		WHERE id = $1 AND reserved_units >= $2 AND stock_units >= $2`, variantID, qty)
}

func (q *Queries) RestockUnits(ctx context.Context, variantID uuid.UUID, qty int32) (bool, error) {
	return q.guardedUpdate(ctx, "restock units", `
		UPDATE product_variants
		SET stock_units = stock_units + $2,
		    sold_units = sold_units - $2,
		    updated_at = now()
		WHERE id = $1 AND sold_units >= $2`, variantID, qty)
}

// marshalOptions stores nil options as an empty object.
func marshalOptions(opts domain.Options) ([]byte, error) {
	if opts == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(opts)
}

func unmarshalOptions(raw []byte) (domain.Options, error) {
	var opts domain.Options
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if len(opts) == 0 {
		return nil, nil
	}
	return opts, nil
}
