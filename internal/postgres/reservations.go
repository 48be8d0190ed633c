package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reservationColumns = `id, owner_key, variant_id, options, options_key, quantity, created_at, updated_at, expires_at`

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var (
		r        domain.Reservation
		ownerKey string
		opts     []byte
	)
	err := row.Scan(&r.ID, &ownerKey, &r.VariantID, &opts, &r.OptionsKey,
		&r.Quantity, &r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if err != nil {
		return nil, mapError(err)
	}
	if r.Owner, err = domain.ParseOwnerKey(ownerKey); err != nil {
		return nil, err
	}
	if r.Options, err = unmarshalOptions(opts); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	defer rows.Close()
	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (q *Queries) GetReservation(ctx context.Context, ownerKey string, variantID uuid.UUID, optionsKey string) (*domain.Reservation, error) {
	r, err := scanReservation(q.db.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE owner_key = $1 AND variant_id = $2 AND options_key = $3
		FOR UPDATE`, ownerKey, variantID, optionsKey))
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

func (q *Queries) UpsertReservation(ctx context.Context, r *domain.Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	opts, err := marshalOptions(r.Options)
	if err != nil {
		return err
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET owner_key = EXCLUDED.owner_key,
		    quantity = EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at`,
		r.ID, r.Owner.Key(), r.VariantID, opts, r.OptionsKey,
		r.Quantity, r.CreatedAt, r.UpdatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert reservation: %w", mapError(err))
	}
	return nil
}

func (q *Queries) DeleteReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete reservation: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) ListReservationsByOwner(ctx context.Context, ownerKey string) ([]domain.Reservation, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE owner_key = $1
		ORDER BY created_at, id`, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", mapError(err))
	}
	return collectReservations(rows)
}

func (q *Queries) SumActiveReserved(ctx context.Context, variantID uuid.UUID, now time.Time) (int32, error) {
	var sum int32
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::int
		FROM reservations
		WHERE variant_id = $1 AND expires_at > $2`, variantID, now).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reservations: %w", mapError(err))
	}
	return sum, nil
}

func (q *Queries) ExtendReservations(ctx context.Context, ownerKey string, now, expiresAt time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE reservations
		SET expires_at = $3, updated_at = $2
		WHERE owner_key = $1 AND expires_at > $2`, ownerKey, now, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("failed to extend reservations: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredReservations skips rows another sweeper has locked, so
// concurrent sweeps never release the same hold twice.
func (q *Queries) DeleteExpiredReservations(ctx context.Context, now time.Time, variantID *uuid.UUID, limit int) ([]domain.Reservation, error) {
	var lim *int64
	if limit > 0 {
		l := int64(limit)
		lim = &l
	}

	rows, err := q.db.Query(ctx, `
		DELETE FROM reservations
		WHERE id IN (
			SELECT id FROM reservations
			WHERE expires_at <= $1 AND ($2::uuid IS NULL OR variant_id = $2::uuid)
			ORDER BY expires_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reservationColumns, now, variantID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired reservations: %w", mapError(err))
	}
	return collectReservations(rows)
}
