// Package postgres implements repository.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Queries runs every repository query against a DBTX.
type Queries struct {
	db DBTX
}

// NewQueries wraps a pool or transaction.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

var _ repository.Querier = (*Queries)(nil)

// Store is the pool-backed repository.Store.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New creates a Store on an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: NewQueries(pool),
		pool:    pool,
	}
}

// ExecTx runs fn in a read-committed transaction. Every stock mutation is a
// single guarded UPDATE, so row locks taken by those statements are enough to
// keep counters linearizable per variant.
func (s *Store) ExecTx(ctx context.Context, fn func(q repository.Querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(NewQueries(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// Ping checks the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Postgres error codes the store distinguishes.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mapError translates driver errors into repository sentinels while keeping
// the original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %w", repository.ErrDuplicate, err)
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", repository.ErrTransient, err)
		}
		return err
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	return err
}
