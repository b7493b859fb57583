// Package postgres provides the relational Store and the repository
// implementations over PostgreSQL (§4.1) used by the scheduler core.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaygrid/fleetsched/internal/domain"
)

// Querier is the minimal subset of pgx used by a single query or exec,
// satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgxPool is the minimal subset of pgxpool.Pool the repos depend on, kept
// narrow for easy testing (mirrors the teacher's PgxPool seam).
type PgxPool interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type txCtxKey struct{}

// Store implements domain.Store: WithTx opens one transaction, stashes the
// live pgx.Tx in the context so repo methods called from within fn observe
// it instead of the bare pool, and commits/rolls back around fn's result.
type Store struct{ Pool PgxPool }

// NewStore constructs a Store over the given pool.
func NewStore(p PgxPool) *Store { return &Store{Pool: p} }

// WithTx executes fn inside a single transaction (§4.1). Nested calls are
// flat: a WithTx invoked while already inside another's context reuses the
// outer transaction rather than opening a new one.
func (s *Store) WithTx(ctx domain.Context, mode domain.TxMode, fn func(ctx domain.Context) error) error {
	if _, ok := ctx.Value(txCtxKey{}).(Querier); ok {
		return fn(ctx)
	}

	tracer := otel.Tracer("repo.store")
	ctx, span := tracer.Start(ctx, "store.WithTx")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	if mode == domain.TxReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}

	tx, err := s.Pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("op=store.with_tx.begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				slog.Error("store.with_tx rollback failed", slog.Any("error", rbErr))
			}
		}
	}()

	txCtx := context.WithValue(ctx, txCtxKey{}, Querier(tx))
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=store.with_tx.commit: %w", err)
	}
	committed = true
	return nil
}

// querier returns the in-flight transaction from ctx if WithTx is active,
// otherwise falls back to the bare pool (for single-statement reads that do
// not need transactional isolation).
func querier(ctx context.Context, pool PgxPool) Querier {
	if q, ok := ctx.Value(txCtxKey{}).(Querier); ok {
		return q
	}
	return pool
}
