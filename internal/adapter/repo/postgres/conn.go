// Package postgres adapts domain.Store, domain.TaskQueue, domain.ProxyRegistry
// and the rest of the persistence ports onto a single pgx connection pool
// shared by every Worker goroutine a Supervisor spawns.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultMaxConns/defaultMaxConnIdleTime back NewPool when the caller passes
// zero values, so cmd/scheduler's config loading stays the single source of
// truth without every call site needing to know the fallback.
const (
	defaultMaxConns        = int32(10)
	defaultMaxConnIdleTime = 5 * time.Minute
)

// NewPool opens a pgx pool against dsn, sized for one Supervisor process
// driving up to maxConns concurrent Worker transactions. Every connection
// carries OpenTelemetry tracing so a slow claim/record/rotate query is
// attributable to the task/proxy/profile operation that issued it, not just
// "a query ran somewhere."
func NewPool(ctx context.Context, dsn string, maxConns int32, maxConnIdleTime time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if maxConnIdleTime <= 0 {
		maxConnIdleTime = defaultMaxConnIdleTime
	}
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = maxConnIdleTime

	cfg.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}

	return pool, nil
}
