package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var embeddedSchema string

// Migrate applies the embedded schema. It is idempotent (CREATE TABLE/INDEX
// IF NOT EXISTS) so it is safe to call on every Supervisor startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, embeddedSchema); err != nil {
		return fmt.Errorf("op=postgres.migrate: %w", err)
	}
	return nil
}
