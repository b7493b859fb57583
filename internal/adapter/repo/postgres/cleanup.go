package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService trims TaskAttempt history past a data-retention window
// (§12's supplemented retention feature). Task rows themselves are never
// deleted, so their counters and block_reason stay intact.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService constructs a CleanupService; retentionDays <= 0 falls
// back to a 90-day default.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData deletes task_attempts older than the retention window.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedAttempts int64
	if err := tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM task_attempts WHERE at < $1 RETURNING 1
		)
		SELECT count(*) FROM deleted`, cutoff).Scan(&deletedAttempts); err != nil {
		return fmt.Errorf("cleanup delete attempts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("retention cleanup completed",
		slog.Int64("deleted_task_attempts", deletedAttempts),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic runs CleanupOldData once immediately and then on each tick of
// interval until ctx is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial retention cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic retention cleanup failed", slog.Any("error", err))
			}
		}
	}
}
