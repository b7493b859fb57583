package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/relaygrid/fleetsched/internal/domain"
)

// StatsRepo implements domain.StatsReader over PostgreSQL, backing the
// control surface's status(group) command (§6).
type StatsRepo struct{ pool PgxPool }

// NewStatsRepo constructs a StatsRepo over pool.
func NewStatsRepo(pool PgxPool) *StatsRepo { return &StatsRepo{pool: pool} }

// Snapshot returns task counts grouped by status and by assigned profile
// for groupID.
func (r *StatsRepo) Snapshot(ctx domain.Context, groupID string) (domain.StatusSnapshot, error) {
	tracer := otel.Tracer("repo.stats")
	ctx, span := tracer.Start(ctx, "stats.Snapshot")
	defer span.End()

	snap := domain.StatusSnapshot{ByStatus: map[domain.TaskStatus]int{}, ByProfile: map[string]int{}}

	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM tasks WHERE group_id = $1 GROUP BY status`, groupID)
	if err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("op=stats.snapshot.by_status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return domain.StatusSnapshot{}, fmt.Errorf("op=stats.snapshot.by_status.scan: %w", err)
		}
		snap.ByStatus[domain.TaskStatus(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("op=stats.snapshot.by_status.rows: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT assigned_profile_id, count(*) FROM tasks
		WHERE group_id = $1 AND assigned_profile_id <> ''
		GROUP BY assigned_profile_id`, groupID)
	if err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("op=stats.snapshot.by_profile: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var profileID string
		var n int
		if err := rows.Scan(&profileID, &n); err != nil {
			return domain.StatusSnapshot{}, fmt.Errorf("op=stats.snapshot.by_profile.scan: %w", err)
		}
		snap.ByProfile[profileID] = n
	}
	if err := rows.Err(); err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("op=stats.snapshot.by_profile.rows: %w", err)
	}

	return snap, nil
}

var _ domain.StatsReader = (*StatsRepo)(nil)
