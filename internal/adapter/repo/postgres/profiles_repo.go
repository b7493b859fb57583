package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaygrid/fleetsched/internal/domain"
)

// ProfileRepo implements domain.ProfileRepository over PostgreSQL (§3).
type ProfileRepo struct {
	store *Store
	pool  PgxPool
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(store *Store, pool PgxPool) *ProfileRepo {
	return &ProfileRepo{store: store, pool: pool}
}

// Get loads a Profile by id.
func (r *ProfileRepo) Get(ctx domain.Context, profileID string) (domain.Profile, error) {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "profiles"))

	q := querier(ctx, r.pool)
	row := q.QueryRow(ctx, `
		SELECT profile_id, name, is_active, is_blocked, is_logged_out,
		       messages_sent_current_hour, hour_window_start, last_message_at
		FROM profiles WHERE profile_id = $1`, profileID)

	var p domain.Profile
	if err := row.Scan(&p.ProfileID, &p.Name, &p.IsActive, &p.IsBlocked, &p.IsLoggedOut,
		&p.MessagesSentCurrentHour, &p.HourWindowStart, &p.LastMessageAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Profile{}, fmt.Errorf("op=profile.get: %w", domain.ErrNotFound)
		}
		return domain.Profile{}, fmt.Errorf("op=profile.get: %w", err)
	}
	return p, nil
}

// ListProfiles returns every Profile bound to groupID via group_profiles,
// satisfying domain.ProfileSource for the Supervisor's worker-spawn pass
// (§4.6). Membership is populated once at seed time (cmd/seed); the core
// only ever reads it here.
func (r *ProfileRepo) ListProfiles(ctx domain.Context, groupID string) ([]domain.Profile, error) {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.ListProfiles")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID))

	q := querier(ctx, r.pool)
	rows, err := q.Query(ctx, `
		SELECT p.profile_id, p.name, p.is_active, p.is_blocked, p.is_logged_out,
		       p.messages_sent_current_hour, p.hour_window_start, p.last_message_at
		FROM profiles p
		JOIN group_profiles gp ON gp.profile_id = p.profile_id
		WHERE gp.group_id = $1
		ORDER BY p.profile_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("op=profile.list: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ProfileID, &p.Name, &p.IsActive, &p.IsBlocked, &p.IsLoggedOut,
			&p.MessagesSentCurrentHour, &p.HourWindowStart, &p.LastMessageAt); err != nil {
			return nil, fmt.Errorf("op=profile.list.scan: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=profile.list.rows: %w", err)
	}
	return profiles, nil
}

// Block sets is_blocked and is_active=false on a Profile (§4.4's
// account_frozen row: "is_blocked = true, is_active = false").
func (r *ProfileRepo) Block(ctx domain.Context, profileID string) error {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Block")
	defer span.End()

	q := querier(ctx, r.pool)
	if _, err := q.Exec(ctx, `UPDATE profiles SET is_blocked = true, is_active = false WHERE profile_id = $1`, profileID); err != nil {
		return fmt.Errorf("op=profile.block: %w", err)
	}
	return nil
}

// RefreshHourWindow resets the sliding hourly window when it has expired and
// returns the resulting Profile (§4.2). This mirrors the refresh done inline
// by TaskRepo.ClaimNext; it is exposed separately for callers (e.g. the
// control surface) that need the post-refresh state without performing a
// claim.
func (r *ProfileRepo) RefreshHourWindow(ctx domain.Context, profileID string, now time.Time, windowLen time.Duration) (domain.Profile, error) {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.RefreshHourWindow")
	defer span.End()

	q := querier(ctx, r.pool)
	row := q.QueryRow(ctx, `
		UPDATE profiles SET
			messages_sent_current_hour = CASE WHEN $2 - hour_window_start >= make_interval(secs => $3) THEN 0 ELSE messages_sent_current_hour END,
			hour_window_start = CASE WHEN $2 - hour_window_start >= make_interval(secs => $3) THEN $2 ELSE hour_window_start END
		WHERE profile_id = $1
		RETURNING profile_id, name, is_active, is_blocked, is_logged_out,
		          messages_sent_current_hour, hour_window_start, last_message_at`,
		profileID, now, windowLen.Seconds())

	var p domain.Profile
	if err := row.Scan(&p.ProfileID, &p.Name, &p.IsActive, &p.IsBlocked, &p.IsLoggedOut,
		&p.MessagesSentCurrentHour, &p.HourWindowStart, &p.LastMessageAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Profile{}, fmt.Errorf("op=profile.refresh_window: %w", domain.ErrNotFound)
		}
		return domain.Profile{}, fmt.Errorf("op=profile.refresh_window: %w", err)
	}
	return p, nil
}

var (
	_ domain.ProfileRepository = (*ProfileRepo)(nil)
	_ domain.ProfileSource     = (*ProfileRepo)(nil)
)
