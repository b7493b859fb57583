package postgres

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaygrid/fleetsched/internal/domain"
)

// TaskRepo implements domain.TaskQueue over PostgreSQL, using
// SELECT ... FOR UPDATE SKIP LOCKED for race-free, wait-free claiming (§4.2,
// §5). All per-call state (pacing config) is fixed at construction; it does
// not change within a process lifetime.
type TaskRepo struct {
	store *Store
	pool  PgxPool

	maxMessagesPerHour    int
	delayRandomness       float64
	cycleDelay            time.Duration
	maxAttemptsBeforeBlock int
}

// NewTaskRepo constructs a TaskRepo over store/pool with the given pacing
// configuration (§3's Task/Profile field set, §4.2's rate-limit arithmetic).
func NewTaskRepo(store *Store, pool PgxPool, maxMessagesPerHour int, delayRandomness float64, cycleDelay time.Duration, maxAttemptsBeforeBlock int) *TaskRepo {
	return &TaskRepo{
		store:                  store,
		pool:                   pool,
		maxMessagesPerHour:     maxMessagesPerHour,
		delayRandomness:        delayRandomness,
		cycleDelay:             cycleDelay,
		maxAttemptsBeforeBlock: maxAttemptsBeforeBlock,
	}
}

// ClaimNext executes the claim transaction of §4.2: refresh the profile's
// hourly window, enforce the hourly cap, then pick the single best candidate
// task under FOR UPDATE SKIP LOCKED and mark it in_progress.
func (r *TaskRepo) ClaimNext(ctx domain.Context, groupID, profileID, runID string) (domain.Task, bool, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ClaimNext")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "tasks"))

	var task domain.Task
	var ok bool

	err := r.store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		q := querier(ctx, r.pool)

		var messagesSent int
		err := q.QueryRow(ctx, `
			UPDATE profiles SET
				messages_sent_current_hour = CASE WHEN now() - hour_window_start >= interval '1 hour' THEN 0 ELSE messages_sent_current_hour END,
				hour_window_start = CASE WHEN now() - hour_window_start >= interval '1 hour' THEN now() ELSE hour_window_start END
			WHERE profile_id = $1
			RETURNING messages_sent_current_hour`, profileID).Scan(&messagesSent)
		if err != nil {
			return fmt.Errorf("op=tasks.claim_next.refresh_window: %w", err)
		}
		if messagesSent >= r.maxMessagesPerHour {
			return nil // hourly cap reached; ok stays false
		}

		row := q.QueryRow(ctx, `
			SELECT id, group_id, chat_ref, status, COALESCE(assigned_profile_id, ''), total_cycles,
			       completed_cycles, success_count, failed_count, is_blocked, COALESCE(block_reason, ''),
			       last_attempt_at, next_available_at
			FROM tasks t
			WHERE t.group_id = $1
			  AND t.is_blocked = false
			  AND t.completed_cycles < t.total_cycles
			  AND (t.next_available_at IS NULL OR t.next_available_at <= now())
			  AND (t.status = 'pending' OR (t.status = 'in_progress' AND t.assigned_profile_id = $2))
			  AND (SELECT COUNT(*) FROM task_attempts a WHERE a.task_id = t.id AND a.run_id = $3) < t.total_cycles
			ORDER BY t.completed_cycles ASC, t.last_attempt_at ASC NULLS FIRST, t.id ASC
			LIMIT 1
			FOR UPDATE OF t SKIP LOCKED`, groupID, profileID, runID)

		if err := scanTask(row, &task); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil // no eligible task; ok stays false
			}
			return fmt.Errorf("op=tasks.claim_next.select: %w", err)
		}

		if _, err := q.Exec(ctx, `UPDATE tasks SET status = 'in_progress', assigned_profile_id = $2 WHERE id = $1`, task.ID, profileID); err != nil {
			return fmt.Errorf("op=tasks.claim_next.assign: %w", err)
		}
		task.Status = domain.TaskInProgress
		task.AssignedProfileID = profileID
		ok = true
		return nil
	})
	if err != nil {
		return domain.Task{}, false, err
	}
	return task, ok, nil
}

func scanTask(row pgx.Row, t *domain.Task) error {
	return row.Scan(&t.ID, &t.GroupID, &t.ChatRef, &t.Status, &t.AssignedProfileID, &t.TotalCycles,
		&t.CompletedCycles, &t.SuccessCount, &t.FailedCount, &t.IsBlocked, &t.BlockReason,
		&t.LastAttemptAt, &t.NextAvailableAt)
}

// RecordSuccess appends a successful TaskAttempt and advances the task's
// cycle/pacing state, plus the profile's pacing counters (§4.2).
func (r *TaskRepo) RecordSuccess(ctx domain.Context, task domain.Task, profileID, runID string, cycleNumber int, messageText string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.RecordSuccess")
	defer span.End()

	return r.store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		q := querier(ctx, r.pool)

		attemptID := ulid.Make().String()
		if _, err := q.Exec(ctx, `
			INSERT INTO task_attempts (id, task_id, profile_id, run_id, cycle_number, status, message_text, at)
			VALUES ($1,$2,$3,$4,$5,'success',$6, now())`,
			attemptID, task.ID, profileID, runID, cycleNumber, messageText); err != nil {
			return fmt.Errorf("op=tasks.record_success.insert_attempt: %w", err)
		}

		paceSeconds := r.paceDelaySeconds()
		if _, err := q.Exec(ctx, `
			UPDATE tasks SET
				completed_cycles = completed_cycles + 1,
				success_count = success_count + 1,
				last_attempt_at = now(),
				next_available_at = now() + GREATEST(make_interval(secs => $2), make_interval(secs => $3)),
				status = CASE WHEN completed_cycles + 1 >= total_cycles THEN 'completed' ELSE 'pending' END,
				assigned_profile_id = NULL
			WHERE id = $1`, task.ID, r.cycleDelay.Seconds(), paceSeconds); err != nil {
			return fmt.Errorf("op=tasks.record_success.update_task: %w", err)
		}

		if _, err := q.Exec(ctx, `
			UPDATE profiles SET messages_sent_current_hour = messages_sent_current_hour + 1, last_message_at = now()
			WHERE profile_id = $1`, profileID); err != nil {
			return fmt.Errorf("op=tasks.record_success.update_profile: %w", err)
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO profile_daily_stats (profile_id, date, messages_sent, successful_sends, failed_sends)
			VALUES ($1, current_date, 1, 1, 0)
			ON CONFLICT (profile_id, date) DO UPDATE SET
				messages_sent = profile_daily_stats.messages_sent + 1,
				successful_sends = profile_daily_stats.successful_sends + 1`, profileID); err != nil {
			return fmt.Errorf("op=tasks.record_success.daily_stats: %w", err)
		}
		return nil
	})
}

// RecordFailure appends a failed TaskAttempt and applies decision's
// task-level action, escalating a transport-fault reschedule to a
// too-many-failures block once the task's consecutive-failure streak since
// its last success reaches maxAttemptsBeforeBlock (§4.4 last row).
func (r *TaskRepo) RecordFailure(ctx domain.Context, task domain.Task, profileID, runID string, cycleNumber int, kind domain.OutcomeKind, waitSeconds int, decision domain.Decision) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.RecordFailure")
	defer span.End()

	return r.store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		q := querier(ctx, r.pool)

		attemptID := ulid.Make().String()
		if _, err := q.Exec(ctx, `
			INSERT INTO task_attempts (id, task_id, profile_id, run_id, cycle_number, status, error_kind, at)
			VALUES ($1,$2,$3,$4,$5,'failed',$6, now())`,
			attemptID, task.ID, profileID, runID, cycleNumber, string(kind)); err != nil {
			return fmt.Errorf("op=tasks.record_failure.insert_attempt: %w", err)
		}

		taskAction := decision.Task
		if taskAction == domain.TaskActionRescheduleOnly && domain.IsTransportFault(kind.Normalize()) {
			var streak int
			if err := q.QueryRow(ctx, `
				SELECT COUNT(*) FROM task_attempts
				WHERE task_id = $1 AND status = 'failed'
				  AND at > COALESCE((SELECT MAX(at) FROM task_attempts WHERE task_id = $1 AND status = 'success'), '-infinity'::timestamptz)`,
				task.ID).Scan(&streak); err != nil {
				return fmt.Errorf("op=tasks.record_failure.streak: %w", err)
			}
			if streak >= r.maxAttemptsBeforeBlock {
				taskAction = domain.TaskActionBlockTooManyFailures
			}
		}

		switch taskAction {
		case domain.TaskActionBlockChatGone:
			_, err := q.Exec(ctx, `
				UPDATE tasks SET is_blocked = true, block_reason = 'chat_not_found', status = 'blocked',
					failed_count = failed_count + 1, last_attempt_at = now(), assigned_profile_id = NULL
				WHERE id = $1`, task.ID)
			if err != nil {
				return fmt.Errorf("op=tasks.record_failure.block_chat_gone: %w", err)
			}

		case domain.TaskActionBlockTooManyFailures:
			_, err := q.Exec(ctx, `
				UPDATE tasks SET is_blocked = true, block_reason = 'too_many_failures', status = 'blocked',
					failed_count = failed_count + 1, last_attempt_at = now(), assigned_profile_id = NULL
				WHERE id = $1`, task.ID)
			if err != nil {
				return fmt.Errorf("op=tasks.record_failure.block_too_many: %w", err)
			}

		case domain.TaskActionReleaseNoBlock:
			_, err := q.Exec(ctx, `
				UPDATE tasks SET failed_count = failed_count + 1, last_attempt_at = now(),
					status = 'pending', assigned_profile_id = NULL
				WHERE id = $1`, task.ID)
			if err != nil {
				return fmt.Errorf("op=tasks.record_failure.release_no_block: %w", err)
			}

		case domain.TaskActionSlowModeDelay:
			jittered := jitterSeconds(waitSeconds, r.delayRandomness)
			_, err := q.Exec(ctx, `
				UPDATE tasks SET failed_count = failed_count + 1, last_attempt_at = now(),
					status = 'pending', assigned_profile_id = NULL,
					next_available_at = now() + make_interval(secs => $2)
				WHERE id = $1`, task.ID, jittered)
			if err != nil {
				return fmt.Errorf("op=tasks.record_failure.slow_mode: %w", err)
			}

		default: // TaskActionRescheduleOnly
			_, err := q.Exec(ctx, `
				UPDATE tasks SET failed_count = failed_count + 1, last_attempt_at = now(),
					status = 'pending', assigned_profile_id = NULL,
					next_available_at = now() + make_interval(secs => $2)
				WHERE id = $1`, task.ID, r.cycleDelay.Seconds())
			if err != nil {
				return fmt.Errorf("op=tasks.record_failure.reschedule_only: %w", err)
			}
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO profile_daily_stats (profile_id, date, messages_sent, successful_sends, failed_sends)
			VALUES ($1, current_date, 0, 0, 1)
			ON CONFLICT (profile_id, date) DO UPDATE SET
				failed_sends = profile_daily_stats.failed_sends + 1`, profileID); err != nil {
			return fmt.Errorf("op=tasks.record_failure.daily_stats: %w", err)
		}
		return nil
	})
}

// ResetStale returns in_progress tasks whose last_attempt_at predates maxAge,
// or is NULL, back to pending, without touching their statistics (§4.2's stale reaper).
func (r *TaskRepo) ResetStale(ctx domain.Context, maxAge time.Duration) (int, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ResetStale")
	defer span.End()

	var reclaimed int
	err := r.store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		q := querier(ctx, r.pool)
		tag, err := q.Exec(ctx, `
			UPDATE tasks SET status = 'pending', assigned_profile_id = NULL
			WHERE status = 'in_progress'
			  AND (last_attempt_at IS NULL OR last_attempt_at < now() - make_interval(secs => $1))`,
			maxAge.Seconds())
		if err != nil {
			return fmt.Errorf("op=tasks.reset_stale: %w", err)
		}
		reclaimed = int(tag.RowsAffected())
		return nil
	})
	return reclaimed, err
}

// HasPendingWork reports whether groupID has any unblocked task that has not
// exhausted its cycle budget, regardless of pacing window or hourly cap.
func (r *TaskRepo) HasPendingWork(ctx domain.Context, groupID string) (bool, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.HasPendingWork")
	defer span.End()

	q := querier(ctx, r.pool)
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tasks
			WHERE group_id = $1 AND is_blocked = false AND completed_cycles < total_cycles
		)`, groupID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("op=tasks.has_pending_work: %w", err)
	}
	return exists, nil
}

// paceDelaySeconds returns the per-profile inter-send pacing delay in
// seconds, jittered uniformly within [1-randomness, 1+randomness] (§4.2).
func (r *TaskRepo) paceDelaySeconds() float64 {
	if r.maxMessagesPerHour <= 0 {
		return 0
	}
	base := 3600.0 / float64(r.maxMessagesPerHour)
	return base * jitterFactor(r.delayRandomness)
}

func jitterFactor(randomness float64) float64 {
	if randomness < 0 {
		randomness = 0
	}
	if randomness > 1 {
		randomness = 1
	}
	return 1 - randomness + rand.Float64()*2*randomness
}

// jitterSeconds returns base plus a non-negative jitter of up to
// base*randomness seconds, so a slow_mode wait is never shortened.
func jitterSeconds(base int, randomness float64) float64 {
	if randomness < 0 {
		randomness = 0
	}
	if randomness > 1 {
		randomness = 1
	}
	return float64(base) * (1 + rand.Float64()*randomness)
}
