package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaygrid/fleetsched/internal/adapter/observability"
	"github.com/relaygrid/fleetsched/internal/domain"
)

// ProxyRepo implements domain.ProxyRegistry over PostgreSQL (§4.3). Proxy
// claiming uses the same FOR UPDATE SKIP LOCKED mechanism as task claiming
// (§5: "the proxy pool is protected by ProxyAssignment.profile_id IS NULL
// being the claim condition of Assign"). A CircuitBreakerManager layers a
// fast, in-process trip on top of the ratio-based rotation computed from
// ProxyStats, so a proxy that starts failing immediately after assignment
// does not have to wait for enough samples to accumulate in the database.
// The breaker only ever sees chat_not_found outcomes (the one kind §4.3
// treats as proxy-indicative); every other OutcomeKind is profile- or
// chat-local and must never rotate a healthy proxy.
type ProxyRepo struct {
	store *Store
	pool  PgxPool

	chatNotFoundThresholdPct float64
	chatNotFoundMinSample    int64

	breakers         *observability.CircuitBreakerManager
	breakerMaxFailures int
	breakerTimeout     time.Duration
}

// NewProxyRepo constructs a ProxyRepo with the rotation threshold (§4.3,
// default 40%) and minimum sample size from configuration.
func NewProxyRepo(store *Store, pool PgxPool, chatNotFoundThresholdPct float64, chatNotFoundMinSample int64) *ProxyRepo {
	return &ProxyRepo{
		store:                    store,
		pool:                     pool,
		chatNotFoundThresholdPct: chatNotFoundThresholdPct,
		chatNotFoundMinSample:    chatNotFoundMinSample,
		breakers:                 observability.NewCircuitBreakerManager(),
		breakerMaxFailures:       5,
		breakerTimeout:           2 * time.Minute,
	}
}

// Resolve returns the profile's current healthy assignment, rotating if the
// assigned proxy has been marked unhealthy.
func (r *ProxyRepo) Resolve(ctx domain.Context, profileID string) (string, bool, error) {
	tracer := otel.Tracer("repo.proxy")
	ctx, span := tracer.Start(ctx, "proxy.Resolve")
	defer span.End()

	q := querier(ctx, r.pool)
	var proxyURL string
	var healthy bool
	err := q.QueryRow(ctx, `SELECT proxy_url, is_healthy FROM proxy_assignments WHERE profile_id = $1`, profileID).Scan(&proxyURL, &healthy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.Assign(ctx, profileID)
		}
		return "", false, fmt.Errorf("op=proxy.resolve: %w", err)
	}
	if !healthy {
		return r.Rotate(ctx, profileID)
	}
	return proxyURL, true, nil
}

// Assign atomically claims an unassigned, healthy proxy for profileID (§4.3,
// §5).
func (r *ProxyRepo) Assign(ctx domain.Context, profileID string) (string, bool, error) {
	return r.assign(ctx, profileID, "")
}

// assign is Assign with one proxy_url excluded from the candidates.
func (r *ProxyRepo) assign(ctx domain.Context, profileID, exclude string) (string, bool, error) {
	tracer := otel.Tracer("repo.proxy")
	ctx, span := tracer.Start(ctx, "proxy.Assign")
	defer span.End()

	var proxyURL string
	var ok bool
	err := r.store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		q := querier(ctx, r.pool)
		err := q.QueryRow(ctx, `
			SELECT proxy_url FROM proxy_assignments
			WHERE profile_id IS NULL AND is_healthy = true AND proxy_url <> $1
			ORDER BY proxy_url
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, exclude).Scan(&proxyURL)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil // no proxy available; ok stays false
			}
			return fmt.Errorf("op=proxy.assign.select: %w", err)
		}
		if _, err := q.Exec(ctx, `UPDATE proxy_assignments SET profile_id = $2, assigned_at = now() WHERE proxy_url = $1`, proxyURL, profileID); err != nil {
			return fmt.Errorf("op=proxy.assign.update: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return proxyURL, ok, nil
}

// Rotate releases the profile's current proxy back to the pool and assigns
// a fresh one other than the proxy just released (§4.3).
func (r *ProxyRepo) Rotate(ctx domain.Context, profileID string) (string, bool, error) {
	tracer := otel.Tracer("repo.proxy")
	ctx, span := tracer.Start(ctx, "proxy.Rotate")
	defer span.End()

	var released string
	err := r.store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		q := querier(ctx, r.pool)
		err := q.QueryRow(ctx, `
			UPDATE proxy_assignments SET profile_id = NULL, last_rotation_at = now()
			WHERE profile_id = $1
			RETURNING proxy_url`, profileID).Scan(&released)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=proxy.rotate.release: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	observability.RecordProxyRotation("chat_not_found_ratio")
	return r.assign(ctx, profileID, released)
}

// ListProxies returns every proxy credential currently registered, healthy
// or not, satisfying domain.ProxySource for callers that need the full pool
// rather than a single claim (e.g. the control surface's status endpoint).
func (r *ProxyRepo) ListProxies(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.proxy")
	ctx, span := tracer.Start(ctx, "proxy.ListProxies")
	defer span.End()

	q := querier(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT proxy_url FROM proxy_assignments ORDER BY proxy_url`)
	if err != nil {
		return nil, fmt.Errorf("op=proxy.list: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("op=proxy.list.scan: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=proxy.list.rows: %w", err)
	}
	return urls, nil
}

// MarkUnhealthy flags a proxy unhealthy and releases its current assignment
// (§4.3).
func (r *ProxyRepo) MarkUnhealthy(ctx domain.Context, proxyURL, reason string) error {
	tracer := otel.Tracer("repo.proxy")
	ctx, span := tracer.Start(ctx, "proxy.MarkUnhealthy")
	defer span.End()
	span.SetAttributes(attribute.String("proxy.unhealthy_reason", reason))

	q := querier(ctx, r.pool)
	if _, err := q.Exec(ctx, `UPDATE proxy_assignments SET is_healthy = false, profile_id = NULL WHERE proxy_url = $1`, proxyURL); err != nil {
		return fmt.Errorf("op=proxy.mark_unhealthy: %w", err)
	}
	observability.RecordProxyUnhealthy()
	return nil
}

// ObserveOutcome updates ProxyStats for the profile's current proxy and
// triggers Rotate once the chat_not_found ratio crosses the configured
// threshold with enough samples (§4.3). The ratio covers every attempt
// recorded for this proxy/profile pair since its stats row was created; no
// rolling window is applied.
func (r *ProxyRepo) ObserveOutcome(ctx domain.Context, profileID string, kind domain.OutcomeKind) error {
	tracer := otel.Tracer("repo.proxy")
	ctx, span := tracer.Start(ctx, "proxy.ObserveOutcome")
	defer span.End()

	var proxyURL string
	var total, chatNotFound int64
	err := r.store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		q := querier(ctx, r.pool)

		if err := q.QueryRow(ctx, `SELECT proxy_url FROM proxy_assignments WHERE profile_id = $1`, profileID).Scan(&proxyURL); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil // no proxy assigned yet; nothing to observe
			}
			return fmt.Errorf("op=proxy.observe.lookup: %w", err)
		}

		successInc, chatNFInc, otherInc := 0, 0, 0
		switch {
		case kind == domain.OutcomeSuccess:
			successInc = 1
		case kind == domain.OutcomeChatNotFound:
			chatNFInc = 1
		default:
			otherInc = 1
		}

		err := q.QueryRow(ctx, `
			INSERT INTO proxy_stats (proxy_url, profile_id, total_attempts, successful_sends, chat_not_found_count, other_errors, period_start, last_attempt_at)
			VALUES ($1,$2,1,$3,$4,$5, now(), now())
			ON CONFLICT (proxy_url, profile_id) DO UPDATE SET
				total_attempts = proxy_stats.total_attempts + 1,
				successful_sends = proxy_stats.successful_sends + $3,
				chat_not_found_count = proxy_stats.chat_not_found_count + $4,
				other_errors = proxy_stats.other_errors + $5,
				last_attempt_at = now()
			RETURNING total_attempts, chat_not_found_count`,
			proxyURL, profileID, successInc, chatNFInc, otherInc).Scan(&total, &chatNotFound)
		if err != nil {
			return fmt.Errorf("op=proxy.observe.upsert_stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if proxyURL == "" {
		return nil
	}

	// Only chat_not_found is proxy-indicative (§4.3): slow_mode, user_blocked,
	// need_to_join and the other restriction kinds are profile- or
	// chat-local and say nothing about this proxy, so they must not count
	// toward the breaker or we'd rotate a perfectly healthy proxy out from
	// under a profile that's simply rate-limited on Telegram's side.
	breakerTripped := r.breakers.GetOrCreate(proxyURL, r.breakerMaxFailures, r.breakerTimeout).
		RecordOutcome(kind == domain.OutcomeChatNotFound)

	ratioTripped := total >= r.chatNotFoundMinSample && float64(chatNotFound)*100/float64(total) > r.chatNotFoundThresholdPct
	if breakerTripped || ratioTripped {
		if _, _, err := r.Rotate(ctx, profileID); err != nil {
			return fmt.Errorf("op=proxy.observe.rotate: %w", err)
		}
	}
	return nil
}

var (
	_ domain.ProxyRegistry = (*ProxyRepo)(nil)
	_ domain.ProxySource   = (*ProxyRepo)(nil)
)
