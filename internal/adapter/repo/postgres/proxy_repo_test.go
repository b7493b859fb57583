//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaygrid/fleetsched/internal/adapter/repo/postgres"
	"github.com/relaygrid/fleetsched/internal/domain"
)

func seedProxyFixture(t *testing.T, pool postgres.PgxPool) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO profiles (profile_id, name) VALUES ('p1','profile-1'), ('p2','profile-2')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO proxy_assignments (proxy_url) VALUES ('proxy-a'), ('proxy-b')`)
	require.NoError(t, err)
}

func TestProxyAssignNeverHandsOneProxyToTwoProfiles(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))
	seedProxyFixture(t, pool)

	store := postgres.NewStore(pool)
	proxies := postgres.NewProxyRepo(store, pool, 40, 10)

	// Only one proxy-a-sized pool entry should ever be claimable by both
	// profiles racing Assign, so draining the two-proxy pool with two
	// concurrent claimers must land each profile on a distinct proxy.
	results := make(chan string, 2)
	claim := func(profileID string) {
		url, ok, err := proxies.Assign(ctx, profileID)
		require.NoError(t, err)
		require.True(t, ok)
		results <- url
	}
	go claim("p1")
	go claim("p2")

	first := <-results
	second := <-results
	require.NotEqual(t, first, second, "the two concurrent claimers must not receive the same proxy")

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM proxy_assignments WHERE profile_id IS NOT NULL`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestProxyRotateReleasesAndReassigns(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))
	seedProxyFixture(t, pool)

	store := postgres.NewStore(pool)
	proxies := postgres.NewProxyRepo(store, pool, 40, 10)

	first, ok, err := proxies.Assign(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	rotated, ok, err := proxies.Rotate(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first, rotated, "Rotate should hand the profile a different proxy than it released")

	var released bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT profile_id IS NULL FROM proxy_assignments WHERE proxy_url = $1`, first).Scan(&released))
	require.True(t, released, "the original proxy should be back in the pool, unassigned")
}

func TestProxyMarkUnhealthyReleasesAssignment(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))
	seedProxyFixture(t, pool)

	store := postgres.NewStore(pool)
	proxies := postgres.NewProxyRepo(store, pool, 40, 10)

	url, ok, err := proxies.Assign(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, proxies.MarkUnhealthy(ctx, url, "test-forced-unhealthy"))

	var healthy bool
	var profileID *string
	require.NoError(t, pool.QueryRow(ctx, `SELECT is_healthy, profile_id FROM proxy_assignments WHERE proxy_url = $1`, url).Scan(&healthy, &profileID))
	require.False(t, healthy)
	require.Nil(t, profileID)

	// Resolve must now skip the unhealthy proxy and hand p1 the other one.
	next, ok, err := proxies.Resolve(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, url, next)
}

func TestProxyObserveOutcomeRotatesOnChatNotFoundRatio(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))
	seedProxyFixture(t, pool)

	store := postgres.NewStore(pool)
	// Threshold 40%, min sample 2: two chat_not_found outcomes in a row on a
	// freshly assigned proxy should push the ratio over the line and rotate.
	proxies := postgres.NewProxyRepo(store, pool, 40, 2)

	url, ok, err := proxies.Assign(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, proxies.ObserveOutcome(ctx, "p1", domain.OutcomeChatNotFound))
	require.NoError(t, proxies.ObserveOutcome(ctx, "p1", domain.OutcomeChatNotFound))

	var current string
	require.NoError(t, pool.QueryRow(ctx, `SELECT proxy_url FROM proxy_assignments WHERE profile_id = 'p1'`).Scan(&current))
	require.NotEqual(t, url, current, "ratio-triggered ObserveOutcome should have rotated p1 off the bad proxy")
}

func TestProxyObserveOutcomeIgnoresProfileLocalFailureKinds(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))
	seedProxyFixture(t, pool)

	store := postgres.NewStore(pool)
	proxies := postgres.NewProxyRepo(store, pool, 40, 2)

	url, ok, err := proxies.Assign(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	// slow_mode/user_blocked/need_to_join are profile- or chat-local, not
	// proxy-indicative (§4.3): repeated occurrences must never rotate the
	// proxy out from under the profile.
	for i := 0; i < 10; i++ {
		require.NoError(t, proxies.ObserveOutcome(ctx, "p1", domain.OutcomeSlowMode))
	}

	var current string
	require.NoError(t, pool.QueryRow(ctx, `SELECT proxy_url FROM proxy_assignments WHERE profile_id = 'p1'`).Scan(&current))
	require.Equal(t, url, current, "profile-local failure kinds must not trigger proxy rotation")
}

var (
	_ domain.ProxyRegistry = (*postgres.ProxyRepo)(nil)
	_ domain.ProxySource   = (*postgres.ProxyRepo)(nil)
)
