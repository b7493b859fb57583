//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaygrid/fleetsched/internal/adapter/repo/postgres"
	"github.com/relaygrid/fleetsched/internal/domain"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "fleetsched"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return "postgres://postgres:postgres@" + host + ":" + port.Port() + "/fleetsched?sslmode=disable"
}

func TestClaimNextIsRaceFreeAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `INSERT INTO profiles (profile_id, name) VALUES ('p1','profile-1'), ('p2','profile-2')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO tasks (id, group_id, chat_ref, total_cycles) VALUES ('t1','g1','c1',1)`)
	require.NoError(t, err)

	store := postgres.NewStore(pool)
	tasks := postgres.NewTaskRepo(store, pool, 1000, 0, time.Minute, 3)

	results := make(chan bool, 2)
	claim := func(profileID string) {
		task, ok, err := tasks.ClaimNext(ctx, "g1", profileID, "run-1")
		require.NoError(t, err)
		if ok {
			require.Equal(t, "t1", task.ID)
		}
		results <- ok
	}
	go claim("p1")
	go claim("p2")

	first := <-results
	second := <-results
	require.True(t, first != second, "exactly one of the two concurrent claims should have succeeded")
}

func TestRecordSuccessAdvancesCycleAndCompletes(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `INSERT INTO profiles (profile_id, name) VALUES ('p1','profile-1')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO tasks (id, group_id, chat_ref, total_cycles) VALUES ('t1','g1','c1',1)`)
	require.NoError(t, err)

	store := postgres.NewStore(pool)
	tasks := postgres.NewTaskRepo(store, pool, 1000, 0, time.Minute, 3)

	task, ok, err := tasks.ClaimNext(ctx, "g1", "p1", "run-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tasks.RecordSuccess(ctx, task, "p1", "run-1", 1, "hello"))

	var status string
	var completedCycles int
	require.NoError(t, pool.QueryRow(ctx, `SELECT status, completed_cycles FROM tasks WHERE id = 't1'`).Scan(&status, &completedCycles))
	require.Equal(t, "completed", status)
	require.Equal(t, 1, completedCycles)
}

func TestResetStaleReturnsOwnerlessProgressToPending(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn, 0, 0)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `INSERT INTO profiles (profile_id, name) VALUES ('p1','profile-1')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO tasks (id, group_id, chat_ref, total_cycles, status, assigned_profile_id, last_attempt_at)
		VALUES ('t1','g1','c1',1,'in_progress','p1', now() - interval '1 hour')`)
	require.NoError(t, err)

	store := postgres.NewStore(pool)
	tasks := postgres.NewTaskRepo(store, pool, 1000, 0, time.Minute, 3)

	n, err := tasks.ResetStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = 't1'`).Scan(&status))
	require.Equal(t, "pending", status)
}

var _ domain.TaskQueue = (*postgres.TaskRepo)(nil)
