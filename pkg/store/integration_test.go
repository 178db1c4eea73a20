package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scholaragent/core/pkg/database"
)

// newIntegrationStore spins up a real PostgreSQL instance — a testcontainer
// locally, or the CI_DATABASE_URL service container in CI, exactly the dual
// path the teacher's test/database.NewTestClient uses — and applies the
// embedded migrations. The sqlmock-backed tests above this file only check
// that a statement has the right shape; they never exercise real Postgres
// semantics (row locking under FOR UPDATE, upsert conflict targets, CTE
// evaluation), which is what the critical transactional paths below need.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	var dsn string
	if ciDSN := os.Getenv("CI_DATABASE_URL"); ciDSN != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		dsn = ciDSN
	} else {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	client, err := database.NewClientFromDSN(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return New(client)
}

func TestIntegrationCheckAdmissionEnforcesConcurrentLimit(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, "integration-admission", UserProfile{DisplayName: "Ada", Plan: PlanFree})
	require.NoError(t, err)

	result, err := s.CheckAdmission(ctx, user.ID, 5, 1, nil, false)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	_, err = s.CreateTaskAndEnqueue(ctx, user.ID, "graph neural networks", 5, 50, 0, nil)
	require.NoError(t, err)

	result, err = s.CheckAdmission(ctx, user.ID, 5, 1, nil, false)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "Concurrent task limit reached (1)", result.Reason)
}

func TestIntegrationCheckAdmissionEnforcesDailyLimitAfterReset(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, "integration-daily", UserProfile{DisplayName: "Grace", Plan: PlanFree})
	require.NoError(t, err)

	_, err = s.CreateTaskAndEnqueue(ctx, user.ID, "first task", 5, 50, 0, nil)
	require.NoError(t, err)

	result, err := s.CheckAdmission(ctx, user.ID, 1, 5, nil, false)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "Daily task limit reached (1)", result.Reason)
}

func TestIntegrationCompleteCycleRequeuesThenCompletesAtMaxCycles(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, "integration-cycle", UserProfile{DisplayName: "Hedy", Plan: PlanFree})
	require.NoError(t, err)

	task, err := s.CreateTaskAndEnqueue(ctx, user.ID, "quantum error correction", 2, 50, 0, nil)
	require.NoError(t, err)

	claimed, err := s.NextQueuedTask(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, TaskProcessing, claimed.Status)

	afterFirst, err := s.CompleteCycle(ctx, task.ID, 2*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, afterFirst.Status)
	assert.Equal(t, 1, afterFirst.CyclesCompleted)

	claimedAgain, err := s.NextQueuedTask(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, task.ID, claimedAgain.ID)

	afterSecond, err := s.CompleteCycle(ctx, task.ID, 3*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, afterSecond.Status)
	assert.Equal(t, 2, afterSecond.CyclesCompleted)
	assert.NotNil(t, afterSecond.ProcessingCompletedAt)

	_, err = s.NextQueuedTask(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrNoTaskAvailable)
}

func TestIntegrationCompleteCycleMarksFailedOnOutcomeError(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, "integration-cycle-fail", UserProfile{DisplayName: "Alan", Plan: PlanFree})
	require.NoError(t, err)

	task, err := s.CreateTaskAndEnqueue(ctx, user.ID, "protein folding", 5, 50, 0, nil)
	require.NoError(t, err)

	_, err = s.NextQueuedTask(ctx, "worker-1")
	require.NoError(t, err)

	result, err := s.CompleteCycle(ctx, task.ID, time.Second, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, result.Status)
	require.NotNil(t, result.ErrorText)
	assert.Equal(t, assert.AnError.Error(), *result.ErrorText)
}

func TestIntegrationCheckAndIncrementRateLimitEnforcesPerMinuteWindow(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, "integration-rate", UserProfile{DisplayName: "Barbara", Plan: PlanFree})
	require.NoError(t, err)

	first, err := s.CheckAndIncrementRateLimit(ctx, user.ID, "task_create", 2, 100, 100)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := s.CheckAndIncrementRateLimit(ctx, user.ID, "task_create", 2, 100, 100)
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := s.CheckAndIncrementRateLimit(ctx, user.ID, "task_create", 2, 100, 100)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, "minute", third.Window)
	assert.Equal(t, 2, third.Limit)
}
