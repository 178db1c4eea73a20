package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "pgx")
	return NewFromSQLX(db), mock
}

func TestGetOrCreateUserUpsertsAndEnsuresSettings(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now()
	userRows := sqlmock.NewRows([]string{
		"id", "external_id", "display_name", "plan", "daily_task_limit",
		"concurrent_limit", "max_cycles", "daily_tasks_created", "last_reset",
		"plan_expiry", "active", "banned", "created_at", "updated_at",
	}).AddRow(1, "U123", "Ada", "free", 5, 1, 5, 0, now, nil, true, false, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "user"`).
		WithArgs("U123", "Ada", Plan("free")).
		WillReturnRows(userRows)
	mock.ExpectExec(`INSERT INTO user_settings`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := s.GetOrCreateUser(ctx, "U123", UserProfile{DisplayName: "Ada", Plan: PlanFree})
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "Ada", user.DisplayName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmissionRejectsBannedUserWithoutQuery(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	result, err := s.CheckAdmission(ctx, 1, 5, 1, nil, true)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "User is banned", result.Reason)
	// No DB interaction expected for the banned short-circuit.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmissionRejectsExpiredPlanWithoutQuery(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	result, err := s.CheckAdmission(ctx, 1, 5, 1, &expired, false)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "Plan has expired", result.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAdmissionEnforcesConcurrentLimit(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now()
	userRows := sqlmock.NewRows([]string{
		"id", "external_id", "display_name", "plan", "daily_task_limit",
		"concurrent_limit", "max_cycles", "daily_tasks_created", "last_reset",
		"plan_expiry", "active", "banned", "created_at", "updated_at",
	}).AddRow(1, "U123", "Ada", "free", 5, 1, 5, 2, now, nil, true, false, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "user" WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(userRows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM user_task`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	result, err := s.CheckAdmission(ctx, 1, 5, 1, nil, false)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Concurrent task limit reached")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextQueuedTaskReturnsErrNoTaskAvailable(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT t\.\* FROM user_task t`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	task, err := s.NextQueuedTask(ctx, "worker-1")
	assert.Nil(t, task)
	assert.ErrorIs(t, err, ErrNoTaskAvailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCycleRequeuesWhenCyclesRemain(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now()
	taskRows := sqlmock.NewRows([]string{
		"id", "user_id", "description", "status", "cycles_completed", "max_cycles",
		"min_relevance", "error_text", "created_at", "processing_started_at", "processing_completed_at",
	}).AddRow(10, 1, "survey transformers", "processing", 1, 5, 50, nil, now, now, nil)

	statsRows := sqlmock.NewRows([]string{
		"id", "total_processed", "total_processing_seconds", "min_processing_seconds",
		"max_processing_seconds", "last_processing_seconds", "total_failures",
	}).AddRow(1, int64(4), 120.0, 10.0, 50.0, 20.0, int64(0))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM user_task WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(10)).
		WillReturnRows(taskRows)
	mock.ExpectExec(`UPDATE user_task`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE task_queue SET worker_id = NULL`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM task_statistics WHERE id = 1 FOR UPDATE`).
		WillReturnRows(statsRows)
	mock.ExpectExec(`UPDATE task_statistics`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := s.CompleteCycle(ctx, 10, 30*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, task.Status)
	assert.Equal(t, 2, task.CyclesCompleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStatisticsMedianIsMidpointOfThreeSamples(t *testing.T) {
	lo, last, hi := 10.0, 45.0, 90.0
	stats := TaskStatistics{MinProcessingSeconds: &lo, LastProcessingSeconds: &last, MaxProcessingSeconds: &hi}
	assert.Equal(t, 45.0, stats.Median())
}

func TestTaskStatisticsMedianZeroWhenIncomplete(t *testing.T) {
	stats := TaskStatistics{}
	assert.Equal(t, 0.0, stats.Median())
}

func TestFindingCountForTaskReturnsRowCount(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT count\(\*\) FROM finding WHERE task_id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := s.FindingCountForTask(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
