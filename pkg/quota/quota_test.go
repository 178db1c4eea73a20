package quota

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholaragent/core/pkg/config"
	"github.com/scholaragent/core/pkg/store"
)

func newMockChecker(t *testing.T) (*Checker, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "pgx")
	return New(store.NewFromSQLX(db)), mock
}

func TestCheckTaskAdmissionDeniesBannedUserWithoutQuery(t *testing.T) {
	c, mock := newMockChecker(t)
	user := store.User{ID: 1, Banned: true}

	ok, reason, err := c.CheckTaskAdmission(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "User is banned", reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTaskAdmissionAllowsUnderConcurrentLimit(t *testing.T) {
	c, mock := newMockChecker(t)
	limits := config.LimitsFor(config.PlanFree)
	user := store.User{ID: 1, DailyTaskLimit: limits.DailyTaskLimit, ConcurrentLimit: limits.ConcurrentTaskLimit}

	userRows := sqlmock.NewRows([]string{
		"id", "external_id", "display_name", "plan", "daily_task_limit", "concurrent_limit",
		"max_cycles", "daily_tasks_created", "last_reset", "plan_expiry", "active", "banned",
		"created_at", "updated_at",
	}).AddRow(1, "ext", "name", config.PlanFree, limits.DailyTaskLimit, limits.ConcurrentTaskLimit,
		limits.MaxCycles, 0, time.Now(), nil, true, false, time.Now(), time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "user" WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(userRows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM user_task`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	ok, reason, err := c.CheckTaskAdmission(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCheckRateUnknownActionIsAlwaysAllowed(t *testing.T) {
	c, mock := newMockChecker(t)
	ok, reason, err := c.CheckRate(context.Background(), 1, "unknown_action")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRateFormatsHumanReadableDenialMessage(t *testing.T) {
	c, mock := newMockChecker(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rate_limit_record`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT \* FROM rate_limit_record WHERE user_id = \$1 AND action_kind = \$2 FOR UPDATE`).
		WithArgs(int64(1), config.ActionTaskCreate).
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "action_kind", "minute_count", "minute_reset", "hour_count", "hour_reset", "day_count", "day_reset",
		}).AddRow(1, config.ActionTaskCreate, 2, time.Now(), 2, time.Now(), 2, time.Now()))
	mock.ExpectExec(`UPDATE rate_limit_record`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ok, reason, err := c.CheckRate(context.Background(), 1, config.ActionTaskCreate)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Rate limit exceeded: 2 task_create per minute", reason)
}
