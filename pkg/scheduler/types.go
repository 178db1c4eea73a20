// Package scheduler runs the worker pool that drains the task queue and
// drives the research pipeline one cycle at a time (spec.md §4.6).
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/scholaragent/core/pkg/store"
)

// Sentinel errors for scheduler operations.
var (
	// ErrNoTasksAvailable indicates no queued tasks are waiting.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrAtCapacity indicates the pool-wide concurrent processing limit has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// CycleExecutor runs a single research-pipeline cycle for a claimed task.
//
// The executor owns the entire cycle internally: Strategy, Retrieval,
// Ranking, Analysis, and Decision run sequentially; if a stage fails the
// cycle stops and CycleResult carries the error. The worker only handles
// claiming, heartbeat, completion bookkeeping, and notification.
type CycleExecutor interface {
	Execute(ctx context.Context, task *store.Task) *CycleResult
}

// CycleResult is the terminal outcome of one pipeline cycle.
type CycleResult struct {
	FindingCount int
	ReportText   string
	Err          error
}

// PoolHealth reports the worker pool's current state.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	WorkerID         string         `json:"worker_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveTasks      int            `json:"active_tasks"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports a single worker's current state.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"` // "idle" or "working"
	CurrentTaskID   int64     `json:"current_task_id,omitempty"`
	TasksProcessed  int       `json:"tasks_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
