package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/scholaragent/core/pkg/config"
	"github.com/scholaragent/core/pkg/notifier"
	"github.com/scholaragent/core/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes tasks.
type Worker struct {
	id         string
	store      *store.Store
	config     *config.QueueConfig
	executor   CycleExecutor
	notifier   *notifier.Service
	registry   TaskRegistry
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  int64
	tasksProcessed int
	lastActivity   time.Time
}

// TaskRegistry is the subset of WorkerPool used by Worker for task cancel
// registration.
type TaskRegistry interface {
	RegisterTask(taskID int64, cancel context.CancelFunc)
	UnregisterTask(taskID int64)
}

// NewWorker creates a new queue worker. notifySvc may be nil (notifications
// disabled, a no-op per notifier.Service's nil-safety).
func NewWorker(id string, st *store.Store, cfg *config.QueueConfig, executor CycleExecutor, registry TaskRegistry, notifySvc *notifier.Service) *Worker {
	return &Worker{
		id:           id,
		store:        st,
		config:       cfg,
		executor:     executor,
		notifier:     notifySvc,
		registry:     registry,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks pool capacity, claims a task, and runs one cycle.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.store.ActiveProcessingCount(ctx)
	if err != nil {
		return fmt.Errorf("checking active tasks: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentTasks {
		return ErrAtCapacity
	}

	task, err := w.store.NextQueuedTask(ctx, w.id)
	if err != nil {
		if errors.Is(err, store.ErrNoTaskAvailable) {
			return ErrNoTasksAvailable
		}
		return fmt.Errorf("claiming task: %w", err)
	}

	log := slog.With("task_id", task.ID, "worker_id", w.id)
	log.Info("task claimed")

	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, 0)

	cycleCtx, cancel := context.WithTimeout(ctx, w.config.CycleTimeout)
	defer cancel()

	w.registry.RegisterTask(task.ID, cancel)
	defer w.registry.UnregisterTask(task.ID)

	started := time.Now()
	result := w.executor.Execute(cycleCtx, task)
	if result == nil {
		result = &CycleResult{Err: fmt.Errorf("executor returned nil result")}
	}
	if result.Err == nil && errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
		result.Err = fmt.Errorf("cycle timed out after %v", w.config.CycleTimeout)
	}
	duration := time.Since(started)

	updated, err := w.store.CompleteCycle(context.Background(), task.ID, duration, result.Err)
	if err != nil {
		log.Error("failed to record cycle completion", "error", err)
		return err
	}

	w.notifyOutcome(context.Background(), updated, result)

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("cycle complete", "status", updated.Status, "cycles_completed", updated.CyclesCompleted, "duration", duration)
	return nil
}

// notifyOutcome sends the appropriate outbound notification for a cycle's
// terminal status. Best-effort: notifier.Service itself is fail-open.
func (w *Worker) notifyOutcome(ctx context.Context, task *store.Task, result *CycleResult) {
	if w.notifier == nil {
		return
	}

	user, err := w.store.UserByID(ctx, task.UserID)
	if err != nil {
		slog.Warn("failed to load user for notification", "task_id", task.ID, "error", err)
		return
	}

	switch task.Status {
	case store.TaskFailed:
		reason := "unknown error"
		if task.ErrorText != nil {
			reason = *task.ErrorText
		}
		w.notifier.NotifyTaskFailed(ctx, user.ExternalID, task.ID, reason)
	case store.TaskCompleted:
		findingCount, err := w.store.FindingCountForTask(ctx, task.ID)
		if err != nil {
			slog.Warn("failed to count findings for cycle limit notification", "task_id", task.ID, "error", err)
		}
		w.notifier.NotifyCycleLimitReached(ctx, user.ExternalID, task.ID, findingCount)
	default:
		w.notifier.NotifyReport(ctx, notifier.ReportInput{
			UserExternalID: user.ExternalID,
			TaskID:         task.ID,
			CyclesDone:     task.CyclesCompleted,
			MaxCycles:      task.MaxCycles,
			FindingCount:   result.FindingCount,
			ReportText:     result.ReportText,
		})
	}
}

// pollInterval returns the poll duration with jitter, in [base-jitter, base+jitter].
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, taskID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
