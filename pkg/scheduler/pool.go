package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scholaragent/core/pkg/config"
	"github.com/scholaragent/core/pkg/notifier"
	"github.com/scholaragent/core/pkg/store"
)

// WorkerPool manages a pool of queue workers draining the task queue.
type WorkerPool struct {
	instanceID string
	store      *store.Store
	config     *config.QueueConfig
	executor   CycleExecutor
	notifier   *notifier.Service
	workers    []*Worker
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	// Task cancel registry: task_id -> cancel function, for API-triggered cancellation.
	activeTasks map[int64]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	orphans orphanState
}

// NewWorkerPool creates a new worker pool bound to one process instance.
func NewWorkerPool(instanceID string, st *store.Store, cfg *config.QueueConfig, executor CycleExecutor, notifySvc *notifier.Service) *WorkerPool {
	return &WorkerPool{
		instanceID:  instanceID,
		store:       st,
		config:      cfg,
		executor:    executor,
		notifier:    notifySvc,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[int64]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan detection background task.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "instance_id", p.instanceID)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "instance_id", p.instanceID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.instanceID, i)
		worker := NewWorker(workerID, p.store, p.config, p.executor, p, p.notifier)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current cycle before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	active := p.getActiveTaskIDs()
	if len(active) > 0 {
		slog.Info("waiting for active tasks to complete", "count", len(active), "task_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterTask stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterTask(taskID int64, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterTask(taskID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelTask triggers context cancellation for a task on this instance.
// Returns true if the task was found and cancelled here.
func (p *WorkerPool) CancelTask(taskID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.store.QueueDepth(ctx)
	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "instance_id", p.instanceID, "error", errQ)
	}

	activeTasks, errA := p.store.ActiveProcessingCount(ctx)
	if errA != nil {
		slog.Error("failed to query active tasks for health check", "instance_id", p.instanceID, "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeTasks <= p.config.MaxConcurrentTasks && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errA != nil {
			dbError = fmt.Sprintf("active tasks query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		WorkerID:         p.instanceID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveTasks:      activeTasks,
		MaxConcurrent:    p.config.MaxConcurrentTasks,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

func (p *WorkerPool) getActiveTaskIDs() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int64, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}
