package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scholaragent/core/pkg/config"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             5,
		MaxConcurrentTasks:      5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		CycleTimeout:            15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}

func TestWorkerPollInterval(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("test-worker", nil, cfg, nil, nil, nil)

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "poll interval below minimum")
		assert.LessOrEqual(t, d, 1500*time.Millisecond, "poll interval above maximum")
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollIntervalJitter = 0
	w := NewWorker("test-worker", nil, cfg, nil, nil, nil)

	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d, "poll interval should equal base when jitter is 0")
	}
}

func TestWorkerPollIntervalWithNegativeJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = 1 * time.Second
	cfg.PollIntervalJitter = -100 * time.Millisecond
	w := NewWorker("test-worker", nil, cfg, nil, nil, nil)

	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d)
	}
}

func TestWorkerHealth(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("worker-1", nil, cfg, nil, nil, nil)

	h := w.Health()
	assert.Equal(t, "worker-1", h.ID)
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, int64(0), h.CurrentTaskID)
	assert.Equal(t, 0, h.TasksProcessed)

	w.setStatus(WorkerStatusWorking, 42)
	h = w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, int64(42), h.CurrentTaskID)

	w.setStatus(WorkerStatusIdle, 0)
	h = w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, int64(0), h.CurrentTaskID)
}

func TestWorkerStopIdempotent(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("worker-1", nil, cfg, nil, nil, nil)

	assert.NotPanics(t, func() { w.Stop() })
	assert.NotPanics(t, func() { w.Stop() })
}
