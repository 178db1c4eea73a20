// Package notifier adapts the core's only outbound contract (spec.md §6):
// durable OutboundMessage rows the external chat component polls and
// delivers. The core never calls a chat API directly.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scholaragent/core/pkg/store"
)

// Outbound is the subset of *store.Store the notifier depends on, so tests
// can substitute a stub without constructing a real Store.
type Outbound interface {
	EnqueueOutbound(ctx context.Context, kind, userExternalID, payload string) (*store.OutboundMessage, error)
}

// Service creates outbound message rows. Nil-safe: every method is a no-op
// when the service itself is nil, matching the teacher's fail-open pattern
// for notification delivery that must never block task processing.
type Service struct {
	store  Outbound
	logger *slog.Logger
}

// NewService builds a notifier Service backed by the given Store. Returns
// nil if store is nil, so a misconfigured caller degrades to no-ops instead
// of panicking deep inside the worker loop.
func NewService(s Outbound) *Service {
	if s == nil {
		return nil
	}
	return &Service{store: s, logger: slog.Default().With("component", "notifier")}
}

// ReportInput carries one cycle's outcome for an agent_report message.
type ReportInput struct {
	UserExternalID string
	TaskID         int64
	CyclesDone     int
	MaxCycles      int
	FindingCount   int
	ReportText     string
}

// NotifyReport enqueues an agent_report message summarizing one completed
// cycle. Fail-open: errors are logged, never returned, since a notification
// failure must never fail the cycle that produced it.
func (s *Service) NotifyReport(ctx context.Context, input ReportInput) {
	if s == nil || input.ReportText == "" {
		return
	}
	if _, err := s.store.EnqueueOutbound(ctx, store.KindAgentReport, input.UserExternalID, input.ReportText); err != nil {
		s.logger.Error("failed to enqueue agent report",
			"task_id", input.TaskID, "error", err)
	}
}

// NotifyCycleLimitReached enqueues a cycle_limit_notification message when a
// task exhausts its max_cycles budget without being cancelled first. The
// wording branches on whether the task ever produced a Finding: a
// congratulatory message when it did, a refinement suggestion when it
// didn't (spec.md §8 scenario 3).
func (s *Service) NotifyCycleLimitReached(ctx context.Context, userExternalID string, taskID int64, findingCount int) {
	if s == nil {
		return
	}
	var payload string
	if findingCount > 0 {
		payload = fmt.Sprintf("🎉 Task #%d completed! Found %d relevant paper(s) across its research cycles.", taskID, findingCount)
	} else {
		payload = fmt.Sprintf("🔄 Task #%d completed without finding a match. Try a more specific description or broader categories.", taskID)
	}
	if _, err := s.store.EnqueueOutbound(ctx, store.KindCycleLimitNotification, userExternalID, payload); err != nil {
		s.logger.Error("failed to enqueue cycle limit notification",
			"task_id", taskID, "error", err)
	}
}

// NotifyMonitoringStarted enqueues a monitoring_started message when a task
// is first admitted into the queue.
func (s *Service) NotifyMonitoringStarted(ctx context.Context, userExternalID string, taskID int64, description string) {
	if s == nil {
		return
	}
	payload := fmt.Sprintf("Started monitoring task %d: %s", taskID, description)
	if _, err := s.store.EnqueueOutbound(ctx, store.KindMonitoringStarted, userExternalID, payload); err != nil {
		s.logger.Error("failed to enqueue monitoring started notification",
			"task_id", taskID, "error", err)
	}
}

// NotifyTaskFailed enqueues an agent_report message carrying a failure
// explanation, reusing the report kind since both are terminal summaries
// delivered through the same channel.
func (s *Service) NotifyTaskFailed(ctx context.Context, userExternalID string, taskID int64, reason string) {
	if s == nil {
		return
	}
	payload := fmt.Sprintf("Task %d failed: %s", taskID, reason)
	if _, err := s.store.EnqueueOutbound(ctx, store.KindAgentReport, userExternalID, payload); err != nil {
		s.logger.Error("failed to enqueue failure notification",
			"task_id", taskID, "error", err)
	}
}
