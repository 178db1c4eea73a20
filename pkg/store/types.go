// Package store is the single owner of all persisted state: users, tasks,
// the dispatch queue, rate-limit counters, statistics, papers, analyses,
// findings, and outbound messages. Each mutating operation is either a single
// statement or one transaction, except ReclaimOrphans and StartupCleanup,
// which each run two separate statements (spec §5 "Locking discipline" — no nested locks across
// external I/O).
package store

import "time"

// Plan mirrors config.Plan without importing the config package, so store
// stays free of upstream dependencies on wiring code.
type Plan string

// Supported plans.
const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

// Task statuses (spec §3).
const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskPaused     TaskStatus = "paused"
)

// AnalysisStatus is the lifecycle state of an Analysis row (spec §3,
// transitions monotonically analyzed -> queued -> notified).
type AnalysisStatus string

// Analysis statuses.
const (
	AnalysisAnalyzed AnalysisStatus = "analyzed"
	AnalysisQueued   AnalysisStatus = "queued"
	AnalysisNotified AnalysisStatus = "notified"
)

// OutboundStatus is the lifecycle state of an OutboundMessage row.
type OutboundStatus string

// Outbound statuses.
const (
	OutboundPending   OutboundStatus = "pending"
	OutboundCompleted OutboundStatus = "completed"
	OutboundSent      OutboundStatus = "sent"
	OutboundFailed    OutboundStatus = "failed"
)

// Outbound message kinds (spec §6).
const (
	KindAgentReport            = "agent_report"
	KindCycleLimitNotification = "cycle_limit_notification"
	KindMonitoringStarted      = "monitoring_started"
	KindStartMonitoring        = "start_monitoring"
	KindRestartMonitoring      = "restart_monitoring"
	KindAnalysisComplete       = "analysis_complete"
)

// User is an external chat-service identity plus plan/quota bookkeeping.
type User struct {
	ID                int64      `db:"id"`
	ExternalID        string     `db:"external_id"`
	DisplayName       string     `db:"display_name"`
	Plan              Plan       `db:"plan"`
	DailyTaskLimit    int        `db:"daily_task_limit"`
	ConcurrentLimit   int        `db:"concurrent_limit"`
	MaxCycles         int        `db:"max_cycles"`
	DailyTasksCreated int        `db:"daily_tasks_created"`
	LastReset         time.Time  `db:"last_reset"`
	PlanExpiry        *time.Time `db:"plan_expiry"`
	Active            bool       `db:"active"`
	Banned            bool       `db:"banned"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// UserProfile carries the display fields upserted by get_or_create_user.
type UserProfile struct {
	DisplayName string
	Plan        Plan
}

// UserSettings holds per-user pipeline overrides (spec §3 SUPPLEMENT).
type UserSettings struct {
	UserID           int64 `db:"user_id"`
	MinRelevance     int   `db:"min_relevance"`
	UseAgentStrategy *bool `db:"use_agent_strategy"`
	UseAgentAnalyze  *bool `db:"use_agent_analyze"`
}

// SearchQuery is a persisted, user-suggested query the Strategy stage must
// consult ahead of LLM/heuristic generation (spec §3 SUPPLEMENT).
type SearchQuery struct {
	ID         int64  `db:"id"`
	TaskID     int64  `db:"task_id"`
	QueryText  string `db:"query_text"`
	SourceTag  string `db:"source_tag"`
	Categories string `db:"categories"`
}

// Task is one research-task submission.
type Task struct {
	ID                     int64      `db:"id"`
	UserID                 int64      `db:"user_id"`
	Description            string     `db:"description"`
	Status                 TaskStatus `db:"status"`
	CyclesCompleted        int        `db:"cycles_completed"`
	MaxCycles              int        `db:"max_cycles"`
	MinRelevance           int        `db:"min_relevance"`
	ErrorText              *string    `db:"error_text"`
	CreatedAt              time.Time  `db:"created_at"`
	ProcessingStartedAt    *time.Time `db:"processing_started_at"`
	ProcessingCompletedAt  *time.Time `db:"processing_completed_at"`
}

// QueueEntry is the one-to-one dispatch record for a non-terminal Task.
type QueueEntry struct {
	TaskID         int64      `db:"task_id"`
	Priority       int        `db:"priority"`
	QueuePosition  int        `db:"queue_position"`
	EstimatedStart *time.Time `db:"estimated_start"`
	WorkerID       *string    `db:"worker_id"`
	StartedAt      *time.Time `db:"started_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// RateLimitRecord holds the three sliding-window counters for one
// (user, action_kind) pair.
type RateLimitRecord struct {
	UserID      int64     `db:"user_id"`
	ActionKind  string    `db:"action_kind"`
	MinuteCount int       `db:"minute_count"`
	MinuteReset time.Time `db:"minute_reset"`
	HourCount   int       `db:"hour_count"`
	HourReset   time.Time `db:"hour_reset"`
	DayCount    int       `db:"day_count"`
	DayReset    time.Time `db:"day_reset"`
}

// TaskStatistics is the singleton global processing-time record.
type TaskStatistics struct {
	ID                      int     `db:"id"`
	TotalProcessed          int64   `db:"total_processed"`
	TotalProcessingSeconds  float64 `db:"total_processing_seconds"`
	MinProcessingSeconds    *float64 `db:"min_processing_seconds"`
	MaxProcessingSeconds    *float64 `db:"max_processing_seconds"`
	LastProcessingSeconds   *float64 `db:"last_processing_seconds"`
	TotalFailures           int64   `db:"total_failures"`
}

// Median returns the spec's placeholder three-sample midpoint of
// (min, last, max) processing seconds, acceptable for human-facing ETA
// display but not a statistically meaningful median.
//
// TODO: replace with a streaming quantile estimator (e.g. t-digest) if ETA
// accuracy ever matters beyond rough ordering.
func (s TaskStatistics) Median() float64 {
	if s.MinProcessingSeconds == nil || s.MaxProcessingSeconds == nil || s.LastProcessingSeconds == nil {
		return 0
	}
	values := []float64{*s.MinProcessingSeconds, *s.LastProcessingSeconds, *s.MaxProcessingSeconds}
	// insertion sort of 3 elements
	if values[0] > values[1] {
		values[0], values[1] = values[1], values[0]
	}
	if values[1] > values[2] {
		values[1], values[2] = values[2], values[1]
	}
	if values[0] > values[1] {
		values[0], values[1] = values[1], values[0]
	}
	return values[1]
}

// PaperRecord is the durable, source-deduplicated paper row.
type PaperRecord struct {
	ID          int64      `db:"id"`
	SourceID    string     `db:"source_id"`
	Title       string     `db:"title"`
	Abstract    string     `db:"abstract"`
	Categories  string     `db:"categories"`
	UpdatedAt   *time.Time `db:"updated_at"`
	AbstractURL string     `db:"abstract_url"`
	PDFURL      string     `db:"pdf_url"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Analysis links a paper to a task with the relevance/summary produced by
// one cycle's Analysis stage.
type Analysis struct {
	ID           int64          `db:"id"`
	PaperID      int64          `db:"paper_id"`
	TaskID       int64          `db:"task_id"`
	Relevance    float64        `db:"relevance"`
	Summary      string         `db:"summary"`
	KeyFragments *string        `db:"key_fragments"`
	Reasoning    *string        `db:"reasoning"`
	Status       AnalysisStatus `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
}

// Finding is the durable task<->paper link for items that passed selection.
type Finding struct {
	ID        int64     `db:"id"`
	TaskID    int64     `db:"task_id"`
	PaperID   int64     `db:"paper_id"`
	Relevance float64   `db:"relevance"`
	Summary   string    `db:"summary"`
	CreatedAt time.Time `db:"created_at"`
}

// OutboundMessage is the core's only outbound contract with the external
// chat component (spec §6).
type OutboundMessage struct {
	ID             int64          `db:"id"`
	Kind           string         `db:"kind"`
	UserExternalID string         `db:"user_external_id"`
	PayloadText    string         `db:"payload_text"`
	Status         OutboundStatus `db:"status"`
	ResultText     *string        `db:"result_text"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// AgentStatus is the single-row-per-worker heartbeat row of agent_status.
// Neither Health() nor orphan detection reads it.
type AgentStatus struct {
	WorkerID      string    `db:"worker_id"`
	Status        string    `db:"status"`
	CurrentTaskID *int64    `db:"current_task_id"`
	LastHeartbeat time.Time `db:"last_heartbeat"`
}
