package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/scholaragent/core/pkg/database"
)

// ErrNoTaskAvailable is returned by NextQueuedTask when the queue is empty.
var ErrNoTaskAvailable = errors.New("store: no queued task available")

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the single entry point for all persisted state. Every exported
// method is either a single statement or wraps its own transaction; callers
// never need to manage a *sql.Tx directly (mirrors the teacher's ent.Client
// wrapping pattern, just over sqlx instead of generated code).
type Store struct {
	db *sqlx.DB
}

// New wraps a database client's connection pool.
func New(client *database.Client) *Store {
	return &Store{db: client.DB}
}

// NewFromSQLX builds a Store directly from a *sqlx.DB, used by tests that
// drive a sqlmock connection.
func NewFromSQLX(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOrCreateUser implements spec.md §4.1 get_or_create_user: upserts the
// caller's external identity, refreshing display name and plan on every
// call, and returns the durable row.
func (s *Store) GetOrCreateUser(ctx context.Context, externalID string, profile UserProfile) (*User, error) {
	var user User
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &user, `
			INSERT INTO "user" (external_id, display_name, plan)
			VALUES ($1, $2, $3)
			ON CONFLICT (external_id) DO UPDATE
				SET display_name = EXCLUDED.display_name,
					plan = EXCLUDED.plan,
					updated_at = now()
			RETURNING *`,
			externalID, profile.DisplayName, profile.Plan,
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_settings (user_id) VALUES ($1)
			ON CONFLICT (user_id) DO NOTHING`,
			user.ID,
		)
		if err != nil {
			return fmt.Errorf("ensure user_settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserSettings fetches a user's pipeline overrides, returning the zero-value
// defaults (min_relevance 50, agent toggles unset) if no row exists yet.
func (s *Store) UserSettings(ctx context.Context, userID int64) (*UserSettings, error) {
	var settings UserSettings
	err := s.db.GetContext(ctx, &settings, `
		SELECT * FROM user_settings WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &UserSettings{UserID: userID, MinRelevance: 50}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user settings: %w", err)
	}
	return &settings, nil
}

// AdmissionResult reports whether a new task may be admitted and why not.
type AdmissionResult struct {
	Allowed bool
	Reason  string
}

// CheckAdmission implements spec.md §4.7's ordered admission checks:
// banned -> plan expired -> daily counter reset -> daily quota -> concurrent
// quota. All reads happen inside one transaction so a concurrently-arriving
// task cannot race the concurrent-count check.
func (s *Store) CheckAdmission(ctx context.Context, userID int64, dailyLimit, concurrentLimit int, planExpiry *time.Time, banned bool) (*AdmissionResult, error) {
	if banned {
		return &AdmissionResult{Allowed: false, Reason: "User is banned"}, nil
	}
	if planExpiry != nil && planExpiry.Before(time.Now()) {
		return &AdmissionResult{Allowed: false, Reason: "Plan has expired"}, nil
	}

	var result AdmissionResult
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var u User
		if err := tx.GetContext(ctx, &u, `SELECT * FROM "user" WHERE id = $1 FOR UPDATE`, userID); err != nil {
			return fmt.Errorf("load user for admission: %w", err)
		}

		dailyCreated := u.DailyTasksCreated
		if time.Since(u.LastReset) >= 24*time.Hour {
			if _, err := tx.ExecContext(ctx, `
				UPDATE "user" SET daily_tasks_created = 0, last_reset = now() WHERE id = $1`, userID); err != nil {
				return fmt.Errorf("reset daily counter: %w", err)
			}
			dailyCreated = 0
		}

		if dailyCreated >= dailyLimit {
			result = AdmissionResult{Allowed: false, Reason: fmt.Sprintf("Daily task limit reached (%d)", dailyLimit)}
			return nil
		}

		var concurrent int
		if err := tx.GetContext(ctx, &concurrent, `
			SELECT count(*) FROM user_task
			WHERE user_id = $1 AND status IN ('queued', 'processing', 'paused')`, userID); err != nil {
			return fmt.Errorf("count concurrent tasks: %w", err)
		}
		if concurrent >= concurrentLimit {
			result = AdmissionResult{Allowed: false, Reason: fmt.Sprintf("Concurrent task limit reached (%d)", concurrentLimit)}
			return nil
		}

		result = AdmissionResult{Allowed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RateLimitCheck reports whether an action is currently allowed and, if not,
// which window it exceeded.
type RateLimitCheck struct {
	Allowed bool
	Window  string // "minute", "hour", or "day"
	Limit   int
}

// CheckAndIncrementRateLimit implements the three sliding-window counters
// backing spec.md §4.7's rate limiting. Unlike an in-process token bucket,
// the counters live in rate_limit_record so they survive restarts and are
// shared across every worker process.
func (s *Store) CheckAndIncrementRateLimit(ctx context.Context, userID int64, action string, perMinute, perHour, perDay int) (*RateLimitCheck, error) {
	var result RateLimitCheck
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_limit_record (user_id, action_kind) VALUES ($1, $2)
			ON CONFLICT (user_id, action_kind) DO NOTHING`,
			userID, action,
		)
		if err != nil {
			return fmt.Errorf("ensure rate_limit_record: %w", err)
		}

		var rec RateLimitRecord
		if err := tx.GetContext(ctx, &rec, `
			SELECT * FROM rate_limit_record WHERE user_id = $1 AND action_kind = $2 FOR UPDATE`,
			userID, action,
		); err != nil {
			return fmt.Errorf("load rate_limit_record: %w", err)
		}

		now := time.Now()
		if now.Sub(rec.MinuteReset) >= time.Minute {
			rec.MinuteCount, rec.MinuteReset = 0, now
		}
		if now.Sub(rec.HourReset) >= time.Hour {
			rec.HourCount, rec.HourReset = 0, now
		}
		if now.Sub(rec.DayReset) >= 24*time.Hour {
			rec.DayCount, rec.DayReset = 0, now
		}

		switch {
		case rec.MinuteCount >= perMinute:
			result = RateLimitCheck{Allowed: false, Window: "minute", Limit: perMinute}
		case rec.HourCount >= perHour:
			result = RateLimitCheck{Allowed: false, Window: "hour", Limit: perHour}
		case rec.DayCount >= perDay:
			result = RateLimitCheck{Allowed: false, Window: "day", Limit: perDay}
		default:
			rec.MinuteCount++
			rec.HourCount++
			rec.DayCount++
			result = RateLimitCheck{Allowed: true}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rate_limit_record
			SET minute_count = $1, minute_reset = $2,
				hour_count = $3, hour_reset = $4,
				day_count = $5, day_reset = $6
			WHERE user_id = $7 AND action_kind = $8`,
			rec.MinuteCount, rec.MinuteReset, rec.HourCount, rec.HourReset,
			rec.DayCount, rec.DayReset, userID, action,
		)
		if err != nil {
			return fmt.Errorf("update rate_limit_record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateTaskAndEnqueue implements spec.md §4.1 create_task_and_enqueue:
// inserts the task row and its one-to-one queue entry in a single
// transaction, optionally attaching user-suggested search queries.
func (s *Store) CreateTaskAndEnqueue(ctx context.Context, userID int64, description string, maxCycles, minRelevance, priority int, suggested []SearchQuery) (*Task, error) {
	var task Task
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &task, `
			INSERT INTO user_task (user_id, description, max_cycles, min_relevance)
			VALUES ($1, $2, $3, $4)
			RETURNING *`,
			userID, description, maxCycles, minRelevance,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		var position int
		if err := tx.GetContext(ctx, &position, `SELECT count(*) FROM task_queue`); err != nil {
			return fmt.Errorf("count queue: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_queue (task_id, priority, queue_position)
			VALUES ($1, $2, $3)`,
			task.ID, priority, position,
		); err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE "user" SET daily_tasks_created = daily_tasks_created + 1 WHERE id = $1`,
			userID,
		); err != nil {
			return fmt.Errorf("increment daily counter: %w", err)
		}

		for _, q := range suggested {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO search_query (task_id, query_text, source_tag, categories)
				VALUES ($1, $2, $3, $4)`,
				task.ID, q.QueryText, q.SourceTag, q.Categories,
			); err != nil {
				return fmt.Errorf("insert search_query: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// SuggestedQueries returns the user-provided search queries attached to a
// task at creation time (spec.md §3 SUPPLEMENT, consulted by the Strategy
// stage ahead of LLM/heuristic generation).
func (s *Store) SuggestedQueries(ctx context.Context, taskID int64) ([]SearchQuery, error) {
	var queries []SearchQuery
	if err := s.db.SelectContext(ctx, &queries, `
		SELECT * FROM search_query WHERE task_id = $1`, taskID); err != nil {
		return nil, fmt.Errorf("load search queries: %w", err)
	}
	return queries, nil
}

// NextQueuedTask implements spec.md §4.6's atomic claim using
// SELECT ... FOR UPDATE SKIP LOCKED, ordered by queue priority then creation
// time, mirroring the teacher's claimNextSession pattern. It marks the task
// processing and stamps the queue entry with the claiming worker.
func (s *Store) NextQueuedTask(ctx context.Context, workerID string) (*Task, error) {
	var task Task
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &task, `
			SELECT t.* FROM user_task t
			JOIN task_queue q ON q.task_id = t.id
			WHERE t.status = 'queued'
			ORDER BY q.priority ASC, q.created_at ASC
			LIMIT 1
			FOR UPDATE OF t SKIP LOCKED`,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoTaskAvailable
		}
		if err != nil {
			return fmt.Errorf("query next task: %w", err)
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_task SET status = 'processing', processing_started_at = $1 WHERE id = $2`,
			now, task.ID,
		); err != nil {
			return fmt.Errorf("mark task processing: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE task_queue SET worker_id = $1, started_at = $2 WHERE task_id = $3`,
			workerID, now, task.ID,
		); err != nil {
			return fmt.Errorf("claim queue entry: %w", err)
		}

		task.Status = TaskProcessing
		task.ProcessingStartedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoTaskAvailable) {
			return nil, ErrNoTaskAvailable
		}
		return nil, err
	}
	return &task, nil
}

// CompleteCycle implements spec.md §4.6's post-cycle bookkeeping: increments
// cycles_completed, decides whether the task re-queues (more cycles budget
// remaining) or finishes (cycles exhausted or an error occurred), removes
// the queue entry on terminal status, and folds the cycle's duration into
// task_statistics. outcomeErr is nil on a clean cycle.
func (s *Store) CompleteCycle(ctx context.Context, taskID int64, duration time.Duration, outcomeErr error) (*Task, error) {
	var task Task
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &task, `SELECT * FROM user_task WHERE id = $1 FOR UPDATE`, taskID); err != nil {
			return fmt.Errorf("load task: %w", err)
		}

		task.CyclesCompleted++
		status := TaskQueued
		var errText *string
		if outcomeErr != nil {
			status = TaskFailed
			msg := outcomeErr.Error()
			errText = &msg
		} else if task.CyclesCompleted >= task.MaxCycles {
			status = TaskCompleted
		}

		now := time.Now()
		var completedAt *time.Time
		if status != TaskQueued {
			completedAt = &now
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE user_task
			SET status = $1, cycles_completed = $2, error_text = $3, processing_completed_at = $4
			WHERE id = $5`,
			status, task.CyclesCompleted, errText, completedAt, taskID,
		); err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if status == TaskQueued {
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_queue SET worker_id = NULL, started_at = NULL WHERE task_id = $1`,
				taskID,
			); err != nil {
				return fmt.Errorf("requeue task: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `DELETE FROM task_queue WHERE task_id = $1`, taskID); err != nil {
				return fmt.Errorf("dequeue task: %w", err)
			}
		}

		if err := updateStatisticsTx(ctx, tx, duration.Seconds(), outcomeErr != nil); err != nil {
			return err
		}

		task.Status = status
		task.ErrorText = errText
		task.ProcessingCompletedAt = completedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func updateStatisticsTx(ctx context.Context, tx *sqlx.Tx, seconds float64, failed bool) error {
	var stats TaskStatistics
	if err := tx.GetContext(ctx, &stats, `SELECT * FROM task_statistics WHERE id = 1 FOR UPDATE`); err != nil {
		return fmt.Errorf("load task_statistics: %w", err)
	}

	stats.TotalProcessed++
	stats.TotalProcessingSeconds += seconds
	stats.LastProcessingSeconds = &seconds
	if stats.MinProcessingSeconds == nil || seconds < *stats.MinProcessingSeconds {
		stats.MinProcessingSeconds = &seconds
	}
	if stats.MaxProcessingSeconds == nil || seconds > *stats.MaxProcessingSeconds {
		stats.MaxProcessingSeconds = &seconds
	}
	if failed {
		stats.TotalFailures++
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE task_statistics
		SET total_processed = $1, total_processing_seconds = $2,
			min_processing_seconds = $3, max_processing_seconds = $4,
			last_processing_seconds = $5, total_failures = $6
		WHERE id = 1`,
		stats.TotalProcessed, stats.TotalProcessingSeconds,
		stats.MinProcessingSeconds, stats.MaxProcessingSeconds,
		stats.LastProcessingSeconds, stats.TotalFailures,
	)
	if err != nil {
		return fmt.Errorf("update task_statistics: %w", err)
	}
	return nil
}

// QueueDepth counts every task currently waiting or being processed, used
// by the worker pool's Health() report.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM task_queue`); err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}

// ActiveProcessingCount counts tasks currently claimed by a worker, used to
// enforce the pool-wide concurrency ceiling independent of per-worker counts.
func (s *Store) ActiveProcessingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM user_task WHERE status = 'processing'`); err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return count, nil
}

// Statistics returns the current global processing-time snapshot, used by
// the scheduler to compute estimated_start for queue_position updates.
func (s *Store) Statistics(ctx context.Context) (*TaskStatistics, error) {
	var stats TaskStatistics
	if err := s.db.GetContext(ctx, &stats, `SELECT * FROM task_statistics WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("load task_statistics: %w", err)
	}
	return &stats, nil
}

// QueueDepthAhead counts queued tasks with priority/creation order before
// the given task, used to compute queue_position.
func (s *Store) QueueDepthAhead(ctx context.Context, taskID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM task_queue q1
		JOIN task_queue q2 ON q2.task_id = $1
		WHERE q1.priority < q2.priority
		   OR (q1.priority = q2.priority AND q1.created_at < q2.created_at)`,
		taskID,
	)
	if err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}

// UpdateEstimatedStart persists the scheduler's computed ETA for a queued task.
func (s *Store) UpdateEstimatedStart(ctx context.Context, taskID int64, eta time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_queue SET estimated_start = $1 WHERE task_id = $2`, eta, taskID)
	if err != nil {
		return fmt.Errorf("update estimated_start: %w", err)
	}
	return nil
}

// UserByID loads a single user by primary key.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM "user" WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// TaskByID loads a single task by primary key.
func (s *Store) TaskByID(ctx context.Context, id int64) (*Task, error) {
	var task Task
	err := s.db.GetContext(ctx, &task, `SELECT * FROM user_task WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return &task, nil
}

// CancelTask marks a non-terminal task cancelled and removes it from the
// queue, if present.
func (s *Store) CancelTask(ctx context.Context, taskID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE user_task SET status = 'cancelled', processing_completed_at = now()
			WHERE id = $1 AND status IN ('queued', 'processing', 'paused')`, taskID)
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %d not cancellable", taskID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_queue WHERE task_id = $1`, taskID); err != nil {
			return fmt.Errorf("dequeue cancelled task: %w", err)
		}
		return nil
	})
}

// ReclaimOrphans resets any task stuck in 'processing' whose queue entry was
// claimed longer than threshold ago back to 'queued' (the claiming worker's
// heartbeat is not consulted),
// per spec.md §4.6's orphan-recovery rule: orphans are recoverable, not
// failed, since the work itself may not have actually been lost.
func (s *Store) ReclaimOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_task t
		SET status = 'queued', processing_started_at = NULL
		FROM task_queue q
		WHERE q.task_id = t.id
		  AND t.status = 'processing'
		  AND q.started_at IS NOT NULL
		  AND q.started_at < $1`,
		time.Now().Add(-threshold),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim orphans: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE task_queue q
		SET worker_id = NULL, started_at = NULL
		FROM user_task t
		WHERE t.id = q.task_id AND t.status = 'queued' AND q.started_at < $1`,
		time.Now().Add(-threshold),
	); err != nil {
		return 0, fmt.Errorf("clear orphaned queue entries: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpsertAgentStatus records a worker heartbeat row in agent_status. The
// scheduler's worker loop does not call it, and Health() reports in-memory
// worker state rather than these rows.
func (s *Store) UpsertAgentStatus(ctx context.Context, workerID, status string, currentTaskID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status (worker_id, status, current_task_id, last_heartbeat)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (worker_id) DO UPDATE
			SET status = EXCLUDED.status,
				current_task_id = EXCLUDED.current_task_id,
				last_heartbeat = now()`,
		workerID, status, currentTaskID,
	)
	if err != nil {
		return fmt.Errorf("upsert agent_status: %w", err)
	}
	return nil
}

// AllAgentStatuses returns every worker's last reported heartbeat.
func (s *Store) AllAgentStatuses(ctx context.Context) ([]AgentStatus, error) {
	var statuses []AgentStatus
	if err := s.db.SelectContext(ctx, &statuses, `SELECT * FROM agent_status`); err != nil {
		return nil, fmt.Errorf("load agent_status: %w", err)
	}
	return statuses, nil
}

// UpsertPaper inserts a paper by source_id or returns the existing row,
// implementing the cross-cycle dedup rule from spec.md §4.3.
func (s *Store) UpsertPaper(ctx context.Context, p PaperRecord) (*PaperRecord, error) {
	var record PaperRecord
	err := s.db.GetContext(ctx, &record, `
		INSERT INTO arxiv_paper (source_id, title, abstract, categories, updated_at, abstract_url, pdf_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id) DO UPDATE SET source_id = EXCLUDED.source_id
		RETURNING *`,
		p.SourceID, p.Title, p.Abstract, p.Categories, p.UpdatedAt, p.AbstractURL, p.PDFURL,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert paper: %w", err)
	}
	return &record, nil
}

// PaperBySourceID looks up a paper by its source id, returning (nil, nil)
// if no such paper has ever been upserted, so callers can distinguish
// "never seen" from a lookup failure without a sentinel error.
func (s *Store) PaperBySourceID(ctx context.Context, sourceID string) (*PaperRecord, error) {
	var p PaperRecord
	err := s.db.GetContext(ctx, &p, `SELECT * FROM arxiv_paper WHERE source_id = $1`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load paper by source id: %w", err)
	}
	return &p, nil
}

// ExistingAnalysis checks whether a (paper, task) pair has already been
// analyzed, implementing the Open Question decision in spec.md §9: skip
// duplicate analysis rather than re-running the LLM for the same pair.
func (s *Store) ExistingAnalysis(ctx context.Context, paperID, taskID int64) (*Analysis, error) {
	var a Analysis
	err := s.db.GetContext(ctx, &a, `
		SELECT * FROM paper_analysis WHERE paper_id = $1 AND task_id = $2`, paperID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load existing analysis: %w", err)
	}
	return &a, nil
}

// RecordAnalysis persists one paper's Analysis-stage output for a task.
func (s *Store) RecordAnalysis(ctx context.Context, a Analysis) (*Analysis, error) {
	var record Analysis
	err := s.db.GetContext(ctx, &record, `
		INSERT INTO paper_analysis (paper_id, task_id, relevance, summary, key_fragments, reasoning, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (paper_id, task_id) DO UPDATE
			SET relevance = EXCLUDED.relevance, summary = EXCLUDED.summary,
				key_fragments = EXCLUDED.key_fragments, reasoning = EXCLUDED.reasoning,
				status = EXCLUDED.status
		RETURNING *`,
		a.PaperID, a.TaskID, a.Relevance, a.Summary, a.KeyFragments, a.Reasoning, a.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("record analysis: %w", err)
	}
	return &record, nil
}

// CreateFinding persists a Decision-stage selection and the paper it
// belongs to, returning the durable row.
func (s *Store) CreateFinding(ctx context.Context, taskID, paperID int64, relevance float64, summary string) (*Finding, error) {
	var finding Finding
	err := s.db.GetContext(ctx, &finding, `
		INSERT INTO finding (task_id, paper_id, relevance, summary)
		VALUES ($1, $2, $3, $4)
		RETURNING *`,
		taskID, paperID, relevance, summary,
	)
	if err != nil {
		return nil, fmt.Errorf("create finding: %w", err)
	}
	return &finding, nil
}

// FindingCountForTask counts every Finding ever recorded for a task, across
// its whole cycle history — used to decide the cycle-limit notification's
// wording (spec.md §8 scenario 3: a congratulatory message iff at least one
// Finding exists, a refinement suggestion otherwise).
func (s *Store) FindingCountForTask(ctx context.Context, taskID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM finding WHERE task_id = $1`, taskID); err != nil {
		return 0, fmt.Errorf("count findings for task: %w", err)
	}
	return count, nil
}

// PaperByID loads a single paper record.
func (s *Store) PaperByID(ctx context.Context, id int64) (*PaperRecord, error) {
	var p PaperRecord
	err := s.db.GetContext(ctx, &p, `SELECT * FROM arxiv_paper WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("load paper: %w", err)
	}
	return &p, nil
}

// EnqueueOutbound writes a durable outbound message row for the external
// chat component to deliver, implementing the core's only outbound contract
// (spec.md §6). The core never calls a chat API directly.
func (s *Store) EnqueueOutbound(ctx context.Context, kind, userExternalID, payload string) (*OutboundMessage, error) {
	var msg OutboundMessage
	err := s.db.GetContext(ctx, &msg, `
		INSERT INTO outbound_message (kind, user_external_id, payload_text)
		VALUES ($1, $2, $3)
		RETURNING *`,
		kind, userExternalID, payload,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue outbound message: %w", err)
	}
	return &msg, nil
}

// StartupCleanup runs once at process start: any task left 'processing' from
// a previous, uncleanly-terminated process is requeued, since its worker_id
// no longer corresponds to a live process.
func (s *Store) StartupCleanup(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_task SET status = 'queued', processing_started_at = NULL
		WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("startup cleanup: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE task_queue SET worker_id = NULL, started_at = NULL WHERE worker_id IS NOT NULL`); err != nil {
		return 0, fmt.Errorf("clear stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
