// Package quota is the thin façade the scheduler and REST layer call to
// enforce admission, plan-based daily/concurrent caps, and sliding-window
// rate limits (spec.md §4.7). The bookkeeping itself — lazy counter reset,
// the three-window rate limiter, transactional concurrent-count reads —
// lives in pkg/store, grounded in the teacher's ent.Client-wrapping
// transaction pattern; this package only resolves plan/action config into
// the Store call's arguments and turns the result into a single
// human-readable denial reason for a caller that doesn't want to know about
// AdmissionResult/RateLimitCheck shapes.
package quota

import (
	"context"
	"fmt"

	"github.com/scholaragent/core/pkg/config"
	"github.com/scholaragent/core/pkg/store"
)

// Checker enforces admission and rate limits for one Store.
type Checker struct {
	store *store.Store
}

// New builds a Checker over st.
func New(st *store.Store) *Checker {
	return &Checker{store: st}
}

// CheckTaskAdmission applies spec.md §4.1's check_admission to user using
// its own plan-derived limits (daily_task_limit, concurrent_limit stamped
// on the row at creation time). ok is false with a human-readable reason on
// denial; no state is changed either way beyond the lazy daily-counter
// reset CheckAdmission performs internally.
func (c *Checker) CheckTaskAdmission(ctx context.Context, user store.User) (ok bool, reason string, err error) {
	result, err := c.store.CheckAdmission(ctx, user.ID, user.DailyTaskLimit, user.ConcurrentLimit, user.PlanExpiry, user.Banned)
	if err != nil {
		return false, "", fmt.Errorf("check admission: %w", err)
	}
	return result.Allowed, result.Reason, nil
}

// CheckRate applies spec.md §4.7's three-sliding-window rate limiter for
// one action kind, using the fixed per-action caps in pkg/config. An
// unrecognized action kind is always allowed (no caps configured for it).
func (c *Checker) CheckRate(ctx context.Context, userID int64, action string) (ok bool, reason string, err error) {
	limits, known := config.RateLimitFor(action)
	if !known {
		return true, "", nil
	}

	result, err := c.store.CheckAndIncrementRateLimit(ctx, userID, action, limits.PerMinute, limits.PerHour, limits.PerDay)
	if err != nil {
		return false, "", fmt.Errorf("check rate limit: %w", err)
	}
	if result.Allowed {
		return true, "", nil
	}
	return false, fmt.Sprintf("Rate limit exceeded: %d %s per %s", result.Limit, action, result.Window), nil
}
