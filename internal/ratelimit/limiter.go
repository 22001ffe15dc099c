// Package ratelimit implements the fixed-window call budgets shared by all
// write-like operations. State is session-scoped and never persisted;
// exceeding a budget rejects the call outright, there is no queuing.
package ratelimit

import (
	"sync"
	"time"

	"finvault/internal/platform/config"
)

// Known action names.
const (
	ActionStorageWrite  = "storage_write"
	ActionBackupCreate  = "backup_create"
	ActionBackupExport  = "backup_export"
	ActionBackupRestore = "backup_restore"
)

// Result reports the outcome of a budget check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// window is the fixed-window counter for one action.
type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks one fixed window per action name.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	budgets func(action string) config.Budget
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter drawing per-action budgets from cfg.
func New(cfg config.Config, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		budgets: cfg.Budget,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one call from the action's budget. A new or expired window
// starts at count 1 and allows; within a live window calls are allowed until
// the budget is spent, then rejected until the window resets.
func (l *Limiter) Allow(action string) Result {
	budget := l.budgets(action)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[action]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(budget.Window)}
		l.windows[action] = w
		return Result{
			Allowed:   true,
			Limit:     budget.Max,
			Remaining: budget.Max - 1,
			ResetAt:   w.resetAt,
		}
	}

	if w.count < budget.Max {
		w.count++
		return Result{
			Allowed:   true,
			Limit:     budget.Max,
			Remaining: budget.Max - w.count,
			ResetAt:   w.resetAt,
		}
	}

	return Result{
		Allowed:    false,
		Limit:      budget.Max,
		Remaining:  0,
		ResetAt:    w.resetAt,
		RetryAfter: w.resetAt.Sub(now),
	}
}

// Reset clears the window for one action.
func (l *Limiter) Reset(action string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, action)
}

// ResetAll clears all windows. Invoked during compliance erasure so no
// ephemeral per-action state survives.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}
