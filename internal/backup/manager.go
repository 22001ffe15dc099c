// Package backup maintains the rotating snapshot ring: scheduled ticks with
// change detection, manual triggers that bypass it, bounded retries, and
// count- and age-based eviction. Scheduled failures are logged, never
// propagated; manual failures surface to the caller as domain errors.
package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"finvault/internal/audit"
	"finvault/internal/platform/config"
	"finvault/internal/platform/metrics"
	"finvault/internal/ratelimit"
	dErrors "finvault/pkg/domain-errors"
)

// Reserved keys in the encrypted store.
const (
	RingKey       = "backups"
	LastBackupKey = "last_backup_at"
)

// Vault is the slice of the encrypted store the manager persists through.
type Vault interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, out any) bool
}

// SnapshotProvider supplies the application state to back up.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (Payload, error)
}

// Limiter guards the backup_create budget.
type Limiter interface {
	Allow(action string) ratelimit.Result
}

// AuditPublisher records backup lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, action string, severity audit.Severity, details map[string]any) error
}

// Manager owns the backup ring and its scheduler.
type Manager struct {
	vault    Vault
	provider SnapshotProvider
	limiter  Limiter
	auditPub AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error

	cfgMu sync.RWMutex
	cfg   config.Config

	// mu guards ring state: last committed entry and last backup time.
	mu           sync.Mutex
	last         *Entry
	lastBackupAt time.Time

	// scheduler state
	schedMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithAuditPublisher(pub AuditPublisher) Option {
	return func(m *Manager) {
		m.auditPub = pub
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSleeper replaces the retry backoff sleeper, for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// New creates a Manager. The ring is lazily loaded from the vault on first
// use, so a fresh process resumes the persisted ring.
func New(v Vault, provider SnapshotProvider, limiter Limiter, cfg config.Config, opts ...Option) *Manager {
	m := &Manager{
		vault:    v,
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins scheduled backups. With a non-positive interval the manager is
// suspended: no ticker runs and any previous one is canceled.
func (m *Manager) Start() {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()

	m.stopLocked()

	interval := m.config().BackupInterval
	if interval <= 0 {
		if m.logger != nil {
			m.logger.Info("backup scheduler suspended", "interval", interval.String())
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx, interval)
}

// run is the scheduler loop.
func (m *Manager) run(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// Stop cancels any pending tick and waits for an in-flight run to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.schedMu.Lock()
	m.stopLocked()
	m.schedMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopLocked releases the current timer handle. Safe on every exit path,
// including mid-flight reconfiguration.
func (m *Manager) stopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Reconfigure swaps the configuration and restarts (or suspends) the
// scheduler accordingly.
func (m *Manager) Reconfigure(cfg config.Config) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
	m.Start()
}

func (m *Manager) config() config.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// RunOnce performs one scheduled backup evaluation. All failures end here:
// they are retried, then logged and audited, never returned.
func (m *Manager) RunOnce(ctx context.Context) {
	cfg := m.config()

	payload, err := m.provider.Snapshot(ctx)
	if err != nil {
		m.backupFailed(ctx, "scheduled", "snapshot provider failed", err)
		return
	}
	candidate, err := newEntry(payload, cfg.Compression, m.now())
	if err != nil {
		m.backupFailed(ctx, "scheduled", "snapshot not serializable", err)
		return
	}

	m.mu.Lock()
	last := m.loadLastLocked(ctx)
	if !shouldBackup(candidate, last, cfg.SizeThreshold) {
		m.purgeExpiredLocked(ctx, cfg)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.IncBackupRun("scheduled", "skipped")
		}
		m.logAudit(ctx, audit.ActionBackupSkipped, audit.SeverityLow, map[string]any{
			"checksum": candidate.Checksum,
			"size":     candidate.SizeBytes,
		})
		return
	}
	m.mu.Unlock()

	commit := func() error {
		return m.commit(ctx, candidate, cfg)
	}
	onRetry := func(attempt int, err error) {
		if m.metrics != nil {
			m.metrics.IncBackupRetry()
		}
		if m.logger != nil {
			m.logger.WarnContext(ctx, "backup attempt failed, retrying",
				"attempt", attempt,
				"error", err,
			)
		}
	}
	if err := withRetries(ctx, m.sleep, onRetry, commit); err != nil {
		m.backupFailed(ctx, "scheduled", "backup not committed after retries", err)
		return
	}

	if m.metrics != nil {
		m.metrics.IncBackupRun("scheduled", "success")
		m.metrics.ObserveBackupSize(candidate.SizeBytes)
	}
	m.logAudit(ctx, audit.ActionBackupCreated, audit.SeverityLow, map[string]any{
		"trigger": "scheduled",
		"size":    candidate.SizeBytes,
	})
}

// BackupNow creates a backup unconditionally, bypassing change detection.
// Unlike scheduled runs, failures surface to the caller.
func (m *Manager) BackupNow(ctx context.Context) (*Entry, error) {
	cfg := m.config()

	payload, err := m.provider.Snapshot(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "snapshot provider failed")
	}
	entry, err := newEntry(payload, cfg.Compression, m.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "snapshot not serializable")
	}

	if err := m.commit(ctx, entry, cfg); err != nil {
		if m.metrics != nil {
			m.metrics.IncBackupRun("manual", "failure")
		}
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.IncBackupRun("manual", "success")
		m.metrics.ObserveBackupSize(entry.SizeBytes)
	}
	m.logAudit(ctx, audit.ActionBackupCreated, audit.SeverityLow, map[string]any{
		"trigger": "manual",
		"size":    entry.SizeBytes,
	})
	return &entry, nil
}

// shouldBackup gates scheduled backups: commit when nothing was committed
// before, the size moved past the threshold, or the content checksum changed.
func shouldBackup(candidate Entry, last *Entry, sizeThreshold int) bool {
	if last == nil {
		return true
	}
	delta := candidate.SizeBytes - last.SizeBytes
	if delta < 0 {
		delta = -delta
	}
	if delta >= sizeThreshold {
		return true
	}
	return candidate.Checksum != last.Checksum
}

// commit persists the entry at the head of the ring, trims and purges, and
// advances the last-backup timestamp. It consumes the backup_create budget.
func (m *Manager) commit(ctx context.Context, entry Entry, cfg config.Config) error {
	if res := m.limiter.Allow(ratelimit.ActionBackupCreate); !res.Allowed {
		if m.metrics != nil {
			m.metrics.IncRateLimitRejection(ratelimit.ActionBackupCreate)
		}
		return dErrors.New(dErrors.CodeRateLimit, "backup budget exhausted")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.loadRingLocked(ctx)
	entries = prepend(entries, entry)
	entries = prune(entries, cfg.MaxBackups, m.now().Add(-cfg.Retention()))

	if err := m.vault.Set(ctx, RingKey, entries); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not persist backup ring")
	}

	m.last = &entry
	m.lastBackupAt = m.now()
	// Best-effort: the authoritative ring is already committed.
	if err := m.vault.Set(ctx, LastBackupKey, m.lastBackupAt); err != nil && m.logger != nil {
		m.logger.WarnContext(ctx, "could not persist last backup timestamp", "error", err)
	}
	return nil
}

// purgeExpiredLocked evicts entries past the retention horizon on ticks that
// commit nothing, so an unchanged payload cannot pin expired snapshots.
func (m *Manager) purgeExpiredLocked(ctx context.Context, cfg config.Config) {
	entries := m.loadRingLocked(ctx)
	kept := prune(entries, cfg.MaxBackups, m.now().Add(-cfg.Retention()))
	if len(kept) == len(entries) {
		return
	}
	if err := m.vault.Set(ctx, RingKey, kept); err != nil && m.logger != nil {
		m.logger.WarnContext(ctx, "could not persist pruned backup ring", "error", err)
	}
}

// List returns the current ring, newest first.
func (m *Manager) List(ctx context.Context) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry{}, m.loadRingLocked(ctx)...)
}

// LastBackupAt reports when the last entry was committed; zero when none.
func (m *Manager) LastBackupAt(ctx context.Context) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastBackupAt.IsZero() {
		var t time.Time
		if m.vault.Get(ctx, LastBackupKey, &t) {
			m.lastBackupAt = t
		}
	}
	return m.lastBackupAt
}

func (m *Manager) loadRingLocked(ctx context.Context) []Entry {
	var entries []Entry
	m.vault.Get(ctx, RingKey, &entries)
	return entries
}

// loadLastLocked resolves the last committed entry, falling back to the
// persisted ring after a restart.
func (m *Manager) loadLastLocked(ctx context.Context) *Entry {
	if m.last != nil {
		return m.last
	}
	entries := m.loadRingLocked(ctx)
	if len(entries) == 0 {
		return nil
	}
	m.last = &entries[0]
	return m.last
}

func (m *Manager) backupFailed(ctx context.Context, trigger, msg string, err error) {
	if m.metrics != nil {
		m.metrics.IncBackupRun(trigger, "failure")
	}
	if m.logger != nil {
		m.logger.ErrorContext(ctx, msg, "trigger", trigger, "error", err)
	}
	m.logAudit(ctx, audit.ActionBackupFailed, audit.SeverityMedium, map[string]any{
		"trigger": trigger,
		"reason":  msg,
	})
}

func (m *Manager) logAudit(ctx context.Context, action string, severity audit.Severity, details map[string]any) {
	if m.logger != nil {
		m.logger.InfoContext(ctx, action,
			"log_type", "audit",
			"severity", string(severity),
			"details", details,
		)
	}
	if m.auditPub == nil {
		return
	}
	if err := m.auditPub.Emit(ctx, action, severity, details); err != nil && m.logger != nil {
		m.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
