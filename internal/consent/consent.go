// Package consent maintains a per-purpose consent ledger persisted through
// the encrypted store. Reads default to deny: a purpose counts as granted
// only when a readable ledger explicitly says so.
package consent

import (
	"context"
	"log/slog"
	"time"

	"finvault/internal/audit"
	dErrors "finvault/pkg/domain-errors"
)

// LedgerKey is the single record under which the ledger is persisted.
const LedgerKey = "consent_ledger"

// Known processing purposes. Callers may record additional purposes; these
// cover the built-in surfaces.
const (
	PurposeAnalytics    = "analytics"
	PurposeCloudBackup  = "cloud_backup"
	PurposeMarketing    = "marketing"
	PurposeLocalStorage = "local_storage"
	PurposeDataExport   = "data_export"
)

// Record captures the user's current decision for one purpose.
type Record struct {
	Purpose     string     `json:"purpose"`
	Granted     bool       `json:"granted"`
	Timestamp   time.Time  `json:"timestamp"`
	Version     string     `json:"version"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
}

// Vault is the slice of the encrypted store the manager needs.
type Vault interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, out any) bool
}

// AuditPublisher records consent transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, action string, severity audit.Severity, details map[string]any) error
}

// Manager reads and writes the consent ledger.
type Manager struct {
	vault    Vault
	auditPub AuditPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
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

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(vault Vault, opts ...Option) *Manager {
	m := &Manager{vault: vault, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordConsent upserts the record for purpose. Granting clears any earlier
// withdrawal; recording granted=false marks the purpose withdrawn.
func (m *Manager) RecordConsent(ctx context.Context, purpose string, granted bool, version string) error {
	if purpose == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "consent purpose required")
	}

	ledger := m.ledger(ctx)
	rec := Record{
		Purpose:   purpose,
		Granted:   granted,
		Timestamp: m.now(),
		Version:   version,
	}
	if !granted {
		at := m.now()
		rec.WithdrawnAt = &at
	}
	ledger[purpose] = rec

	if err := m.vault.Set(ctx, LedgerKey, ledger); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not persist consent ledger")
	}

	action := audit.ActionConsentGranted
	if !granted {
		action = audit.ActionConsentWithdrawn
	}
	m.logAudit(ctx, action, map[string]any{
		"purpose": purpose,
		"version": version,
	})
	return nil
}

// CheckConsent reports whether purpose is currently granted. Any read
// failure, a missing ledger, or an unknown purpose all deny.
func (m *Manager) CheckConsent(ctx context.Context, purpose string) bool {
	rec, ok := m.ledger(ctx)[purpose]
	return ok && rec.Granted && rec.WithdrawnAt == nil
}

// WithdrawConsent marks purpose as withdrawn. Withdrawing a purpose that was
// never granted still records the refusal.
func (m *Manager) WithdrawConsent(ctx context.Context, purpose string) error {
	if purpose == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "consent purpose required")
	}

	ledger := m.ledger(ctx)
	rec := ledger[purpose]
	at := m.now()
	rec.Purpose = purpose
	rec.Granted = false
	rec.WithdrawnAt = &at
	if rec.Timestamp.IsZero() {
		rec.Timestamp = at
	}
	ledger[purpose] = rec

	if err := m.vault.Set(ctx, LedgerKey, ledger); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not persist consent ledger")
	}

	m.logAudit(ctx, audit.ActionConsentWithdrawn, map[string]any{
		"purpose": purpose,
	})
	return nil
}

// Records returns a copy of the full ledger for export surfaces.
func (m *Manager) Records(ctx context.Context) map[string]Record {
	return m.ledger(ctx)
}

func (m *Manager) ledger(ctx context.Context) map[string]Record {
	ledger := map[string]Record{}
	if !m.vault.Get(ctx, LedgerKey, &ledger) || ledger == nil {
		return map[string]Record{}
	}
	return ledger
}

func (m *Manager) logAudit(ctx context.Context, action string, details map[string]any) {
	if m.logger != nil {
		m.logger.InfoContext(ctx, action, "log_type", "audit", "details", details)
	}
	if m.auditPub == nil {
		return
	}
	if err := m.auditPub.Emit(ctx, action, audit.SeverityLow, details); err != nil && m.logger != nil {
		m.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
