// Package compliance is the facade for data-subject operations: full export,
// full erasure, and a read-only data-minimization review. It works entirely
// through the encrypted store and the audit trail.
package compliance

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"finvault/internal/audit"
	"finvault/internal/backup"
	"finvault/internal/consent"
	"finvault/internal/platform/metrics"
	"finvault/internal/vault"
	dErrors "finvault/pkg/domain-errors"
)

const (
	exportPurpose   = "data_portability_request"
	exportBasis     = "user_request"
	exportRetention = "generated on demand, not retained"

	recentAuditLimit = 20
)

// erasureCatalogue lists the reserved keys every erasure must visit even when
// key enumeration fails. Discovered namespaced keys are added to this set.
var erasureCatalogue = []string{
	"assets",
	"settings",
	"metadata",
	consent.LedgerKey,
	backup.RingKey,
	backup.LastBackupKey,
}

// Vault is the slice of the encrypted store the facade needs.
type Vault interface {
	ListKeys(ctx context.Context) ([]string, error)
	GetRaw(ctx context.Context, key string) (json.RawMessage, bool)
	Remove(ctx context.Context, key string) error
	Stats(ctx context.Context) (vault.Stats, error)
}

// Limiter is reset as part of erasure so stale windows do not outlive the data.
type Limiter interface {
	ResetAll()
}

// AuditTrail is the audit surface the facade reads, clears, and writes.
type AuditTrail interface {
	Emit(ctx context.Context, action string, severity audit.Severity, details map[string]any) error
	Recent(ctx context.Context, n int) ([]audit.Event, error)
	Clear(ctx context.Context) error
}

// Service implements the compliance facade.
type Service struct {
	vault   Vault
	limiter Limiter
	trail   AuditTrail
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(v Vault, limiter Limiter, trail AuditTrail, opts ...Option) (*Service, error) {
	if v == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "vault is required")
	}
	if trail == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit trail is required")
	}
	s := &Service{vault: v, limiter: limiter, trail: trail, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ExportAllData decrypts every namespaced record into a portable bundle.
// The export is read-only: nothing is mutated or deleted.
func (s *Service) ExportAllData(ctx context.Context) (*ExportBundle, error) {
	started := s.now()
	s.logAudit(ctx, audit.ActionExportRequested, audit.SeverityMedium, nil)

	keys, err := s.vault.ListKeys(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not enumerate records for export")
	}

	userData := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		raw, ok := s.vault.GetRaw(ctx, key)
		if !ok {
			// Unreadable records are already audited by the store; the
			// export carries what can still be decrypted.
			continue
		}
		userData[key] = raw
	}

	stats, err := s.vault.Stats(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not collect storage stats")
	}
	recent, err := s.trail.Recent(ctx, recentAuditLimit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not collect recent audit events")
	}

	bundle := &ExportBundle{
		ExportInfo: ExportInfo{
			ExportID:        uuid.New(),
			GeneratedAt:     s.now(),
			Purpose:         exportPurpose,
			LegalBasis:      exportBasis,
			RetentionPolicy: exportRetention,
		},
		UserData: userData,
		TechnicalData: TechnicalData{
			Stats:             stats,
			RecentAuditEvents: recent,
		},
	}

	if s.metrics != nil {
		s.metrics.ObserveExportDuration(s.now().Sub(started).Seconds())
	}
	s.logAudit(ctx, audit.ActionExportCompleted, audit.SeverityMedium, map[string]any{
		"export_id": bundle.ExportInfo.ExportID.String(),
		"keys":      len(userData),
	})
	return bundle, nil
}

// EraseAllData removes every catalogued and discovered record, resets the
// rate limiter, and clears the audit trail last. Each key is attempted
// exactly once; failures are collected rather than aborting, and a partial
// erasure is reported through the returned error.
func (s *Service) EraseAllData(ctx context.Context, reason string) error {
	s.logAudit(ctx, audit.ActionErasureRequested, audit.SeverityHigh, map[string]any{
		"reason": reason,
	})

	keys := s.erasureKeys(ctx)
	var failed []dErrors.KeyFailure
	for _, key := range keys {
		if err := s.vault.Remove(ctx, key); err != nil {
			failed = append(failed, dErrors.KeyFailure{Key: key, Reason: err.Error()})
			if s.metrics != nil {
				s.metrics.IncErasureKeyFailure()
			}
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "could not erase record", "key", key, "error", err)
			}
		}
	}

	if s.limiter != nil {
		s.limiter.ResetAll()
	}

	// The trail is cleared last so it still documents the erasure while
	// records are being removed; the completion event below is the first
	// entry of the fresh trail.
	if err := s.trail.Clear(ctx); err != nil {
		failed = append(failed, dErrors.KeyFailure{Key: "audit_log", Reason: err.Error()})
	}

	s.logAudit(ctx, audit.ActionErasureCompleted, audit.SeverityHigh, map[string]any{
		"reason":      reason,
		"keys":        len(keys),
		"failed_keys": len(failed),
	})

	if len(failed) > 0 {
		return dErrors.NewPartialErasure(failed)
	}
	return nil
}

// erasureKeys unions the fixed catalogue with every discovered namespaced
// key, each exactly once, in deterministic order.
func (s *Service) erasureKeys(ctx context.Context) []string {
	seen := make(map[string]bool, len(erasureCatalogue))
	keys := make([]string, 0, len(erasureCatalogue))
	for _, key := range erasureCatalogue {
		seen[key] = true
		keys = append(keys, key)
	}

	discovered, err := s.vault.ListKeys(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "could not enumerate keys, erasing fixed catalogue only", "error", err)
		}
		return keys
	}
	var extra []string
	for _, key := range discovered {
		if !seen[key] {
			seen[key] = true
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func (s *Service) logAudit(ctx context.Context, action string, severity audit.Severity, details map[string]any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, action, "log_type", "audit", "details", details)
	}
	if err := s.trail.Emit(ctx, action, severity, details); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
