// Package vault is the envelope-based encrypted store. Values are serialized,
// wrapped with an integrity digest, sealed with the device key, and written to
// the injected key-value capability under a namespace prefix.
//
// Reads favor availability: a record that cannot be decrypted or fails its
// integrity check yields the caller's default and an audit event, never an
// error.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"finvault/internal/audit"
	"finvault/internal/keyring"
	"finvault/internal/kvstore"
	"finvault/internal/platform/metrics"
	"finvault/internal/ratelimit"
	"finvault/internal/sentinel"
	dErrors "finvault/pkg/domain-errors"
)

// DefaultNamespace prefixes every key this subsystem owns within the shared
// substrate.
const DefaultNamespace = "finvault"

// Limiter is the call-budget guard consulted before every write.
type Limiter interface {
	Allow(action string) ratelimit.Result
}

// AuditPublisher records audit events for storage operations.
type AuditPublisher interface {
	Emit(ctx context.Context, action string, severity audit.Severity, details map[string]any) error
}

// Stats summarizes substrate usage.
type Stats struct {
	TotalKeys      int `json:"total_keys"`
	NamespacedKeys int `json:"namespaced_keys"`
	TotalSizeBytes int `json:"total_size_bytes"`
}

// Service is the encrypted store.
type Service struct {
	kv        kvstore.Store
	key       keyring.Material
	limiter   Limiter
	auditPub  AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	namespace string
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(pub AuditPublisher) Option {
	return func(s *Service) {
		s.auditPub = pub
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNamespace(ns string) Option {
	return func(s *Service) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(kv kvstore.Store, key keyring.Material, limiter Limiter, opts ...Option) (*Service, error) {
	if kv == nil {
		return nil, errors.New("key-value store is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}

	s := &Service{
		kv:        kv,
		key:       key,
		limiter:   limiter,
		namespace: DefaultNamespace,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Namespace returns the key prefix this store owns.
func (s *Service) Namespace() string {
	return s.namespace
}

func (s *Service) namespacedKey(key string) string {
	return s.namespace + ":" + key
}

// Set serializes value, wraps it in an integrity envelope, seals it with the
// device key, and writes the ciphertext. Consumes the storage_write budget.
func (s *Service) Set(ctx context.Context, key string, value any) error {
	ctx, span := startSpan(ctx, "vault.Set")
	defer span.End()

	if strings.TrimSpace(key) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "key must not be empty")
	}

	if res := s.limiter.Allow(ratelimit.ActionStorageWrite); !res.Allowed {
		s.incOp("set", "rate_limited")
		if s.metrics != nil {
			s.metrics.IncRateLimitRejection(ratelimit.ActionStorageWrite)
		}
		s.logAudit(ctx, audit.ActionRateLimitExceeded, audit.SeverityMedium, map[string]any{
			"action":      ratelimit.ActionStorageWrite,
			"retry_after": res.RetryAfter.String(),
		})
		return dErrors.New(dErrors.CodeRateLimit, "storage write budget exhausted")
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.incOp("set", "error")
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "value is not serializable")
	}

	env := newEnvelope(string(data), s.now())
	plaintext, err := json.Marshal(env)
	if err != nil {
		s.incOp("set", "error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not encode envelope")
	}

	nsKey := s.namespacedKey(key)
	sealed, err := keyring.Seal(s.key, plaintext, []byte(nsKey))
	if err != nil {
		s.incOp("set", "error")
		recordSpanError(span, err)
		return dErrors.Wrap(err, dErrors.CodeEncryption, "could not seal envelope")
	}

	if err := s.kv.Set(ctx, nsKey, base64.StdEncoding.EncodeToString(sealed)); err != nil {
		s.incOp("set", "error")
		recordSpanError(span, err)
		if errors.Is(err, sentinel.ErrQuotaExceeded) {
			return dErrors.Wrap(err, dErrors.CodeStorageQuota, "storage quota exceeded")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not persist record")
	}

	s.incOp("set", "success")
	s.logAudit(ctx, audit.ActionStorageWrite, audit.SeverityLow, map[string]any{
		"key":        key,
		"size_bytes": len(data),
	})
	return nil
}

// Get decrypts the record under key into out. It returns true only when a
// verified record was decoded; any failure (missing key, wrong key, corrupted
// bytes, integrity mismatch) leaves out untouched and returns false so the
// caller keeps its default. Get never returns an error.
func (s *Service) Get(ctx context.Context, key string, out any) bool {
	raw, ok := s.GetRaw(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.readFallback(ctx, key, audit.ActionStorageReadFailed, audit.SeverityMedium, "stored value does not decode")
		return false
	}
	s.incOp("get", "success")
	return true
}

// GetRaw is Get without the final decode step: it returns the verified
// serialized value. Used by the compliance export.
func (s *Service) GetRaw(ctx context.Context, key string) (json.RawMessage, bool) {
	ctx, span := startSpan(ctx, "vault.Get")
	defer span.End()

	nsKey := s.namespacedKey(key)
	stored, err := s.kv.Get(ctx, nsKey)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.readFallback(ctx, key, audit.ActionStorageReadFailed, audit.SeverityMedium, "substrate read failed")
		}
		return nil, false
	}

	res := s.openRecord(nsKey, stored)
	if !res.ok {
		recordSpanError(span, errors.New(res.reason))
		s.readFallback(ctx, key, res.action, res.severity, res.reason)
		return nil, false
	}
	if res.env.SchemaVersion != SchemaVersion {
		// Tolerated: old records remain readable across upgrades.
		s.logAudit(ctx, audit.ActionSchemaVersionMismatch, audit.SeverityLow, map[string]any{
			"key":    key,
			"stored": res.env.SchemaVersion,
			"expect": SchemaVersion,
		})
	}
	return json.RawMessage(res.env.Data), true
}

// Read returns the value stored under key, or def when the record is missing
// or unreadable.
func Read[T any](ctx context.Context, s *Service, key string, def T) T {
	var v T
	if s.Get(ctx, key, &v) {
		return v
	}
	return def
}

// openResult makes decryption and integrity failure an ordinary branch of the
// read path rather than an error to propagate.
type openResult struct {
	env      Envelope
	ok       bool
	action   string
	severity audit.Severity
	reason   string
}

func (s *Service) openRecord(nsKey, stored string) openResult {
	failure := func(action string, severity audit.Severity, reason string) openResult {
		return openResult{action: action, severity: severity, reason: reason}
	}

	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return failure(audit.ActionDecryptionFailure, audit.SeverityHigh, "stored record is not valid base64")
	}
	plaintext, err := keyring.Open(s.key, sealed, []byte(nsKey))
	if err != nil {
		return failure(audit.ActionDecryptionFailure, audit.SeverityHigh, "could not open envelope")
	}
	var env Envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return failure(audit.ActionDecryptionFailure, audit.SeverityHigh, "envelope does not decode")
	}
	if !env.verifyIntegrity() {
		return failure(audit.ActionIntegrityMismatch, audit.SeverityHigh, "integrity digest mismatch")
	}
	return openResult{env: env, ok: true}
}

// Remove deletes the record under key. Removing a missing key is a no-op.
func (s *Service) Remove(ctx context.Context, key string) error {
	if err := s.kv.Remove(ctx, s.namespacedKey(key)); err != nil {
		s.incOp("remove", "error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not remove record")
	}
	s.incOp("remove", "success")
	return nil
}

// Clear deletes every key under the namespace prefix. Co-located unrelated
// data is never touched.
func (s *Service) Clear(ctx context.Context) error {
	keys, err := s.kv.ListKeys(ctx, s.namespace+":")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not list namespaced keys")
	}
	for _, k := range keys {
		if err := s.kv.Remove(ctx, k); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "could not remove record")
		}
	}
	return nil
}

// ListKeys returns the un-prefixed names of all namespaced records.
func (s *Service) ListKeys(ctx context.Context) ([]string, error) {
	prefix := s.namespace + ":"
	keys, err := s.kv.ListKeys(ctx, prefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not list namespaced keys")
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, prefix))
	}
	return names, nil
}

// VerifyIntegrity reports whether the record under key decrypts and passes
// its integrity check. It exposes no plaintext and never returns an error.
func (s *Service) VerifyIntegrity(ctx context.Context, key string) bool {
	nsKey := s.namespacedKey(key)
	stored, err := s.kv.Get(ctx, nsKey)
	if err != nil {
		return false
	}
	return s.openRecord(nsKey, stored).ok
}

// Stats reports substrate usage. Sizes are ciphertext sizes as stored.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.kv.ListKeys(ctx, "")
	if err != nil {
		return Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not list keys")
	}
	st := Stats{TotalKeys: len(all)}
	for _, k := range all {
		if !strings.HasPrefix(k, s.namespace+":") {
			continue
		}
		st.NamespacedKeys++
		if v, err := s.kv.Get(ctx, k); err == nil {
			st.TotalSizeBytes += len(v)
		}
	}
	return st, nil
}

func (s *Service) readFallback(ctx context.Context, key, action string, severity audit.Severity, reason string) {
	s.incOp("get", "fallback")
	if s.metrics != nil {
		s.metrics.IncReadFallback()
	}
	s.logAudit(ctx, action, severity, map[string]any{
		"key":    key,
		"reason": reason,
	})
}

func (s *Service) incOp(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.IncStorageOp(operation, outcome)
	}
}

// logAudit emits an audit event for storage operations.
func (s *Service) logAudit(ctx context.Context, action string, severity audit.Severity, details map[string]any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, action,
			"log_type", "audit",
			"severity", string(severity),
			"details", details,
		)
	}
	if s.auditPub == nil {
		return
	}
	if err := s.auditPub.Emit(ctx, action, severity, details); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
