// Package codec produces portable encrypted backup blobs, independent of the
// encrypted store: the caller supplies the payload, and the blob can travel
// between devices when protected by a passphrase.
package codec

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"finvault/internal/audit"
	"finvault/internal/keyring"
	"finvault/internal/ratelimit"
	dErrors "finvault/pkg/domain-errors"
)

// Blob framing: prefix, passphrase salt, sealed wrapper; dot-separated,
// base64url, text-safe.
const (
	blobPrefix = "FV1"
	saltSize   = 16
	appName    = "finvault"
)

// wrapper is the plaintext structure sealed into a blob.
type wrapper struct {
	Version   string          `json:"version"`
	CreatedAt time.Time       `json:"created"`
	App       string          `json:"app"`
	Integrity string          `json:"integrity"`
	Payload   json.RawMessage `json:"payload"`
}

// Limiter guards the export/restore budgets.
type Limiter interface {
	Allow(action string) ratelimit.Result
}

// AuditPublisher records export/restore events.
type AuditPublisher interface {
	Emit(ctx context.Context, action string, severity audit.Severity, details map[string]any) error
}

// Codec seals and opens portable backup blobs.
type Codec struct {
	keys     *keyring.Keyring
	limiter  Limiter
	auditPub AuditPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}

func WithAuditPublisher(pub AuditPublisher) Option {
	return func(c *Codec) {
		c.auditPub = pub
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func New(keys *keyring.Keyring, limiter Limiter, opts ...Option) *Codec {
	c := &Codec{keys: keys, limiter: limiter, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create wraps payload with metadata and an integrity digest, seals it with a
// passphrase-derived key (or the device key when passphrase is empty), and
// returns a text-safe blob. Consumes the backup_export budget.
func (c *Codec) Create(ctx context.Context, payload any, passphrase string) (string, error) {
	if res := c.limiter.Allow(ratelimit.ActionBackupExport); !res.Allowed {
		return "", dErrors.New(dErrors.CodeRateLimit, "backup export budget exhausted")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload is not serializable")
	}

	sum := sha256.Sum256(payloadJSON)
	w := wrapper{
		Version:   "1",
		CreatedAt: c.now(),
		App:       appName,
		Integrity: hex.EncodeToString(sum[:]),
		Payload:   payloadJSON,
	}
	plaintext, err := json.Marshal(w)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not encode wrapper")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate salt")
	}
	key := c.key(passphrase, salt)

	sealed, err := keyring.Seal(key, plaintext, []byte(blobPrefix))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeEncryption, "could not seal backup blob")
	}

	blob := strings.Join([]string{
		blobPrefix,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(sealed),
	}, ".")

	c.logAudit(ctx, audit.ActionBackupExported, map[string]any{
		"size_bytes":  len(payloadJSON),
		"passphrase":  passphrase != "",
		"blob_length": len(blob),
	})
	return blob, nil
}

// Restore decodes, opens, and verifies a blob, returning the payload only
// when decryption and integrity both succeed. Each failure mode carries a
// distinct error code. Consumes the backup_restore budget.
func (c *Codec) Restore(ctx context.Context, blob, passphrase string) (json.RawMessage, error) {
	if res := c.limiter.Allow(ratelimit.ActionBackupRestore); !res.Allowed {
		return nil, dErrors.New(dErrors.CodeRateLimit, "backup restore budget exhausted")
	}

	parts := strings.Split(strings.TrimSpace(blob), ".")
	if len(parts) != 3 || parts[0] != blobPrefix {
		return nil, dErrors.New(dErrors.CodeMalformedBlob, "unrecognized backup blob framing")
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(salt) != saltSize {
		return nil, dErrors.New(dErrors.CodeMalformedBlob, "backup blob salt does not decode")
	}
	sealed, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, dErrors.New(dErrors.CodeMalformedBlob, "backup blob body does not decode")
	}

	key := c.key(passphrase, salt)
	plaintext, err := keyring.Open(key, sealed, []byte(blobPrefix))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecryption, "could not open backup blob")
	}

	var w wrapper
	if err := json.Unmarshal(plaintext, &w); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedBlob, "backup wrapper does not decode")
	}

	sum := sha256.Sum256(w.Payload)
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(w.Integrity)) != 1 {
		return nil, dErrors.New(dErrors.CodeIntegrity, "backup payload integrity mismatch")
	}

	c.logAudit(ctx, audit.ActionBackupRestored, map[string]any{
		"created":    w.CreatedAt,
		"size_bytes": len(w.Payload),
	})
	return w.Payload, nil
}

func (c *Codec) key(passphrase string, salt []byte) keyring.Material {
	if passphrase == "" {
		return c.keys.Material()
	}
	return keyring.FromPassphrase(passphrase, salt)
}

func (c *Codec) logAudit(ctx context.Context, action string, details map[string]any) {
	if c.logger != nil {
		c.logger.InfoContext(ctx, action, "log_type", "audit", "details", details)
	}
	if c.auditPub == nil {
		return
	}
	if err := c.auditPub.Emit(ctx, action, audit.SeverityLow, details); err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
