package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvault/internal/audit"
	"finvault/internal/keyring"
	"finvault/internal/kvstore"
	"finvault/internal/platform/config"
	"finvault/internal/ratelimit"
	dErrors "finvault/pkg/domain-errors"
)

type testVault struct {
	svc    *Service
	kv     *kvstore.InMemoryStore
	events *audit.InMemoryStore
	key    keyring.Material
}

func newTestVault(t *testing.T, opts ...Option) *testVault {
	t.Helper()
	kv := kvstore.NewInMemoryStore()
	events := audit.NewInMemoryStore()
	key := keyring.Derive([]string{"test-device"})

	cfg := config.FromEnv()
	limiter := ratelimit.New(cfg)

	opts = append([]Option{WithAuditPublisher(audit.NewPublisher(events))}, opts...)
	svc, err := New(kv, key, limiter, opts...)
	require.NoError(t, err)
	return &testVault{svc: svc, kv: kv, events: events, key: key}
}

func (v *testVault) actions(t *testing.T) []string {
	t.Helper()
	events, err := v.events.List(context.Background(), 0)
	require.NoError(t, err)
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Action
	}
	return names
}

type position struct {
	ID     int     `json:"id"`
	Amount float64 `json:"amount"`
}

func TestSetGetRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	stored := map[string][]position{"cash": {{ID: 1, Amount: 1000}}}
	require.NoError(t, v.svc.Set(ctx, "assets", stored))

	got := Read(ctx, v.svc, "assets", map[string][]position{})
	assert.Equal(t, stored, got)

	// Ciphertext at rest, not plaintext.
	raw, err := v.kv.Get(ctx, "finvault:assets")
	require.NoError(t, err)
	assert.NotContains(t, raw, "1000")
	assert.Contains(t, v.actions(t), audit.ActionStorageWrite)
}

func TestGetMissingKeyReturnsDefault(t *testing.T) {
	v := newTestVault(t)

	got := Read(context.Background(), v.svc, "absent", []position{{ID: 9}})
	assert.Equal(t, []position{{ID: 9}}, got)
	// A plain miss is not an audit-worthy failure.
	assert.Empty(t, v.actions(t))
}

func TestGetCorruptedCiphertextDegradesToDefault(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.svc.Set(ctx, "assets", []position{{ID: 1, Amount: 42}}))

	stored, err := v.kv.Get(ctx, "finvault:assets")
	require.NoError(t, err)
	sealed, err := base64.StdEncoding.DecodeString(stored)
	require.NoError(t, err)
	sealed[len(sealed)/2] ^= 0x01
	require.NoError(t, v.kv.Set(ctx, "finvault:assets", base64.StdEncoding.EncodeToString(sealed)))

	got := Read(ctx, v.svc, "assets", []position{})
	assert.Empty(t, got)
	assert.Contains(t, v.actions(t), audit.ActionDecryptionFailure)
	assert.False(t, v.svc.VerifyIntegrity(ctx, "assets"))
}

func TestGetWrongKeyDegradesToDefault(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.svc.Set(ctx, "settings", map[string]string{"currency": "EUR"}))

	// Same substrate, different device signals: the old record is unreadable.
	cfg := config.FromEnv()
	other, err := New(v.kv, keyring.Derive([]string{"other-device"}), ratelimit.New(cfg),
		WithAuditPublisher(audit.NewPublisher(v.events)))
	require.NoError(t, err)

	got := Read(ctx, other, "settings", map[string]string{"currency": "USD"})
	assert.Equal(t, "USD", got["currency"])
	assert.Contains(t, v.actions(t), audit.ActionDecryptionFailure)
}

func TestGetIntegrityMismatch(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	// A well-formed envelope whose digest does not match its data, sealed
	// with the right key: decryption succeeds, integrity must still fail.
	env := Envelope{
		Data:          `{"tampered":true}`,
		Integrity:     digest(`{"original":true}`),
		Timestamp:     time.Now().UnixMilli(),
		SchemaVersion: SchemaVersion,
	}
	plaintext, err := json.Marshal(env)
	require.NoError(t, err)
	sealed, err := keyring.Seal(v.key, plaintext, []byte("finvault:assets"))
	require.NoError(t, err)
	require.NoError(t, v.kv.Set(ctx, "finvault:assets", base64.StdEncoding.EncodeToString(sealed)))

	got := Read(ctx, v.svc, "assets", map[string]bool{"default": true})
	assert.True(t, got["default"])
	assert.Contains(t, v.actions(t), audit.ActionIntegrityMismatch)
}

func TestGetToleratesSchemaVersionMismatch(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	data := `{"currency":"CHF"}`
	env := Envelope{
		Data:          data,
		Integrity:     digest(data),
		Timestamp:     time.Now().UnixMilli(),
		SchemaVersion: "0",
	}
	plaintext, err := json.Marshal(env)
	require.NoError(t, err)
	sealed, err := keyring.Seal(v.key, plaintext, []byte("finvault:settings"))
	require.NoError(t, err)
	require.NoError(t, v.kv.Set(ctx, "finvault:settings", base64.StdEncoding.EncodeToString(sealed)))

	got := Read(ctx, v.svc, "settings", map[string]string{})
	assert.Equal(t, "CHF", got["currency"])

	events, err := v.events.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSchemaVersionMismatch, events[0].Action)
	assert.Equal(t, audit.SeverityLow, events[0].Severity)
}

func TestSetRejectsEmptyKey(t *testing.T) {
	v := newTestVault(t)
	err := v.svc.Set(context.Background(), "  ", 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestSetRateLimited(t *testing.T) {
	kv := kvstore.NewInMemoryStore()
	cfg := config.FromEnv()
	cfg.Budgets = map[string]config.Budget{
		ratelimit.ActionStorageWrite: {Max: 2, Window: time.Second},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(cfg, ratelimit.WithClock(func() time.Time { return now }))
	svc, err := New(kv, keyring.Derive([]string{"x"}), limiter)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", 1))
	require.NoError(t, svc.Set(ctx, "b", 2))

	err = svc.Set(ctx, "c", 3)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeRateLimit))

	now = now.Add(1001 * time.Millisecond)
	assert.NoError(t, svc.Set(ctx, "c", 3))
}

func TestClearOnlyTouchesNamespace(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.svc.Set(ctx, "assets", 1))
	require.NoError(t, v.svc.Set(ctx, "settings", 2))
	require.NoError(t, v.kv.Set(ctx, "other-app:data", "keep me"))

	require.NoError(t, v.svc.Clear(ctx))

	keys, err := v.kv.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other-app:data"}, keys)
}

func TestStats(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.svc.Set(ctx, "assets", []int{1, 2, 3}))
	require.NoError(t, v.svc.Set(ctx, "settings", "dark"))
	require.NoError(t, v.kv.Set(ctx, "other-app:data", "x"))

	st, err := v.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalKeys)
	assert.Equal(t, 2, st.NamespacedKeys)
	assert.Positive(t, st.TotalSizeBytes)
}

func TestVerifyIntegrity(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.svc.Set(ctx, "assets", 1))
	assert.True(t, v.svc.VerifyIntegrity(ctx, "assets"))
	assert.False(t, v.svc.VerifyIntegrity(ctx, "missing"))
}
