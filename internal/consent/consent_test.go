package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvault/internal/audit"
	"finvault/internal/keyring"
	"finvault/internal/kvstore"
	"finvault/internal/platform/config"
	"finvault/internal/ratelimit"
	"finvault/internal/vault"
)

type consentFixture struct {
	manager *Manager
	vault   *vault.Service
	audit   *audit.Publisher
	now     time.Time
}

func newConsentFixture(t *testing.T) *consentFixture {
	t.Helper()

	fx := &consentFixture{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return fx.now }

	limiter := ratelimit.New(config.FromEnv(), ratelimit.WithClock(clock))
	svc, err := vault.New(kvstore.NewInMemoryStore(), keyring.Derive([]string{"consent-test"}), limiter,
		vault.WithClock(clock))
	require.NoError(t, err)

	fx.vault = svc
	fx.audit = audit.NewPublisher(audit.NewInMemoryStore(), audit.WithPublisherClock(clock))
	fx.manager = New(svc, WithAuditPublisher(fx.audit), WithClock(clock))
	return fx
}

func TestRecordAndCheckConsent(t *testing.T) {
	fx := newConsentFixture(t)
	ctx := context.Background()

	assert.False(t, fx.manager.CheckConsent(ctx, PurposeAnalytics))

	require.NoError(t, fx.manager.RecordConsent(ctx, PurposeAnalytics, true, "2026-01"))
	assert.True(t, fx.manager.CheckConsent(ctx, PurposeAnalytics))
	// Other purposes stay denied.
	assert.False(t, fx.manager.CheckConsent(ctx, PurposeMarketing))

	events, err := fx.audit.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionConsentGranted, events[0].Action)
	assert.Equal(t, PurposeAnalytics, events[0].Details["purpose"])
}

func TestWithdrawConsent(t *testing.T) {
	fx := newConsentFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.manager.RecordConsent(ctx, PurposeCloudBackup, true, "2026-01"))
	require.True(t, fx.manager.CheckConsent(ctx, PurposeCloudBackup))

	fx.now = fx.now.Add(time.Hour)
	require.NoError(t, fx.manager.WithdrawConsent(ctx, PurposeCloudBackup))
	assert.False(t, fx.manager.CheckConsent(ctx, PurposeCloudBackup))

	rec := fx.manager.Records(ctx)[PurposeCloudBackup]
	require.NotNil(t, rec.WithdrawnAt)
	assert.True(t, rec.WithdrawnAt.Equal(fx.now))
	assert.Equal(t, "2026-01", rec.Version)

	events, err := fx.audit.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionConsentWithdrawn, events[0].Action)
}

func TestReGrantClearsWithdrawal(t *testing.T) {
	fx := newConsentFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.manager.RecordConsent(ctx, PurposeAnalytics, true, "v1"))
	require.NoError(t, fx.manager.WithdrawConsent(ctx, PurposeAnalytics))
	require.False(t, fx.manager.CheckConsent(ctx, PurposeAnalytics))

	require.NoError(t, fx.manager.RecordConsent(ctx, PurposeAnalytics, true, "v2"))
	assert.True(t, fx.manager.CheckConsent(ctx, PurposeAnalytics))
	assert.Nil(t, fx.manager.Records(ctx)[PurposeAnalytics].WithdrawnAt)
}

func TestRecordConsentDeniedCountsAsWithdrawn(t *testing.T) {
	fx := newConsentFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.manager.RecordConsent(ctx, PurposeMarketing, false, "v1"))
	assert.False(t, fx.manager.CheckConsent(ctx, PurposeMarketing))

	rec := fx.manager.Records(ctx)[PurposeMarketing]
	assert.False(t, rec.Granted)
	assert.NotNil(t, rec.WithdrawnAt)
}

func TestRecordConsentRequiresPurpose(t *testing.T) {
	fx := newConsentFixture(t)

	err := fx.manager.RecordConsent(context.Background(), "", true, "v1")
	require.Error(t, err)
	err = fx.manager.WithdrawConsent(context.Background(), "")
	require.Error(t, err)
}

// brokenVault simulates an unreadable or unwritable store.
type brokenVault struct{}

func (brokenVault) Set(context.Context, string, any) error { return errors.New("disk gone") }
func (brokenVault) Get(context.Context, string, any) bool  { return false }

func TestCheckConsentDefaultsToDenyOnReadFailure(t *testing.T) {
	m := New(brokenVault{})

	assert.False(t, m.CheckConsent(context.Background(), PurposeAnalytics))
	assert.Error(t, m.RecordConsent(context.Background(), PurposeAnalytics, true, "v1"))
}

func TestLedgerSurvivesManagerRestart(t *testing.T) {
	fx := newConsentFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.manager.RecordConsent(ctx, PurposeLocalStorage, true, "v1"))

	reopened := New(fx.vault, WithClock(func() time.Time { return fx.now }))
	assert.True(t, reopened.CheckConsent(ctx, PurposeLocalStorage))
}
