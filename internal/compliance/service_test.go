package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvault/internal/audit"
	"finvault/internal/consent"
	"finvault/internal/keyring"
	"finvault/internal/kvstore"
	"finvault/internal/platform/config"
	"finvault/internal/ratelimit"
	"finvault/internal/vault"
	dErrors "finvault/pkg/domain-errors"
)

type complianceFixture struct {
	service *Service
	vault   *vault.Service
	limiter *ratelimit.Limiter
	audit   *audit.Publisher
	now     time.Time
}

func newComplianceFixture(t *testing.T) *complianceFixture {
	t.Helper()

	fx := &complianceFixture{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return fx.now }

	fx.limiter = ratelimit.New(config.FromEnv(), ratelimit.WithClock(clock))
	svc, err := vault.New(kvstore.NewInMemoryStore(), keyring.Derive([]string{"compliance-test"}), fx.limiter,
		vault.WithClock(clock))
	require.NoError(t, err)
	fx.vault = svc
	fx.audit = audit.NewPublisher(audit.NewInMemoryStore(), audit.WithPublisherClock(clock))

	fx.service, err = New(svc, fx.limiter, fx.audit, WithClock(clock))
	require.NoError(t, err)
	return fx
}

func (fx *complianceFixture) seed(t *testing.T, ctx context.Context) {
	t.Helper()
	require.NoError(t, fx.vault.Set(ctx, "assets", map[string]float64{"cash": 1500}))
	require.NoError(t, fx.vault.Set(ctx, "settings", map[string]string{"currency": "EUR"}))
	cm := consent.New(fx.vault, consent.WithClock(func() time.Time { return fx.now }))
	require.NoError(t, cm.RecordConsent(ctx, consent.PurposeAnalytics, true, "v1"))
}

func TestExportAllData(t *testing.T) {
	fx := newComplianceFixture(t)
	ctx := context.Background()
	fx.seed(t, ctx)

	bundle, err := fx.service.ExportAllData(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", bundle.ExportInfo.ExportID.String())
	assert.Equal(t, fx.now, bundle.ExportInfo.GeneratedAt)
	assert.NotEmpty(t, bundle.ExportInfo.LegalBasis)

	require.Len(t, bundle.UserData, 3)
	var assets map[string]float64
	require.NoError(t, json.Unmarshal(bundle.UserData["assets"], &assets))
	assert.Equal(t, 1500.0, assets["cash"])
	assert.Contains(t, bundle.UserData, consent.LedgerKey)

	assert.Equal(t, 3, bundle.TechnicalData.Stats.NamespacedKeys)
	assert.NotEmpty(t, bundle.TechnicalData.RecentAuditEvents)

	// Read-only: everything is still there afterwards.
	keys, err := fx.vault.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	events, err := fx.audit.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionExportCompleted, events[0].Action)
}

func TestExportAllDataEmptyState(t *testing.T) {
	fx := newComplianceFixture(t)

	bundle, err := fx.service.ExportAllData(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bundle.UserData)
	assert.Equal(t, 0, bundle.TechnicalData.Stats.NamespacedKeys)
}

func TestEraseAllData(t *testing.T) {
	fx := newComplianceFixture(t)
	ctx := context.Background()
	fx.seed(t, ctx)
	require.NoError(t, fx.vault.Set(ctx, "custom_notes", "remember the milk"))

	// Exhaust a budget so the reset is observable.
	first := fx.limiter.Allow(ratelimit.ActionBackupExport)
	for i := 0; i < first.Limit; i++ {
		fx.limiter.Allow(ratelimit.ActionBackupExport)
	}
	require.False(t, fx.limiter.Allow(ratelimit.ActionBackupExport).Allowed)

	require.NoError(t, fx.service.EraseAllData(ctx, "account_closed"))

	keys, err := fx.vault.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "every record including undiscovered custom keys is erased")

	assert.True(t, fx.limiter.Allow(ratelimit.ActionBackupExport).Allowed, "limiter windows reset")

	// The trail was cleared last; only the completion event survives.
	events, err := fx.audit.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionErasureCompleted, events[0].Action)
	assert.Equal(t, "account_closed", events[0].Details["reason"])
	assert.Equal(t, 0, events[0].Details["failed_keys"])
}

// failingVault lets one key refuse removal.
type failingVault struct {
	Vault
	failKey string
}

func (f *failingVault) Remove(ctx context.Context, key string) error {
	if key == f.failKey {
		return errors.New("record is pinned")
	}
	return f.Vault.Remove(ctx, key)
}

func TestEraseAllDataPartialFailure(t *testing.T) {
	fx := newComplianceFixture(t)
	ctx := context.Background()
	fx.seed(t, ctx)

	svc, err := New(&failingVault{Vault: fx.vault, failKey: "settings"}, fx.limiter, fx.audit,
		WithClock(func() time.Time { return fx.now }))
	require.NoError(t, err)

	err = svc.EraseAllData(ctx, "user_request")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePartialErasure))

	var failure *dErrors.ErasureFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Failed, 1)
	assert.Equal(t, "settings", failure.Failed[0].Key)

	// Everything except the pinned key is gone.
	keys, err := fx.vault.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"settings"}, keys)
}

func TestAuditDataMinimizationCompliant(t *testing.T) {
	fx := newComplianceFixture(t)
	ctx := context.Background()
	fx.seed(t, ctx)

	report, err := fx.service.AuditDataMinimization(ctx)
	require.NoError(t, err)
	assert.True(t, report.Compliant)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Recommendations)
}

func TestAuditDataMinimizationFlagsIssues(t *testing.T) {
	fx := newComplianceFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.Set(ctx, "notes", map[string]any{
		"journal": strings.Repeat("a", 5000),
	}))
	require.NoError(t, fx.vault.Set(ctx, "identity", map[string]any{
		"ssn_last4": "1234",
		"remark":    "passport kept in drawer",
	}))
	bigMeta := map[string]any{}
	for r := 'a'; r <= 'l'; r++ {
		bigMeta[string(r)] = "x"
	}
	require.NoError(t, fx.vault.Set(ctx, "asset_1", map[string]any{
		"value":    100,
		"metadata": bigMeta,
	}))

	report, err := fx.service.AuditDataMinimization(ctx)
	require.NoError(t, err)
	require.False(t, report.Compliant)

	kinds := map[string]int{}
	for _, issue := range report.Issues {
		kinds[issue.Kind]++
	}
	assert.Equal(t, 1, kinds[IssueOversizedField])
	assert.Equal(t, 2, kinds[IssueSensitiveKeyword], "flags both the field name and the free-text mention")
	assert.Equal(t, 1, kinds[IssueExcessiveMetadata])
	assert.NotEmpty(t, report.Recommendations)
}
