package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "finvault", cfg.Namespace)
	assert.Equal(t, 15*time.Minute, cfg.BackupInterval)
	assert.Equal(t, 10, cfg.MaxBackups)
	assert.Equal(t, CompressionNone, cfg.Compression)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FINVAULT_NAMESPACE", "fv-test")
	t.Setenv("FINVAULT_BACKUP_INTERVAL", "30s")
	t.Setenv("FINVAULT_MAX_BACKUPS", "3")
	t.Setenv("FINVAULT_COMPRESSION", "basic")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "fv-test", cfg.Namespace)
	assert.Equal(t, 30*time.Second, cfg.BackupInterval)
	assert.Equal(t, 3, cfg.MaxBackups)
	assert.Equal(t, CompressionBasic, cfg.Compression)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max backups", func(c *Config) { c.MaxBackups = 0 }},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }},
		{"unknown compression", func(c *Config) { c.Compression = "gzip" }},
		{"empty namespace", func(c *Config) { c.Namespace = "" }},
		{"zero budget window", func(c *Config) {
			c.Budgets = map[string]Budget{"storage_write": {Max: 5, Window: 0}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBudgetFallback(t *testing.T) {
	cfg := FromEnv()
	cfg.Budgets = map[string]Budget{}
	b := cfg.Budget("storage_write")
	assert.Equal(t, 120, b.Max)
	assert.Equal(t, time.Minute, b.Window)
}
