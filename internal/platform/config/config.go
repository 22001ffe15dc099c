package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// CompressionLevel selects how snapshot payloads are prepared before
// checksumming and storage.
type CompressionLevel string

const (
	CompressionNone  CompressionLevel = "none"
	CompressionBasic CompressionLevel = "basic" // compact JSON, whitespace stripped
)

// Budget is a fixed-window call budget for one named action.
type Budget struct {
	Max    int           `validate:"gt=0"`
	Window time.Duration `validate:"gt=0"`
}

// Config captures subsystem-level configuration.
// BackupInterval <= 0 suspends the backup scheduler entirely.
type Config struct {
	Namespace string `validate:"required"`

	BackupInterval time.Duration
	MaxBackups     int              `validate:"gt=0"`
	SizeThreshold  int              `validate:"gte=0"`
	RetentionDays  int              `validate:"gt=0"`
	Compression    CompressionLevel `validate:"oneof=none basic"`

	// Budgets is keyed by action name (storage_write, backup_create, ...).
	Budgets map[string]Budget `validate:"dive"`
}

// Defaults, overridable via environment.
var (
	DefaultNamespace      = "finvault"
	DefaultBackupInterval = 15 * time.Minute
	DefaultMaxBackups     = 10
	DefaultSizeThreshold  = 1024 // bytes
	DefaultRetentionDays  = 30
)

// DefaultBudgets returns the per-action call budgets. The codec actions are
// deliberately distinct from backup_create so portable export cannot starve
// the scheduler's budget.
func DefaultBudgets() map[string]Budget {
	return map[string]Budget{
		"storage_write":  {Max: 120, Window: time.Minute},
		"backup_create":  {Max: 10, Window: time.Minute},
		"backup_export":  {Max: 5, Window: time.Minute},
		"backup_restore": {Max: 5, Window: time.Minute},
	}
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Namespace:      DefaultNamespace,
		BackupInterval: DefaultBackupInterval,
		MaxBackups:     DefaultMaxBackups,
		SizeThreshold:  DefaultSizeThreshold,
		RetentionDays:  DefaultRetentionDays,
		Compression:    CompressionNone,
		Budgets:        DefaultBudgets(),
	}

	if ns := os.Getenv("FINVAULT_NAMESPACE"); ns != "" {
		cfg.Namespace = ns
	}
	if v := os.Getenv("FINVAULT_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BackupInterval = d
		}
	}
	if v := os.Getenv("FINVAULT_MAX_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBackups = n
		}
	}
	if v := os.Getenv("FINVAULT_SIZE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SizeThreshold = n
		}
	}
	if v := os.Getenv("FINVAULT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("FINVAULT_COMPRESSION"); v == string(CompressionBasic) {
		cfg.Compression = CompressionBasic
	}

	return cfg
}

// Validate checks field bounds. A Config that fails validation must not be
// handed to the subsystem constructors.
func (c Config) Validate() error {
	return validator.New().Struct(c)
}

// Retention returns the retention horizon as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Budget returns the configured budget for an action, falling back to the
// defaults when the action is not configured.
func (c Config) Budget(action string) Budget {
	if b, ok := c.Budgets[action]; ok {
		return b
	}
	return DefaultBudgets()[action]
}
