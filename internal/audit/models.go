package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent an audit event is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Event is emitted from domain logic to capture key persistence actions. Keep
// it transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Action    string
	Severity  Severity
	Details   map[string]any
}

// Audit event actions describe what operation occurred.
const (
	ActionStorageWrite          = "storage_write"
	ActionStorageReadFailed     = "storage_read_failed"
	ActionDecryptionFailure     = "decryption_failure"
	ActionIntegrityMismatch     = "integrity_mismatch"
	ActionSchemaVersionMismatch = "schema_version_mismatch"
	ActionRateLimitExceeded     = "rate_limit_exceeded"
	ActionBackupCreated         = "backup_created"
	ActionBackupSkipped         = "backup_skipped"
	ActionBackupFailed          = "backup_failed"
	ActionBackupExported        = "backup_exported"
	ActionBackupRestored        = "backup_restored"
	ActionConsentGranted        = "consent_granted"
	ActionConsentWithdrawn      = "consent_withdrawn"
	ActionExportRequested       = "data_export_requested"
	ActionExportCompleted       = "data_export_completed"
	ActionErasureRequested      = "data_erasure_requested"
	ActionErasureCompleted      = "data_erasure_completed"
)
