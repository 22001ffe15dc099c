package compliance

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"finvault/internal/audit"
	"finvault/internal/vault"
)

// ExportInfo describes the context of a data export.
type ExportInfo struct {
	ExportID        uuid.UUID `json:"export_id"`
	GeneratedAt     time.Time `json:"generated_at"`
	Purpose         string    `json:"purpose"`
	LegalBasis      string    `json:"legal_basis"`
	RetentionPolicy string    `json:"retention_policy"`
}

// TechnicalData carries the non-personal diagnostics included in an export.
type TechnicalData struct {
	Stats             vault.Stats   `json:"stats"`
	RecentAuditEvents []audit.Event `json:"recent_audit_events"`
}

// ExportBundle is the complete machine-readable export of everything the
// subsystem holds for the user.
type ExportBundle struct {
	ExportInfo    ExportInfo                 `json:"export_info"`
	UserData      map[string]json.RawMessage `json:"user_data"`
	TechnicalData TechnicalData              `json:"technical_data"`
}

// Issue flags a single data-minimization concern.
type Issue struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Minimization issue kinds.
const (
	IssueOversizedField    = "oversized_field"
	IssueSensitiveKeyword  = "sensitive_keyword"
	IssueExcessiveMetadata = "excessive_metadata"
	IssueAggregateSize     = "aggregate_size"
)

// MinimizationReport summarizes a read-only data-minimization review.
type MinimizationReport struct {
	Compliant       bool     `json:"compliant"`
	Issues          []Issue  `json:"issues"`
	Recommendations []string `json:"recommendations"`
}
