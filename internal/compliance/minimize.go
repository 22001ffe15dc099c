package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	dErrors "finvault/pkg/domain-errors"
)

// Minimization thresholds.
const (
	maxFreeTextBytes = 4 * 1024
	maxMetadataKeys  = 10
	maxAggregateSize = 5 * 1024 * 1024
)

// sensitiveKeywords are identifier fragments that should not sit in a
// personal-finance store unless strictly needed.
var sensitiveKeywords = []string{
	"ssn",
	"social security",
	"iban",
	"passport",
	"tax id",
	"taxid",
	"national id",
	"driver license",
}

// AuditDataMinimization reviews stored records against data-minimization
// heuristics. The review is read-only and best-effort: records that cannot
// be decrypted are skipped.
func (s *Service) AuditDataMinimization(ctx context.Context) (*MinimizationReport, error) {
	keys, err := s.vault.ListKeys(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not enumerate records for review")
	}
	sort.Strings(keys)

	var issues []Issue
	for _, key := range keys {
		raw, ok := s.vault.GetRaw(ctx, key)
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		issues = append(issues, inspectValue(key, "", value)...)
	}

	stats, err := s.vault.Stats(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not collect storage stats")
	}
	if stats.TotalSizeBytes > maxAggregateSize {
		issues = append(issues, Issue{
			Key:         "*",
			Kind:        IssueAggregateSize,
			Severity:    "medium",
			Description: fmt.Sprintf("namespaced data occupies %d bytes, above the %d byte guideline", stats.TotalSizeBytes, maxAggregateSize),
		})
	}

	report := &MinimizationReport{
		Compliant:       len(issues) == 0,
		Issues:          issues,
		Recommendations: recommendations(issues),
	}
	return report, nil
}

// inspectValue walks a decoded record and flags oversized free text,
// sensitive identifier keywords, and oversized metadata objects.
func inspectValue(key, path string, value any) []Issue {
	var issues []Issue
	switch v := value.(type) {
	case string:
		if len(v) > maxFreeTextBytes {
			issues = append(issues, Issue{
				Key:         key,
				Kind:        IssueOversizedField,
				Severity:    "low",
				Description: fmt.Sprintf("field %q holds %d bytes of free text, above the %d byte guideline", fieldLabel(path), len(v), maxFreeTextBytes),
			})
		}
		if kw := matchKeyword(v); kw != "" {
			issues = append(issues, Issue{
				Key:         key,
				Kind:        IssueSensitiveKeyword,
				Severity:    "high",
				Description: fmt.Sprintf("field %q mentions %q", fieldLabel(path), kw),
			})
		}
	case map[string]any:
		if strings.HasSuffix(path, "metadata") && len(v) > maxMetadataKeys {
			issues = append(issues, Issue{
				Key:         key,
				Kind:        IssueExcessiveMetadata,
				Severity:    "low",
				Description: fmt.Sprintf("field %q carries %d metadata keys, above the %d key guideline", fieldLabel(path), len(v), maxMetadataKeys),
			})
		}
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if kw := matchKeyword(name); kw != "" {
				issues = append(issues, Issue{
					Key:         key,
					Kind:        IssueSensitiveKeyword,
					Severity:    "high",
					Description: fmt.Sprintf("field name %q matches %q", joinPath(path, name), kw),
				})
			}
			issues = append(issues, inspectValue(key, joinPath(path, name), v[name])...)
		}
	case []any:
		for i, item := range v {
			issues = append(issues, inspectValue(key, fmt.Sprintf("%s[%d]", path, i), item)...)
		}
	}
	return issues
}

func matchKeyword(s string) string {
	lower := strings.ToLower(s)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func fieldLabel(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}

func recommendations(issues []Issue) []string {
	seen := map[string]bool{}
	var recs []string
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			recs = append(recs, r)
		}
	}
	for _, issue := range issues {
		switch issue.Kind {
		case IssueOversizedField:
			add("trim or externalize large free-text fields")
		case IssueSensitiveKeyword:
			add("remove government or bank identifiers not needed for the feature")
		case IssueExcessiveMetadata:
			add("drop metadata keys that no feature reads")
		case IssueAggregateSize:
			add("prune historical records or lower backup retention")
		}
	}
	return recs
}
