package drafting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// hashKeyLength is the length of the hash segment in artifact keys.
const hashKeyLength = 12

// SectionDraftKey generates a stable, idempotent storage key for one
// section's draft text. Tenant and workflow segments keep keys browsable;
// the run-key hash keeps retries and replays landing on the same key.
func SectionDraftKey(tenantID, workflowID, runKey, section string) string {
	return fmt.Sprintf("drafts/%s/wf-%s/run-%s/sec-%s.md",
		tenantID, slug(workflowID), shortHash(runKey, hashKeyLength), slug(section))
}

// RecordTableKey generates the storage key for a section's rendered record
// table.
func RecordTableKey(tenantID, workflowID, runKey, section string) string {
	return fmt.Sprintf("tables/%s/wf-%s/run-%s/sec-%s.md",
		tenantID, slug(workflowID), shortHash(runKey, hashKeyLength), slug(section))
}

// RawPromptKey generates the storage key for a section's rendered prompt,
// stored only when prompt keeping is enabled.
func RawPromptKey(tenantID, workflowID, runKey, section string) string {
	return fmt.Sprintf("prompts/%s/wf-%s/run-%s/sec-%s.txt",
		tenantID, slug(workflowID), shortHash(runKey, hashKeyLength), slug(section))
}

// ReportBodyKey generates the storage key for the assembled report markdown.
func ReportBodyKey(tenantID, workflowID, runKey string) string {
	return fmt.Sprintf("reports/%s/wf-%s/run-%s/report.md",
		tenantID, slug(workflowID), shortHash(runKey, hashKeyLength))
}

// ReportBundleKey generates the storage key for the final zip bundle.
func ReportBundleKey(tenantID, workflowID, runKey string) string {
	return fmt.Sprintf("bundles/%s/wf-%s/run-%s/report.zip",
		tenantID, slug(workflowID), shortHash(runKey, hashKeyLength))
}

// shortHash creates a short hash from the input string.
// Uses SHA-256 and returns the first n characters of the hex encoding.
func shortHash(input string, n int) string {
	hash := sha256.Sum256([]byte(input))
	hexStr := hex.EncodeToString(hash[:])
	if len(hexStr) > n {
		return hexStr[:n]
	}
	return hexStr
}

// slug creates a URL-safe version of a string for use in paths.
// Replaces non-alphanumeric runs with single hyphens and lowercases.
func slug(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else if result.Len() > 0 && result.String()[result.Len()-1] != '-' {
			result.WriteRune('-')
		}
	}

	return strings.Trim(result.String(), "-")
}
