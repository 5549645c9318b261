package bypass

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Finding is one detected anomaly. Findings are derived and
// recomputable: the same immutable log always yields the same findings,
// id included, so consumers can deduplicate across runs.
type Finding struct {
	ID           string   `json:"id"`
	PatternID    string   `json:"pattern_id"`
	Severity     Severity `json:"severity"`
	WorkflowID   string   `json:"workflow_id"`
	Evidence     []string `json:"evidence"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// newFinding derives the finding id from its content, not from time or
// randomness, so repeated analysis is idempotent.
func newFinding(patternID string, severity Severity, workflowID string, evidence []string, fix string) Finding {
	h := sha256.New()
	h.Write([]byte(patternID))
	h.Write([]byte{0})
	h.Write([]byte(workflowID))
	for _, e := range evidence {
		h.Write([]byte{0})
		h.Write([]byte(e))
	}
	return Finding{
		ID:           "fnd_" + hex.EncodeToString(h.Sum(nil))[:16],
		PatternID:    patternID,
		Severity:     severity,
		WorkflowID:   workflowID,
		Evidence:     evidence,
		SuggestedFix: fix,
	}
}

// sortFindings imposes a stable output order: severity first (critical
// before warning before info), then workflow, pattern, id.
func sortFindings(findings []Finding) {
	rank := map[Severity]int{SeverityCritical: 0, SeverityWarning: 1, SeverityInfo: 2}
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if rank[a.Severity] != rank[b.Severity] {
			return rank[a.Severity] < rank[b.Severity]
		}
		if a.WorkflowID != b.WorkflowID {
			return a.WorkflowID < b.WorkflowID
		}
		if a.PatternID != b.PatternID {
			return a.PatternID < b.PatternID
		}
		return a.ID < b.ID
	})
}

// HasCritical reports whether any finding needs mandatory review.
func HasCritical(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Summarize renders a one-line digest like "2 critical, 1 warning".
func Summarize(findings []Finding) string {
	counts := map[Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}
	var parts []string
	for _, s := range []Severity{SeverityCritical, SeverityWarning, SeverityInfo} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	if len(parts) == 0 {
		return "no findings"
	}
	return strings.Join(parts, ", ")
}
