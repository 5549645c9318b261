// Package bypass is the offline forensic analyzer: it replays the
// execution log against known anti-pattern signatures and congruence
// rules, producing findings for human triage. It never blocks the live
// pipeline and never mutates workflow state.
package bypass

// Severity classifies a finding. Critical findings require mandatory
// human review; the rest are informational.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Category selects the detection strategy a pattern drives.
type Category string

const (
	// CategoryCompleteness compares observed terminal events against the
	// expected set for the workflow's outcome.
	CategoryCompleteness Category = "completeness"
	// CategoryCongruence flags stage pairs that must change together
	// when one produced an artifact and the other did not.
	CategoryCongruence Category = "congruence"
	// CategoryContent scans stored payloads for forbidden placeholder
	// markers that indicate a stage claimed success without real work.
	CategoryContent Category = "content"
)

// PatternNewBypass is the reserved id for anomalies matching no known
// pattern. They are surfaced for triage and potential promotion into
// the signature set.
const PatternNewBypass = "NEW-BYPASS"

// Pattern is one known bypass signature. Only the fields relevant to
// its category are consulted.
type Pattern struct {
	ID           string   `yaml:"id" json:"id"`
	Category     Category `yaml:"category" json:"category"`
	Severity     Severity `yaml:"severity" json:"severity"`
	Description  string   `yaml:"description" json:"description"`
	SuggestedFix string   `yaml:"suggested_fix" json:"suggested_fix"`

	// Markers are lowercase substrings searched in stage payloads
	// (content category).
	Markers []string `yaml:"markers,omitempty" json:"markers,omitempty"`
	// Stages names a pair that must both produce artifacts in the same
	// workflow window (congruence category).
	Stages []string `yaml:"stages,omitempty" json:"stages,omitempty"`
	// ExpectedEvents are event types a terminal workflow must have
	// emitted (completeness category). Empty means "any terminal event".
	ExpectedEvents []string `yaml:"expected_events,omitempty" json:"expected_events,omitempty"`
}

// DefaultPatterns is the built-in signature set.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			ID:           "INCOMPLETE-RUN",
			Category:     CategoryCompleteness,
			Severity:     SeverityWarning,
			Description:  "workflow started stages but never reached a terminal status",
			SuggestedFix: "resume the workflow or investigate the coordinator crash",
		},
		{
			ID:           "DOC-DRIFT",
			Category:     CategoryCongruence,
			Severity:     SeverityWarning,
			Description:  "implementation changed without a doc-sync artifact in the same workflow",
			SuggestedFix: "re-run the workflow with doc-sync enabled or sync documentation manually",
			Stages:       []string{"implementation", "doc-sync"},
		},
		{
			ID:           "UNTESTED-IMPL",
			Category:     CategoryCongruence,
			Severity:     SeverityCritical,
			Description:  "implementation artifact stored without a test-generation artifact",
			SuggestedFix: "supersede the implementation artifact and re-run from testgen",
			Stages:       []string{"testgen", "implementation"},
		},
		{
			ID:           "STUB-IMPL",
			Category:     CategoryContent,
			Severity:     SeverityCritical,
			Description:  "stage payload contains a forbidden placeholder marker",
			SuggestedFix: "supersede the artifact and re-invoke the stage worker",
			Markers: []string{
				"not implemented",
				"not yet implemented",
				"unimplemented",
				"todo: implement",
				"placeholder implementation",
				"stub implementation",
			},
		},
	}
}
