package bypass

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/eventlog"
	"github.com/okanewa/stagehand/internal/model"
)

// ArtifactSource dereferences artifacts named by compact log entries.
// The execution log carries ids, not payloads; content checks resolve
// the stored document on demand.
type ArtifactSource interface {
	Get(workflowID, stageName string) (*model.Artifact, bool, error)
}

// knownEvents is the event vocabulary the detector understands. Anything
// outside it is a novel anomaly.
var knownEvents = map[string]bool{
	eventlog.EventWorkflowCreated:    true,
	eventlog.EventAlignmentEvaluated: true,
	eventlog.EventStageStarted:       true,
	eventlog.EventStageRetried:       true,
	eventlog.EventArtifactStored:     true,
	eventlog.EventStageFailed:        true,
	eventlog.EventWorkflowBlocked:    true,
	eventlog.EventWorkflowCompleted:  true,
	eventlog.EventWorkflowFailed:     true,
	eventlog.EventPublishResult:      true,
}

var terminalEvents = map[string]bool{
	eventlog.EventWorkflowBlocked:   true,
	eventlog.EventWorkflowCompleted: true,
	eventlog.EventWorkflowFailed:    true,
}

// Analyzer replays execution log entries against a pattern set.
type Analyzer struct {
	artifacts ArtifactSource
	logger    *zap.Logger
}

func NewAnalyzer(artifacts ArtifactSource, logger *zap.Logger) *Analyzer {
	return &Analyzer{artifacts: artifacts, logger: logger}
}

// workflowTrace is the per-workflow view assembled from the log.
type workflowTrace struct {
	id        string
	created   bool
	terminal  string // terminal event type, empty while in flight
	started   map[string]bool
	stored    map[string]bool
	failed    map[string]bool
	events    []eventlog.Entry
	postEvent []eventlog.Entry // events observed after the terminal one
}

// Analyze produces findings for the given log entries. It is pure over
// its inputs plus the artifact store: the same immutable log yields the
// same findings on every run.
func (a *Analyzer) Analyze(entries []eventlog.Entry, patterns []Pattern) []Finding {
	traces := buildTraces(entries)

	var findings []Finding
	for _, tr := range traces {
		for _, p := range patterns {
			switch p.Category {
			case CategoryCompleteness:
				findings = append(findings, a.checkCompleteness(tr, p)...)
			case CategoryCongruence:
				findings = append(findings, a.checkCongruence(tr, p)...)
			case CategoryContent:
				findings = append(findings, a.checkContent(tr, p)...)
			default:
				a.logger.Warn("unknown pattern category skipped",
					zap.String("pattern_id", p.ID),
					zap.String("category", string(p.Category)))
			}
		}
		findings = append(findings, a.checkNovel(tr)...)
	}

	sortFindings(findings)
	return findings
}

func buildTraces(entries []eventlog.Entry) []*workflowTrace {
	byID := make(map[string]*workflowTrace)
	var order []string
	for _, e := range entries {
		if e.WorkflowID == "" {
			continue
		}
		tr, ok := byID[e.WorkflowID]
		if !ok {
			tr = &workflowTrace{
				id:      e.WorkflowID,
				started: make(map[string]bool),
				stored:  make(map[string]bool),
				failed:  make(map[string]bool),
			}
			byID[e.WorkflowID] = tr
			order = append(order, e.WorkflowID)
		}

		if tr.terminal != "" {
			tr.postEvent = append(tr.postEvent, e)
		}
		tr.events = append(tr.events, e)

		switch e.EventType {
		case eventlog.EventWorkflowCreated:
			tr.created = true
		case eventlog.EventStageStarted:
			tr.started[e.StageName] = true
		case eventlog.EventArtifactStored:
			tr.stored[e.StageName] = true
		case eventlog.EventStageFailed:
			tr.failed[e.StageName] = true
		}
		if terminalEvents[e.EventType] {
			tr.terminal = e.EventType
		}
	}

	sort.Strings(order)
	traces := make([]*workflowTrace, 0, len(order))
	for _, id := range order {
		traces = append(traces, byID[id])
	}
	return traces
}

// checkCompleteness flags workflows whose observed terminal events fall
// short of the expected set.
func (a *Analyzer) checkCompleteness(tr *workflowTrace, p Pattern) []Finding {
	if len(p.ExpectedEvents) == 0 {
		// Default completeness: stage activity without any terminal event.
		if tr.terminal == "" && (len(tr.started) > 0 || len(tr.stored) > 0) {
			ev := []string{
				fmt.Sprintf("workflow %s has %d stage event(s) and no terminal event", tr.id, len(tr.started)+len(tr.failed)),
			}
			return []Finding{newFinding(p.ID, p.Severity, tr.id, ev, p.SuggestedFix)}
		}
		return nil
	}

	// Expected terminal actions apply only to completed workflows.
	if tr.terminal != eventlog.EventWorkflowCompleted {
		return nil
	}
	seen := make(map[string]bool)
	for _, e := range tr.events {
		seen[e.EventType] = true
	}
	var missing []string
	for _, want := range p.ExpectedEvents {
		if !seen[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	ev := []string{
		fmt.Sprintf("workflow %s completed without expected event(s): %s", tr.id, strings.Join(missing, ", ")),
	}
	return []Finding{newFinding(p.ID, p.Severity, tr.id, ev, p.SuggestedFix)}
}

// checkCongruence flags a declared stage pair when the first member
// produced an artifact and a later member did not in the same window.
// Only terminal, non-blocked workflows are judged: an in-flight run may
// simply not be there yet.
func (a *Analyzer) checkCongruence(tr *workflowTrace, p Pattern) []Finding {
	if len(p.Stages) < 2 || tr.terminal == "" || tr.terminal == eventlog.EventWorkflowBlocked {
		return nil
	}
	// The last stage in the pair is the anchor: if it changed, every
	// earlier member must have changed too.
	anchor := p.Stages[len(p.Stages)-1]
	if !tr.stored[anchor] {
		return nil
	}
	var missing []string
	for _, s := range p.Stages[:len(p.Stages)-1] {
		if !tr.stored[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	ev := []string{
		fmt.Sprintf("workflow %s stored %s artifact without %s artifact(s)", tr.id, anchor, strings.Join(missing, ", ")),
	}
	return []Finding{newFinding(p.ID, p.Severity, tr.id, ev, p.SuggestedFix)}
}

// checkContent dereferences stored artifacts and scans their payloads
// for forbidden markers.
func (a *Analyzer) checkContent(tr *workflowTrace, p Pattern) []Finding {
	if len(p.Markers) == 0 {
		return nil
	}

	stages := make([]string, 0, len(tr.stored))
	for s := range tr.stored {
		stages = append(stages, s)
	}
	sort.Strings(stages)

	var findings []Finding
	for _, stage := range stages {
		artifact, ok, err := a.artifacts.Get(tr.id, stage)
		if err != nil || !ok {
			// Dereference failures are handled by checkNovel.
			continue
		}
		raw, err := json.Marshal(artifact.Payload)
		if err != nil {
			continue
		}
		haystack := strings.ToLower(string(raw))
		for _, marker := range p.Markers {
			if idx := strings.Index(haystack, marker); idx >= 0 {
				ev := []string{
					fmt.Sprintf("workflow %s stage %s payload contains marker %q", tr.id, stage, marker),
					excerpt(haystack, idx, len(marker)),
				}
				findings = append(findings, newFinding(p.ID, p.Severity, tr.id, ev, p.SuggestedFix))
				break
			}
		}
	}
	return findings
}

// checkNovel reports anomalies no known pattern covers as NEW-BYPASS.
func (a *Analyzer) checkNovel(tr *workflowTrace) []Finding {
	var findings []Finding
	flag := func(severity Severity, evidence string) {
		findings = append(findings, newFinding(PatternNewBypass, severity, tr.id,
			[]string{evidence},
			"triage manually; promote to a known pattern if it recurs"))
	}

	seenUnknown := make(map[string]bool)
	for _, e := range tr.events {
		if !knownEvents[e.EventType] && !seenUnknown[e.EventType] {
			seenUnknown[e.EventType] = true
			flag(SeverityWarning, fmt.Sprintf("workflow %s emitted unknown event type %q", tr.id, e.EventType))
		}
	}

	// Stage activity with no workflow_created record means log loss or
	// an out-of-band writer.
	if !tr.created && len(tr.events) > 0 {
		flag(SeverityInfo, fmt.Sprintf("workflow %s has events but no creation record", tr.id))
	}

	// Artifacts stored without a matching start, skipping the synthetic
	// alignment record, indicate an out-of-band store write.
	stages := make([]string, 0, len(tr.stored))
	for s := range tr.stored {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	for _, s := range stages {
		if s == model.StageAlignment || s == "publish" {
			continue
		}
		if !tr.started[s] {
			flag(SeverityWarning, fmt.Sprintf("workflow %s stored artifact for stage %s without a stage_started event", tr.id, s))
		}
		// The log says the artifact exists; a failed dereference means
		// drift between log and store.
		if _, ok, err := a.artifacts.Get(tr.id, s); err == nil && !ok {
			flag(SeverityCritical, fmt.Sprintf("workflow %s log references artifact for stage %s that the store cannot resolve", tr.id, s))
		}
	}

	// Events after a terminal transition mean something kept writing to
	// a finished workflow.
	for _, e := range tr.postEvent {
		flag(SeverityWarning, fmt.Sprintf("workflow %s received event %q after terminal event %q", tr.id, e.EventType, tr.terminal))
		break
	}

	return findings
}

// excerpt trims a marker hit to a short evidence snippet.
func excerpt(s string, idx, markerLen int) string {
	start := idx - 30
	if start < 0 {
		start = 0
	}
	end := idx + markerLen + 30
	if end > len(s) {
		end = len(s)
	}
	return "…" + s[start:end] + "…"
}
