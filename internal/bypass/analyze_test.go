package bypass

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/eventlog"
	"github.com/okanewa/stagehand/internal/model"
)

type fakeArtifacts struct {
	artifacts map[string]*model.Artifact
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{artifacts: make(map[string]*model.Artifact)}
}

func (f *fakeArtifacts) put(workflowID, stage string, payload map[string]any) {
	f.artifacts[workflowID+"/"+stage] = &model.Artifact{
		WorkflowID: workflowID,
		StageName:  stage,
		Status:     model.ArtifactCompleted,
		Payload:    payload,
	}
}

func (f *fakeArtifacts) Get(workflowID, stageName string) (*model.Artifact, bool, error) {
	a, ok := f.artifacts[workflowID+"/"+stageName]
	return a, ok, nil
}

const wfID = "wf_0000000001_aabbccdd"

// cleanTrace is a full successful run: every stage started, stored, and
// a terminal completion event.
func cleanTrace(src *fakeArtifacts) []eventlog.Entry {
	stages := []string{"research", "planning", "testgen", "implementation", "review", "security-audit", "doc-sync"}
	entries := []eventlog.Entry{
		{EventType: eventlog.EventWorkflowCreated, WorkflowID: wfID},
		{EventType: eventlog.EventAlignmentEvaluated, WorkflowID: wfID, StageName: model.StageAlignment},
	}
	for _, s := range stages {
		entries = append(entries,
			eventlog.Entry{EventType: eventlog.EventStageStarted, WorkflowID: wfID, StageName: s},
			eventlog.Entry{EventType: eventlog.EventArtifactStored, WorkflowID: wfID, StageName: s},
		)
		src.put(wfID, s, map[string]any{"producer": s + "-worker", "status": "completed", "summary": "did real work"})
	}
	return append(entries, eventlog.Entry{EventType: eventlog.EventWorkflowCompleted, WorkflowID: wfID})
}

func TestAnalyze_CleanLogHasNoFindings(t *testing.T) {
	src := newFakeArtifacts()
	entries := cleanTrace(src)

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(entries, DefaultPatterns())
	assert.Empty(t, findings)
}

func TestAnalyze_StubMarkerIsCritical(t *testing.T) {
	src := newFakeArtifacts()
	entries := cleanTrace(src)
	src.put(wfID, "implementation", map[string]any{
		"producer": "implementation-worker",
		"status":   "completed",
		"notes":    "core path done, edge cases NOT IMPLEMENTED yet",
	})

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(entries, DefaultPatterns())
	require.Len(t, findings, 1)
	assert.Equal(t, "STUB-IMPL", findings[0].PatternID)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
	assert.Equal(t, wfID, findings[0].WorkflowID)
	assert.Contains(t, findings[0].Evidence[0], "implementation")
	assert.True(t, HasCritical(findings))
}

func TestAnalyze_DocDriftOnMissingDocSync(t *testing.T) {
	src := newFakeArtifacts()
	entries := cleanTrace(src)

	// Drop doc-sync from the trace but keep the completion event.
	var filtered []eventlog.Entry
	for _, e := range entries {
		if e.StageName == "doc-sync" {
			continue
		}
		filtered = append(filtered, e)
	}

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(filtered, DefaultPatterns())
	require.Len(t, findings, 1)
	assert.Equal(t, "DOC-DRIFT", findings[0].PatternID)
	assert.Equal(t, SeverityWarning, findings[0].Severity)
}

func TestAnalyze_UntestedImplementationIsCritical(t *testing.T) {
	src := newFakeArtifacts()
	entries := cleanTrace(src)

	var filtered []eventlog.Entry
	for _, e := range entries {
		if e.StageName == "testgen" {
			continue
		}
		filtered = append(filtered, e)
	}

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(filtered, DefaultPatterns())
	require.NotEmpty(t, findings)
	assert.Equal(t, "UNTESTED-IMPL", findings[0].PatternID)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
}

func TestAnalyze_IncompleteRun(t *testing.T) {
	src := newFakeArtifacts()
	entries := []eventlog.Entry{
		{EventType: eventlog.EventWorkflowCreated, WorkflowID: wfID},
		{EventType: eventlog.EventStageStarted, WorkflowID: wfID, StageName: "research"},
	}

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(entries, DefaultPatterns())
	require.Len(t, findings, 1)
	assert.Equal(t, "INCOMPLETE-RUN", findings[0].PatternID)
}

func TestAnalyze_InFlightWorkflowNotJudgedForCongruence(t *testing.T) {
	src := newFakeArtifacts()
	src.put(wfID, "implementation", map[string]any{"status": "completed"})
	entries := []eventlog.Entry{
		{EventType: eventlog.EventWorkflowCreated, WorkflowID: wfID},
		{EventType: eventlog.EventStageStarted, WorkflowID: wfID, StageName: "implementation"},
		{EventType: eventlog.EventArtifactStored, WorkflowID: wfID, StageName: "implementation"},
	}

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(entries, DefaultPatterns())
	// Incomplete-run fires, but no congruence verdict on an in-flight run.
	for _, f := range findings {
		assert.NotEqual(t, "DOC-DRIFT", f.PatternID)
		assert.NotEqual(t, "UNTESTED-IMPL", f.PatternID)
	}
}

func TestAnalyze_NovelEventTypeFlagged(t *testing.T) {
	src := newFakeArtifacts()
	entries := cleanTrace(src)
	entries = append(entries, eventlog.Entry{EventType: "quota_exceeded", WorkflowID: wfID})

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(entries, DefaultPatterns())

	var novel []Finding
	for _, f := range findings {
		if f.PatternID == PatternNewBypass {
			novel = append(novel, f)
		}
	}
	require.NotEmpty(t, novel)
	assert.Contains(t, novel[0].Evidence[0], "quota_exceeded")
}

func TestAnalyze_UnresolvableArtifactIsCritical(t *testing.T) {
	src := newFakeArtifacts()
	entries := cleanTrace(src)
	// The log says research was stored, but the store cannot resolve it.
	delete(src.artifacts, wfID+"/research")

	a := NewAnalyzer(src, zap.NewNop())
	findings := a.Analyze(entries, DefaultPatterns())
	require.NotEmpty(t, findings)
	assert.Equal(t, PatternNewBypass, findings[0].PatternID)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
	assert.Contains(t, findings[0].Evidence[0], "cannot resolve")
}

func TestAnalyze_Idempotent(t *testing.T) {
	src := newFakeArtifacts()
	entries := cleanTrace(src)
	src.put(wfID, "implementation", map[string]any{"status": "completed", "notes": "todo: implement retries"})
	entries = append(entries, eventlog.Entry{EventType: "mystery", WorkflowID: wfID})

	a := NewAnalyzer(src, zap.NewNop())
	first := a.Analyze(entries, DefaultPatterns())
	second := a.Analyze(entries, DefaultPatterns())
	assert.Equal(t, first, second)
	require.NotEmpty(t, first)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "no findings", Summarize(nil))
	findings := []Finding{
		{Severity: SeverityCritical},
		{Severity: SeverityCritical},
		{Severity: SeverityWarning},
	}
	assert.Equal(t, "2 critical, 1 warning", Summarize(findings))
}

func TestWatch_InitialPassAndCancel(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "execution.jsonl")
	l, err := eventlog.New(logPath, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(eventlog.Entry{EventType: eventlog.EventWorkflowCreated, WorkflowID: wfID}))
	require.NoError(t, l.Append(eventlog.Entry{EventType: eventlog.EventStageStarted, WorkflowID: wfID, StageName: "research"}))
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan []Finding, 4)

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, logPath, NewAnalyzer(newFakeArtifacts(), zap.NewNop()), DefaultPatterns(), zap.NewNop(), func(f []Finding) {
			results <- f
		})
	}()

	select {
	case findings := <-results:
		require.Len(t, findings, 1)
		assert.Equal(t, "INCOMPLETE-RUN", findings[0].PatternID)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never delivered the initial analysis")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
