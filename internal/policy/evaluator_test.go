package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanewa/stagehand/internal/logging"
)

func testPolicy() *Policy {
	return &Policy{
		Version: 1,
		Goals: []string{
			"improve developer tooling reliability",
			"reduce build times",
		},
		ScopeIn: []string{
			"internal tooling",
		},
		ScopeOut: []string{
			"payment processing",
			"user authentication changes",
		},
		Constraints: []string{
			"never delete production data",
		},
	}
}

func TestEvaluate_AllowsUnmatchedRequest(t *testing.T) {
	e := NewEvaluator(0.8, logging.NewNop())

	a, err := e.Evaluate("fix a typo in a comment", testPolicy())
	require.NoError(t, err)
	assert.True(t, a.Aligned)
	assert.Empty(t, a.Violations)
}

func TestEvaluate_RejectsScopeOutMatch(t *testing.T) {
	e := NewEvaluator(0.8, logging.NewNop())

	a, err := e.Evaluate("add a payment processor integration", testPolicy())
	require.NoError(t, err)
	assert.False(t, a.Aligned)
	require.Len(t, a.Violations, 1)
	assert.Equal(t, "scope-out: payment processing", a.Violations[0])
	assert.GreaterOrEqual(t, a.Confidence, 0.8)
	assert.NotEmpty(t, a.Reasoning)
}

func TestEvaluate_RejectsConstraintMatch(t *testing.T) {
	e := NewEvaluator(0.8, logging.NewNop())

	a, err := e.Evaluate("write a script to delete production data older than a week", testPolicy())
	require.NoError(t, err)
	assert.False(t, a.Aligned)
	require.NotEmpty(t, a.Violations)
	assert.Contains(t, a.Violations[0], "constraint:")
}

func TestEvaluate_DefaultAllowOnAmbiguity(t *testing.T) {
	e := NewEvaluator(0.8, logging.NewNop())

	// Mentions payments in passing but only one of two scope-out
	// tokens matches: below threshold, so the request passes.
	a, err := e.Evaluate("document how payment flows interact with the ledger", testPolicy())
	require.NoError(t, err)
	assert.True(t, a.Aligned)
}

func TestEvaluate_MatchingGoalsRaiseConfidence(t *testing.T) {
	e := NewEvaluator(0.8, logging.NewNop())

	a, err := e.Evaluate("improve the reliability of our developer tooling", testPolicy())
	require.NoError(t, err)
	assert.True(t, a.Aligned)
	assert.NotEmpty(t, a.MatchingGoals)
	assert.Greater(t, a.Confidence, 0.0)
}

func TestEvaluate_NilPolicyFailsOpen(t *testing.T) {
	e := NewEvaluator(0.8, logging.NewNop())

	a, err := e.Evaluate("anything at all", nil)
	require.NoError(t, err)
	assert.True(t, a.Aligned)
	assert.Equal(t, 0.0, a.Confidence)
	assert.Contains(t, a.Reasoning, "no policy available")
}

func TestLoad_MissingFileIsNilPolicy(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "policy.yaml"))
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLoad_ParsesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
version: 1
goals:
  - keep the pipeline healthy
scope_out:
  - payment processing
constraints:
  - never delete production data
skip_stages:
  - doc-sync
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, []string{"payment processing"}, p.ScopeOut)
	assert.Equal(t, []string{"doc-sync"}, p.SkipStages)
}

func TestLoad_UnparsableIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::\tnot yaml {"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestStem(t *testing.T) {
	assert.Equal(t, stem("processing"), stem("processor"))
	assert.Equal(t, "payment", stem("payments"))
	assert.Equal(t, "fix", stem("fix"))
}
