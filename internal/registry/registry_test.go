package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	r, err := Default(time.Minute)
	require.NoError(t, err)

	stages := r.Stages()
	require.Len(t, stages, 7)
	assert.Equal(t, StageResearch, stages[0].Name)
	assert.Equal(t, StageImplementation, stages[3].Name)

	// Every stage picked up the default timeout.
	for _, s := range stages {
		assert.Equal(t, time.Minute, s.Timeout, "stage %s", s.Name)
	}
}

func TestDefault_Groups(t *testing.T) {
	r, err := Default(time.Minute)
	require.NoError(t, err)

	groups := r.Groups()
	require.Len(t, groups, 5)
	for _, g := range groups[:4] {
		assert.Len(t, g, 1)
	}

	validation := groups[4]
	require.Len(t, validation, 3)
	names := []string{validation[0].Name, validation[1].Name, validation[2].Name}
	assert.ElementsMatch(t, []string{StageReview, StageSecurityAudit, StageDocSync}, names)
	for _, s := range validation {
		assert.Equal(t, ParallelGroupValidation, s.ParallelGroup)
	}
}

func TestNew_RejectsForwardReference(t *testing.T) {
	_, err := New([]StageDefinition{
		{Name: "a", Order: 1, RequiredInputs: []string{"b"}},
		{Name: "b", Order: 2},
	}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not earlier in order")
}

func TestNew_RejectsUnknownInput(t *testing.T) {
	_, err := New([]StageDefinition{
		{Name: "a", Order: 1, RequiredInputs: []string{"ghost"}},
	}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestNew_RejectsOrderTieWithoutGroup(t *testing.T) {
	_, err := New([]StageDefinition{
		{Name: "a", Order: 1},
		{Name: "b", Order: 1},
	}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel group")
}

func TestNew_RejectsDuplicateName(t *testing.T) {
	_, err := New([]StageDefinition{
		{Name: "a", Order: 1},
		{Name: "a", Order: 2},
	}, time.Minute)
	assert.Error(t, err)
}

func TestValidateDAG_CycleReported(t *testing.T) {
	_, err := validateDAG(
		[]string{"a", "b", "c"},
		map[string][]string{
			"a": {"c"},
			"b": {"a"},
			"c": {"b"},
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestValidateDAG_TopologicalOrder(t *testing.T) {
	sorted, err := validateDAG(
		[]string{"research", "planning", "implementation"},
		map[string][]string{
			"planning":       {"research"},
			"implementation": {"planning"},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"research", "planning", "implementation"}, sorted)
}

func TestQualityGates(t *testing.T) {
	r, err := Default(time.Minute)
	require.NoError(t, err)

	impl, ok := r.Lookup(StageImplementation)
	require.True(t, ok)
	require.NotNil(t, impl.QualityGate)

	assert.Error(t, impl.QualityGate(map[string]any{}))
	assert.Error(t, impl.QualityGate(map[string]any{"files_changed": []any{}}))
	assert.NoError(t, impl.QualityGate(map[string]any{"files_changed": []any{"a.go"}}))

	audit, ok := r.Lookup(StageSecurityAudit)
	require.True(t, ok)
	assert.NoError(t, audit.QualityGate(map[string]any{"verdict": "pass"}))
	assert.Error(t, audit.QualityGate(map[string]any{"verdict": "fail"}))
	assert.Error(t, audit.QualityGate(map[string]any{}))
}
