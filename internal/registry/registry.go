// Package registry holds the static, ordered definition of pipeline
// stages. The set is fixed at process start and validated as a DAG:
// stages may only require inputs from strictly earlier positions.
package registry

import (
	"fmt"
	"sort"
	"time"
)

// ParallelGroupValidation is the built-in group of post-implementation
// stages that run concurrently: none of them mutate shared state and all
// depend only on the implementation artifact.
const ParallelGroupValidation = "validation"

// Built-in stage names.
const (
	StageResearch       = "research"
	StagePlanning       = "planning"
	StageTestgen        = "testgen"
	StageImplementation = "implementation"
	StageReview         = "review"
	StageSecurityAudit  = "security-audit"
	StageDocSync        = "doc-sync"
)

// QualityGate is a predicate over a stage's output payload. A non-nil
// error marks the artifact failed without raising a transport error.
type QualityGate func(payload map[string]any) error

// StageDefinition describes one pipeline stage. Order ties are allowed
// only among members of the same parallel group.
type StageDefinition struct {
	Name                string
	Order               int
	RequiredInputs      []string
	OutputSchemaVersion string
	Timeout             time.Duration
	ParallelGroup       string
	QualityGate         QualityGate
}

// Registry is the validated, immutable stage set.
type Registry struct {
	stages []StageDefinition
	byName map[string]StageDefinition
}

// New validates the stage set and returns a registry. Stages without a
// timeout inherit defaultTimeout.
func New(stages []StageDefinition, defaultTimeout time.Duration) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stage registry cannot be empty")
	}

	byName := make(map[string]StageDefinition, len(stages))
	names := make([]string, 0, len(stages))
	edges := make(map[string][]string, len(stages))

	sorted := make([]StageDefinition, len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for i := range sorted {
		s := &sorted[i]
		if s.Name == "" {
			return nil, fmt.Errorf("stage at order %d has no name", s.Order)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage name %q", s.Name)
		}
		if s.Timeout <= 0 {
			s.Timeout = defaultTimeout
		}
		byName[s.Name] = *s
		names = append(names, s.Name)
		edges[s.Name] = s.RequiredInputs
	}

	for _, s := range sorted {
		for _, in := range s.RequiredInputs {
			dep, ok := byName[in]
			if !ok {
				return nil, fmt.Errorf("stage %q requires unknown stage %q", s.Name, in)
			}
			if dep.Order >= s.Order {
				return nil, fmt.Errorf("stage %q requires %q which is not earlier in order (%d >= %d)",
					s.Name, in, dep.Order, s.Order)
			}
		}
	}

	// Order ties must be a declared parallel group.
	for i := 1; i < len(sorted); i++ {
		a, b := sorted[i-1], sorted[i]
		if a.Order == b.Order {
			if a.ParallelGroup == "" || a.ParallelGroup != b.ParallelGroup {
				return nil, fmt.Errorf("stages %q and %q share order %d without a common parallel group",
					a.Name, b.Name, a.Order)
			}
		}
	}

	if _, err := validateDAG(names, edges); err != nil {
		return nil, err
	}

	return &Registry{stages: sorted, byName: byName}, nil
}

// Stages returns all definitions in execution order.
func (r *Registry) Stages() []StageDefinition {
	out := make([]StageDefinition, len(r.stages))
	copy(out, r.stages)
	return out
}

// Lookup returns the definition for a stage name.
func (r *Registry) Lookup(name string) (StageDefinition, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Groups returns the execution plan: each element is either a single
// sequential stage or the full membership of a parallel group.
func (r *Registry) Groups() [][]StageDefinition {
	var groups [][]StageDefinition
	i := 0
	for i < len(r.stages) {
		j := i + 1
		for j < len(r.stages) && r.stages[j].Order == r.stages[i].Order {
			j++
		}
		groups = append(groups, r.stages[i:j:j])
		i = j
	}
	return groups
}

// Default returns the built-in seven-stage pipeline.
func Default(defaultTimeout time.Duration) (*Registry, error) {
	return New([]StageDefinition{
		{
			Name:                StageResearch,
			Order:               1,
			OutputSchemaVersion: "v1",
		},
		{
			Name:                StagePlanning,
			Order:               2,
			RequiredInputs:      []string{StageResearch},
			OutputSchemaVersion: "v1",
		},
		{
			Name:                StageTestgen,
			Order:               3,
			RequiredInputs:      []string{StagePlanning},
			OutputSchemaVersion: "v1",
			QualityGate:         requireNonEmptyList("tests"),
		},
		{
			Name:                StageImplementation,
			Order:               4,
			RequiredInputs:      []string{StagePlanning, StageTestgen},
			OutputSchemaVersion: "v1",
			QualityGate:         requireNonEmptyList("files_changed"),
		},
		{
			Name:                StageReview,
			Order:               5,
			RequiredInputs:      []string{StageImplementation},
			OutputSchemaVersion: "v1",
			ParallelGroup:       ParallelGroupValidation,
		},
		{
			Name:                StageSecurityAudit,
			Order:               5,
			RequiredInputs:      []string{StageImplementation},
			OutputSchemaVersion: "v1",
			ParallelGroup:       ParallelGroupValidation,
			QualityGate:         requireVerdictPass(),
		},
		{
			Name:                StageDocSync,
			Order:               5,
			RequiredInputs:      []string{StageImplementation},
			OutputSchemaVersion: "v1",
			ParallelGroup:       ParallelGroupValidation,
		},
	}, defaultTimeout)
}

// requireNonEmptyList gates on a payload field being a non-empty list.
func requireNonEmptyList(field string) QualityGate {
	return func(payload map[string]any) error {
		v, ok := payload[field]
		if !ok {
			return fmt.Errorf("payload missing %q", field)
		}
		list, ok := v.([]any)
		if !ok {
			if strs, ok := v.([]string); ok {
				if len(strs) == 0 {
					return fmt.Errorf("%q is empty", field)
				}
				return nil
			}
			return fmt.Errorf("%q is not a list", field)
		}
		if len(list) == 0 {
			return fmt.Errorf("%q is empty", field)
		}
		return nil
	}
}

// requireVerdictPass gates the security audit on an explicit pass.
func requireVerdictPass() QualityGate {
	return func(payload map[string]any) error {
		v, ok := payload["verdict"].(string)
		if !ok {
			return fmt.Errorf("payload missing string verdict")
		}
		if v != "pass" {
			return fmt.Errorf("verdict is %q, want pass", v)
		}
		return nil
	}
}
