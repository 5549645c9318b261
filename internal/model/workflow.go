// Package model defines the data structures for stagehand's workflows,
// artifacts, and their status machines.
package model

import "time"

const (
	WorkflowSchemaVersion = 1
	FileTypeWorkflow      = "workflow"
)

// Workflow is the durable record of a single end-to-end pipeline run.
// It is mutated only by the coordinator that owns it and never deleted,
// so blocked and failed runs stay available for audit and bypass analysis.
type Workflow struct {
	SchemaVersion int            `yaml:"schema_version"`
	FileType      string         `yaml:"file_type"`
	ID            string         `yaml:"id"`
	Request       string         `yaml:"request"`
	Status        WorkflowStatus `yaml:"status"`
	CurrentStage  *string        `yaml:"current_stage"`
	Reason        string         `yaml:"reason,omitempty"`
	RunID         string         `yaml:"run_id,omitempty"`
	CreatedAt     string         `yaml:"created_at"`
	UpdatedAt     string         `yaml:"updated_at"`
}

// NewWorkflow creates a pending workflow for the given request.
func NewWorkflow(request string) (*Workflow, error) {
	id, err := GenerateID(IDTypeWorkflow)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return &Workflow{
		SchemaVersion: WorkflowSchemaVersion,
		FileType:      FileTypeWorkflow,
		ID:            id,
		Request:       request,
		Status:        WorkflowPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Transition validates and applies a status change, stamping UpdatedAt.
func (w *Workflow) Transition(to WorkflowStatus, reason string) error {
	if err := ValidateWorkflowTransition(w.Status, to); err != nil {
		return err
	}
	w.Status = to
	w.Reason = reason
	w.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return nil
}
