package model

import "time"

// StageAlignment is the synthetic stage name under which the policy
// evaluator's verdict is persisted, so a blocked workflow can always be
// reconstructed from its artifact set alone.
const StageAlignment = "alignment"

// Artifact is the immutable output of one pipeline stage. Write-once per
// (workflow_id, stage_name); a re-run supersedes the prior record instead
// of mutating it.
type Artifact struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	StageName  string         `json:"stage_name"`
	Version    string         `json:"version"`
	Status     ArtifactStatus `json:"status"`
	Payload    map[string]any `json:"payload"`
	// FailureReason is set when Status is failed: "timeout",
	// "validation", "quality_gate", or "worker_error".
	FailureReason string `json:"failure_reason,omitempty"`
	// GateEvaluation records the quality-gate outcome for completed or
	// gate-failed artifacts, so offline analysis can see gate decisions.
	GateEvaluation *GateEvaluation `json:"gate_evaluation,omitempty"`
	CreatedAt      string          `json:"created_at"`
	SupersededAt   *string         `json:"superseded_at,omitempty"`
}

// GateEvaluation records a quality-gate check on an artifact payload.
type GateEvaluation struct {
	Passed      bool   `json:"passed"`
	Detail      string `json:"detail,omitempty"`
	EvaluatedAt string `json:"evaluated_at"`
}

// NewArtifact builds an artifact record with a fresh id and timestamp.
func NewArtifact(workflowID, stageName, version string, status ArtifactStatus, payload map[string]any) (*Artifact, error) {
	id, err := GenerateID(IDTypeArtifact)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		ID:         id,
		WorkflowID: workflowID,
		StageName:  stageName,
		Version:    version,
		Status:     status,
		Payload:    payload,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}
