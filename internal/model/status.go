package model

import "fmt"

// WorkflowStatus is the lifecycle state of a workflow record.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowBlocked   WorkflowStatus = "blocked"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// ArtifactStatus is the terminal state of a stored artifact.
type ArtifactStatus string

const (
	ArtifactCompleted  ArtifactStatus = "completed"
	ArtifactFailed     ArtifactStatus = "failed"
	ArtifactSuperseded ArtifactStatus = "superseded"
)

var terminalWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowBlocked:   true,
	WorkflowCompleted: true,
}

// Workflow transitions: pending → running → {blocked, completed, failed}.
// failed → running is the explicit re-run path; blocked and completed are final.
var validWorkflowTransitions = map[WorkflowStatus]map[WorkflowStatus]bool{
	WorkflowPending: {
		WorkflowRunning: true,
	},
	WorkflowRunning: {
		WorkflowBlocked:   true,
		WorkflowCompleted: true,
		WorkflowFailed:    true,
	},
	WorkflowFailed: {
		WorkflowRunning: true,
	},
}

// Stored artifacts only move completed|failed → superseded, via the
// explicit supersede path used by re-runs.
var validArtifactTransitions = map[ArtifactStatus]map[ArtifactStatus]bool{
	ArtifactCompleted: {
		ArtifactSuperseded: true,
	},
	ArtifactFailed: {
		ArtifactSuperseded: true,
	},
}

func IsWorkflowTerminal(s WorkflowStatus) bool {
	return terminalWorkflowStatuses[s]
}

func ValidateWorkflowTransition(from, to WorkflowStatus) error {
	if IsWorkflowTerminal(from) {
		return fmt.Errorf("cannot transition from terminal workflow status %q", from)
	}
	allowed, ok := validWorkflowTransitions[from]
	if !ok {
		return fmt.Errorf("unknown workflow status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid workflow transition: %q → %q", from, to)
	}
	return nil
}

func ValidateArtifactTransition(from, to ArtifactStatus) error {
	allowed, ok := validArtifactTransitions[from]
	if !ok {
		return fmt.Errorf("unknown artifact status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid artifact transition: %q → %q", from, to)
	}
	return nil
}
