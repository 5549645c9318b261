package coordinator

import (
	"context"
	"errors"

	"github.com/okanewa/stagehand/internal/model"
)

// StageInput is what a stage worker receives: the workflow's request and
// the completed artifacts the stage declared as required inputs.
type StageInput struct {
	WorkflowID string
	StageName  string
	Request    string
	Artifacts  map[string]*model.Artifact
}

// StageOutput is the worker's result. The coordinator interprets the
// payload only through the required envelope fields.
type StageOutput struct {
	Payload map[string]any
	Status  string
}

// StageWorker is the external reasoning collaborator invoked once per
// stage. Implementations must honor ctx cancellation and deadlines.
type StageWorker interface {
	Invoke(ctx context.Context, input StageInput) (StageOutput, error)
}

// ErrTransient marks worker failures in the network/timeout class.
// Workers wrap retryable errors with it; everything else is terminal
// for the attempt.
var ErrTransient = errors.New("transient stage failure")

// IsTransient reports whether a worker error should be retried.
// Deadline expiry counts as transient up to the retry bound.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
