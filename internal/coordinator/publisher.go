package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/model"
)

// PublishResult is what the git/publish collaborator reports back.
type PublishResult struct {
	CommitID string `json:"commit_id,omitempty"`
	IssueRef string `json:"issue_ref,omitempty"`
}

// Publisher is the external git/publish collaborator, invoked only
// after a workflow completes. Its failure never reverts workflow
// status.
type Publisher interface {
	Publish(ctx context.Context, workflowID string, artifacts []*model.Artifact) (PublishResult, error)
}

// LogPublisher is the default collaborator: it records the hand-off and
// returns an empty result.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p *LogPublisher) Publish(_ context.Context, workflowID string, artifacts []*model.Artifact) (PublishResult, error) {
	p.Logger.Info("workflow artifacts ready for publish",
		zap.String("workflow_id", workflowID),
		zap.Int("artifact_count", len(artifacts)))
	return PublishResult{}, nil
}
