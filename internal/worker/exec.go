// Package worker provides the built-in stage worker implementations.
// The exec worker shells out to a configured command per stage: stage
// input arrives as JSON on stdin, the artifact payload comes back as
// JSON on stdout. This keeps the reasoning side fully external and
// language-agnostic.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/coordinator"
	"github.com/okanewa/stagehand/internal/model"
)

// ExitTransient is the worker exit code signalling a retryable failure
// (EX_TEMPFAIL from sysexits). Any other non-zero exit is terminal.
const ExitTransient = 75

// execInput is the JSON document written to the worker's stdin.
type execInput struct {
	WorkflowID string                    `json:"workflow_id"`
	StageName  string                    `json:"stage_name"`
	Request    string                    `json:"request"`
	Artifacts  map[string]map[string]any `json:"artifacts,omitempty"`
}

// Exec invokes one external process per stage attempt.
type Exec struct {
	command string
	args    []string
	logger  *zap.Logger
}

func NewExec(command string, args []string, logger *zap.Logger) *Exec {
	return &Exec{command: command, args: args, logger: logger}
}

// Invoke runs the configured command with the stage name appended as
// the final argument. The process inherits the attempt's deadline.
func (w *Exec) Invoke(ctx context.Context, input coordinator.StageInput) (coordinator.StageOutput, error) {
	doc := execInput{
		WorkflowID: input.WorkflowID,
		StageName:  input.StageName,
		Request:    input.Request,
	}
	if len(input.Artifacts) > 0 {
		doc.Artifacts = make(map[string]map[string]any, len(input.Artifacts))
		for name, a := range input.Artifacts {
			doc.Artifacts[name] = a.Payload
		}
	}
	stdin, err := json.Marshal(doc)
	if err != nil {
		return coordinator.StageOutput{}, fmt.Errorf("encode stage input: %w", err)
	}

	args := append(append([]string{}, w.args...), input.StageName)
	cmd := exec.CommandContext(ctx, w.command, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if stderr.Len() > 0 {
		w.logger.Debug("stage worker stderr",
			zap.String("stage", input.StageName),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return coordinator.StageOutput{}, context.DeadlineExceeded
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == ExitTransient {
			return coordinator.StageOutput{}, fmt.Errorf("worker exited %d: %w", ExitTransient, coordinator.ErrTransient)
		}
		return coordinator.StageOutput{}, fmt.Errorf("worker command failed: %w: %s", runErr, firstLine(stderr.String()))
	}

	var payload map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return coordinator.StageOutput{}, fmt.Errorf("worker stdout is not a JSON object: %w", err)
	}
	status, _ := payload["status"].(string)
	if status == "" {
		status = string(model.ArtifactCompleted)
	}
	return coordinator.StageOutput{Payload: payload, Status: status}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
