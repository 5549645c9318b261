package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/coordinator"
	"github.com/okanewa/stagehand/internal/model"
)

func testInput() coordinator.StageInput {
	return coordinator.StageInput{
		WorkflowID: "wf_0000000001_aabbccdd",
		StageName:  "research",
		Request:    "look into the cache layer",
		Artifacts: map[string]*model.Artifact{
			"planning": {StageName: "planning", Payload: map[string]any{"summary": "plan"}},
		},
	}
}

func TestExec_ParsesStdoutPayload(t *testing.T) {
	w := NewExec("sh", []string{"-c", `echo '{"producer":"test","status":"completed","summary":"ok"}'`}, zap.NewNop())

	out, err := w.Invoke(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "ok", out.Payload["summary"])
}

func TestExec_StdinCarriesStageInput(t *testing.T) {
	// The worker echoes its stdin back inside the payload.
	script := `printf '{"producer":"test","status":"completed","echo":%s}' "$(cat | tr -d '\n' | sed 's/"/\\"/g; s/^/"/; s/$/"/')"`
	w := NewExec("sh", []string{"-c", script}, zap.NewNop())

	out, err := w.Invoke(context.Background(), testInput())
	require.NoError(t, err)
	echoed, _ := out.Payload["echo"].(string)
	assert.Contains(t, echoed, "wf_0000000001_aabbccdd")
	assert.Contains(t, echoed, "look into the cache layer")
}

func TestExec_StageNameAppendedAsArgument(t *testing.T) {
	script := `printf '{"producer":"test","status":"completed","stage":"%s"}' "$1"`
	w := NewExec("sh", []string{"-c", script, "sh"}, zap.NewNop())

	out, err := w.Invoke(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "research", out.Payload["stage"])
}

func TestExec_TransientExitCode(t *testing.T) {
	w := NewExec("sh", []string{"-c", "exit 75"}, zap.NewNop())

	_, err := w.Invoke(context.Background(), testInput())
	require.Error(t, err)
	assert.True(t, coordinator.IsTransient(err))
}

func TestExec_TerminalExitCode(t *testing.T) {
	w := NewExec("sh", []string{"-c", "echo boom >&2; exit 1"}, zap.NewNop())

	_, err := w.Invoke(context.Background(), testInput())
	require.Error(t, err)
	assert.False(t, coordinator.IsTransient(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestExec_DeadlineMapsToTimeout(t *testing.T) {
	w := NewExec("sleep", []string{"10"}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Invoke(ctx, testInput())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, coordinator.IsTransient(err))
}

func TestExec_NonJSONStdoutIsTerminal(t *testing.T) {
	w := NewExec("sh", []string{"-c", "echo done"}, zap.NewNop())

	_, err := w.Invoke(context.Background(), testInput())
	require.Error(t, err)
	assert.False(t, coordinator.IsTransient(err))
}
