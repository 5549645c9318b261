package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okanewa/stagehand/internal/model"
)

var startCmd = &cobra.Command{
	Use:   "start <request...>",
	Short: "Submit a request and run it through the pipeline",
	Long: `Submit a development request. The request is gated against the policy
document, then driven through research, planning, test generation,
implementation, and the validation group by the configured stage worker.

Exit codes: 0 completed, 1 blocked by policy, 2 stage failure, 3 internal error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(true)
	if err != nil {
		return exitWith(exitInternal, err)
	}
	defer eng.close()

	if err := eng.requireWorker(); err != nil {
		return exitWith(exitInternal, err)
	}

	request := strings.Join(args, " ")
	w, err := eng.coord.Start(cmd.Context(), request)
	if err != nil {
		return exitWith(exitInternal, err)
	}

	fmt.Printf("workflow %s: %s\n", w.ID, w.Status)
	return workflowExit(w)
}

// workflowExit maps a terminal workflow state to the documented exit
// codes. Blocked and failed are valid outcomes, not internal errors.
func workflowExit(w *model.Workflow) error {
	switch w.Status {
	case model.WorkflowBlocked:
		return exitWith(exitBlocked, fmt.Errorf("workflow %s blocked by policy: %s", w.ID, w.Reason))
	case model.WorkflowFailed:
		return exitWith(exitStage, fmt.Errorf("workflow %s failed: %s", w.ID, w.Reason))
	default:
		return nil
	}
}
