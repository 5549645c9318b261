package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rerunFailed bool

var resumeCmd = &cobra.Command{
	Use:   "resume <workflow_id>",
	Short: "Resume an interrupted workflow",
	Long: `Resume a workflow from its last durable state. Completed stages are
never re-run. A failed workflow halts again at its failed artifact
unless --rerun-failed is given, which supersedes failed artifacts and
re-invokes those stages.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&rerunFailed, "rerun-failed", false, "supersede failed artifacts and re-run their stages")
}

func runResume(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(true)
	if err != nil {
		return exitWith(exitInternal, err)
	}
	defer eng.close()

	if err := eng.requireWorker(); err != nil {
		return exitWith(exitInternal, err)
	}

	id := args[0]
	if rerunFailed {
		err = eng.coord.RerunFailed(cmd.Context(), id)
	} else {
		err = eng.coord.Resume(cmd.Context(), id)
	}
	if err != nil {
		return exitWith(exitInternal, err)
	}

	w, ok, err := eng.workflows.Get(id)
	if err != nil || !ok {
		return exitWith(exitInternal, fmt.Errorf("reload workflow %s: %v", id, err))
	}
	fmt.Printf("workflow %s: %s\n", w.ID, w.Status)
	return workflowExit(w)
}
