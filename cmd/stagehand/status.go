package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okanewa/stagehand/internal/eventlog"
	"github.com/okanewa/stagehand/internal/model"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [workflow_id]",
	Short: "Show workflow status and artifact summaries",
	Long: `Without arguments, list every workflow record. With a workflow id,
show the record plus its artifacts and recent execution log events.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON instead of text")
}

func runStatus(_ *cobra.Command, args []string) error {
	eng, err := newEngine(false)
	if err != nil {
		return exitWith(exitInternal, err)
	}
	defer eng.close()

	if len(args) == 0 {
		return listWorkflows(eng)
	}
	return showWorkflow(eng, args[0])
}

func listWorkflows(eng *engine) error {
	workflows, err := eng.workflows.List()
	if err != nil {
		return exitWith(exitInternal, err)
	}

	if statusJSON {
		return printJSON(workflows)
	}
	if len(workflows) == 0 {
		fmt.Println("no workflows")
		return nil
	}
	for _, w := range workflows {
		stage := "-"
		if w.CurrentStage != nil {
			stage = *w.CurrentStage
		}
		fmt.Printf("%s  %-10s  %-14s  %s\n", w.ID, w.Status, stage, w.Request)
	}
	return nil
}

type workflowView struct {
	Workflow  *model.Workflow  `json:"workflow"`
	Artifacts []artifactView   `json:"artifacts"`
	Events    []eventlog.Entry `json:"events"`
}

type artifactView struct {
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	GatePassed    *bool  `json:"gate_passed,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func showWorkflow(eng *engine, id string) error {
	w, ok, err := eng.workflows.Get(id)
	if err != nil {
		return exitWith(exitInternal, err)
	}
	if !ok {
		return exitWith(exitInternal, fmt.Errorf("workflow %s not found", id))
	}

	artifacts, err := eng.artifacts.List(id)
	if err != nil {
		return exitWith(exitInternal, err)
	}
	// The log is the compact record; artifact content stays on disk
	// unless a consumer dereferences it.
	events, err := eventlog.ReadWorkflow(eng.logPath(), id)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			eng.logger.Warn("execution log unreadable")
		}
		events = nil
	}

	view := workflowView{Workflow: w}
	for _, a := range artifacts {
		av := artifactView{
			Stage:         a.StageName,
			Status:        string(a.Status),
			FailureReason: a.FailureReason,
			CreatedAt:     a.CreatedAt,
		}
		if a.GateEvaluation != nil {
			av.GatePassed = &a.GateEvaluation.Passed
		}
		view.Artifacts = append(view.Artifacts, av)
	}
	view.Events = events

	if statusJSON {
		return printJSON(view)
	}

	fmt.Printf("workflow:  %s\n", w.ID)
	fmt.Printf("status:    %s\n", w.Status)
	if w.CurrentStage != nil {
		fmt.Printf("stage:     %s\n", *w.CurrentStage)
	}
	if w.Reason != "" {
		fmt.Printf("reason:    %s\n", w.Reason)
	}
	fmt.Printf("request:   %s\n", w.Request)
	fmt.Printf("created:   %s\n", w.CreatedAt)
	fmt.Printf("updated:   %s\n", w.UpdatedAt)

	if len(view.Artifacts) > 0 {
		fmt.Println("\nartifacts:")
		for _, a := range view.Artifacts {
			line := fmt.Sprintf("  %-16s %s", a.Stage, a.Status)
			if a.FailureReason != "" {
				line += "  (" + a.FailureReason + ")"
			}
			if a.GatePassed != nil && !*a.GatePassed {
				line += "  gate=failed"
			}
			fmt.Println(line)
		}
	}

	if n := len(events); n > 0 {
		fmt.Printf("\nevents: %d recorded, last %s at %s\n",
			n, events[n-1].EventType, events[n-1].Timestamp.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitWith(exitInternal, err)
	}
	fmt.Println(string(out))
	return nil
}
