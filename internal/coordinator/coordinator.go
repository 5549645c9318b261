// Package coordinator drives a single workflow instance through the
// stage registry: alignment gate first, then each stage (or parallel
// group) in order, persisting every outcome before advancing. All
// stage-local failures are absorbed into failed artifacts and workflow
// status; only infrastructure failures escape Run.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/okanewa/stagehand/internal/config"
	"github.com/okanewa/stagehand/internal/eventlog"
	"github.com/okanewa/stagehand/internal/model"
	"github.com/okanewa/stagehand/internal/policy"
	"github.com/okanewa/stagehand/internal/registry"
	"github.com/okanewa/stagehand/internal/store"
)

// Artifact failure reasons.
const (
	ReasonTimeout     = "timeout"
	ReasonValidation  = "validation"
	ReasonQualityGate = "quality_gate"
	ReasonWorkerError = "worker_error"
)

// Coordinator owns the workflow state machine. One instance may drive
// many workflows; each Run call owns its workflow record exclusively.
type Coordinator struct {
	registry   *registry.Registry
	workflows  *store.WorkflowStore
	artifacts  *store.ArtifactStore
	evaluator  *policy.Evaluator
	policyPath string
	worker     StageWorker
	publisher  Publisher
	events     *eventlog.Logger
	logger     *zap.Logger
	retry      config.RetryConfig
}

// Options bundles the coordinator's collaborators.
type Options struct {
	Registry   *registry.Registry
	Workflows  *store.WorkflowStore
	Artifacts  *store.ArtifactStore
	Evaluator  *policy.Evaluator
	PolicyPath string
	Worker     StageWorker
	Publisher  Publisher // optional; defaults to LogPublisher
	Events     *eventlog.Logger
	Logger     *zap.Logger
	Retry      config.RetryConfig
}

func New(opts Options) *Coordinator {
	pub := opts.Publisher
	if pub == nil {
		pub = &LogPublisher{Logger: opts.Logger}
	}
	return &Coordinator{
		registry:   opts.Registry,
		workflows:  opts.Workflows,
		artifacts:  opts.Artifacts,
		evaluator:  opts.Evaluator,
		policyPath: opts.PolicyPath,
		worker:     opts.Worker,
		publisher:  pub,
		events:     opts.Events,
		logger:     opts.Logger,
		retry:      opts.Retry,
	}
}

// Start creates a fresh workflow for the request and runs it.
func (c *Coordinator) Start(ctx context.Context, request string) (*model.Workflow, error) {
	w, err := model.NewWorkflow(request)
	if err != nil {
		return nil, err
	}
	if err := c.workflows.Create(w); err != nil {
		return nil, err
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventWorkflowCreated,
		WorkflowID: w.ID,
	})
	if err := c.Run(ctx, w.ID, request); err != nil {
		return nil, err
	}
	// Reload so the caller sees the terminal state.
	final, _, err := c.workflows.Get(w.ID)
	if err != nil {
		return nil, err
	}
	return final, nil
}

// Run drives the workflow with the given id through the pipeline,
// creating the record if it does not exist yet. Blocking and stage
// failure are valid terminal states, not errors.
func (c *Coordinator) Run(ctx context.Context, workflowID, request string) error {
	w, ok, err := c.workflows.Get(workflowID)
	if err != nil {
		return err
	}
	if !ok {
		now := time.Now().UTC().Format(time.RFC3339)
		w = &model.Workflow{
			SchemaVersion: model.WorkflowSchemaVersion,
			FileType:      model.FileTypeWorkflow,
			ID:            workflowID,
			Request:       request,
			Status:        model.WorkflowPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := c.workflows.Create(w); err != nil {
			return err
		}
		c.appendEvent(eventlog.Entry{
			EventType:  eventlog.EventWorkflowCreated,
			WorkflowID: w.ID,
		})
	}
	return c.run(ctx, w)
}

// Resume picks a workflow back up after a crash or restart. Completed
// and blocked workflows are left alone. A failed workflow halts again
// at its failed artifact unless RerunFailed superseded it first.
func (c *Coordinator) Resume(ctx context.Context, workflowID string) error {
	w, ok, err := c.workflows.Get(workflowID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrWorkflowNotFound, workflowID)
	}
	if model.IsWorkflowTerminal(w.Status) {
		c.logger.Info("workflow already terminal, nothing to resume",
			zap.String("workflow_id", w.ID),
			zap.String("status", string(w.Status)))
		return nil
	}
	return c.run(ctx, w)
}

// RerunFailed is the explicit override path for failed workflows: every
// failed artifact is superseded, then the workflow resumes from its
// last completed stage.
func (c *Coordinator) RerunFailed(ctx context.Context, workflowID string) error {
	w, ok, err := c.workflows.Get(workflowID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrWorkflowNotFound, workflowID)
	}

	artifacts, err := c.artifacts.List(workflowID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if a.Status == model.ArtifactFailed {
			if err := c.artifacts.Supersede(workflowID, a.StageName); err != nil {
				return err
			}
			c.logger.Info("superseded failed artifact for re-run",
				zap.String("workflow_id", workflowID),
				zap.String("stage", a.StageName))
		}
	}
	return c.run(ctx, w)
}

// run is the shared state machine behind Run, Resume, and RerunFailed.
func (c *Coordinator) run(ctx context.Context, w *model.Workflow) error {
	switch w.Status {
	case model.WorkflowPending, model.WorkflowFailed:
		if err := w.Transition(model.WorkflowRunning, ""); err != nil {
			return err
		}
	case model.WorkflowRunning:
		// Crash recovery: record already claims running.
	default:
		return nil
	}
	w.RunID = uuid.NewString()
	if err := c.workflows.Update(w); err != nil {
		return err
	}

	skip, blocked, err := c.alignmentGate(ctx, w)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}

	for _, group := range c.registry.Groups() {
		stages := c.filterSkipped(w, group, skip)
		if len(stages) == 0 {
			continue
		}

		if halted, err := c.checkInputs(w, stages, skip); err != nil || halted {
			return err
		}

		stageName := stages[0].Name
		if len(stages) > 1 {
			stageName = stages[0].ParallelGroup
		}
		w.CurrentStage = &stageName
		if err := c.workflows.Update(w); err != nil {
			return err
		}

		halted, err := c.runGroup(ctx, w, stages)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	w.CurrentStage = nil
	if err := w.Transition(model.WorkflowCompleted, ""); err != nil {
		return err
	}
	if err := c.workflows.Update(w); err != nil {
		return err
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventWorkflowCompleted,
		WorkflowID: w.ID,
		RunID:      w.RunID,
	})
	c.logger.Info("workflow completed", zap.String("workflow_id", w.ID))

	c.publish(ctx, w)
	return nil
}

// alignmentGate ensures the alignment artifact exists, evaluating the
// policy when needed, and blocks the workflow on rejection. The
// returned skip set comes from the policy document's skip_stages.
func (c *Coordinator) alignmentGate(ctx context.Context, w *model.Workflow) (map[string]bool, bool, error) {
	pol, err := policy.Load(c.policyPath)
	if err != nil {
		// Unparsable policy fails open, loudly.
		c.logger.Warn("policy document unusable, failing open", zap.Error(err))
		pol = nil
	}

	skip := make(map[string]bool)
	if pol != nil {
		for _, s := range pol.SkipStages {
			skip[s] = true
		}
	}

	existing, ok, err := c.artifacts.Get(w.ID, model.StageAlignment)
	if err != nil {
		return nil, false, err
	}
	if ok {
		if aligned, _ := existing.Payload["aligned"].(bool); !aligned {
			blocked, err := c.block(w, existing)
			return skip, blocked, err
		}
		return skip, false, nil
	}

	alignment, err := c.evaluator.Evaluate(w.Request, pol)
	if err != nil {
		return nil, false, err
	}

	payload := map[string]any{
		"producer":       "policy-evaluator",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"status":         string(model.ArtifactCompleted),
		"aligned":        alignment.Aligned,
		"confidence":     alignment.Confidence,
		"matching_goals": alignment.MatchingGoals,
		"violations":     alignment.Violations,
		"reasoning":      alignment.Reasoning,
	}
	artifact, err := model.NewArtifact(w.ID, model.StageAlignment, "v1", model.ArtifactCompleted, payload)
	if err != nil {
		return nil, false, err
	}
	if err := c.artifacts.Put(artifact); err != nil {
		return nil, false, err
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventAlignmentEvaluated,
		WorkflowID: w.ID,
		StageName:  model.StageAlignment,
		RunID:      w.RunID,
		Details: map[string]any{
			"aligned":    alignment.Aligned,
			"confidence": alignment.Confidence,
		},
	})

	if !alignment.Aligned {
		blocked, err := c.block(w, artifact)
		return skip, blocked, err
	}
	return skip, false, nil
}

func (c *Coordinator) block(w *model.Workflow, alignment *model.Artifact) (bool, error) {
	if w.Status == model.WorkflowBlocked {
		return true, nil
	}
	reason, _ := alignment.Payload["reasoning"].(string)
	if err := w.Transition(model.WorkflowBlocked, reason); err != nil {
		return false, err
	}
	if err := c.workflows.Update(w); err != nil {
		return false, err
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventWorkflowBlocked,
		WorkflowID: w.ID,
		RunID:      w.RunID,
		Details:    map[string]any{"reason": reason},
	})
	c.logger.Info("workflow blocked by policy",
		zap.String("workflow_id", w.ID),
		zap.String("reason", reason))
	return true, nil
}

// filterSkipped drops stages listed in the policy's skip_stages, and
// cascades: a stage requiring a skipped stage is skipped too.
func (c *Coordinator) filterSkipped(w *model.Workflow, group []registry.StageDefinition, skip map[string]bool) []registry.StageDefinition {
	var out []registry.StageDefinition
	for _, s := range group {
		skipped := skip[s.Name]
		for _, in := range s.RequiredInputs {
			if skip[in] {
				skipped = true
				skip[s.Name] = true
			}
		}
		if skipped {
			c.logger.Info("stage skipped by policy",
				zap.String("workflow_id", w.ID),
				zap.String("stage", s.Name))
			continue
		}
		out = append(out, s)
	}
	return out
}

// checkInputs enforces the precondition invariant: every required input
// artifact exists and is completed. A failed input halts the workflow.
func (c *Coordinator) checkInputs(w *model.Workflow, stages []registry.StageDefinition, skip map[string]bool) (bool, error) {
	for _, s := range stages {
		// Completed stages get skipped anyway; no need to re-check.
		if existing, ok, err := c.artifacts.Get(w.ID, s.Name); err != nil {
			return false, err
		} else if ok && existing.Status == model.ArtifactCompleted {
			continue
		}

		for _, in := range s.RequiredInputs {
			if skip[in] {
				continue
			}
			input, ok, err := c.artifacts.Get(w.ID, in)
			if err != nil {
				return false, err
			}
			if !ok || input.Status != model.ArtifactCompleted {
				state := "missing"
				if ok {
					state = string(input.Status)
				}
				reason := fmt.Sprintf("stage %s blocked: required input %s is %s", s.Name, in, state)
				return true, c.fail(w, s.Name, reason)
			}
		}
	}
	return false, nil
}

// runGroup executes one sequential stage or a parallel group to the
// barrier. Any failed member halts the workflow; sibling artifacts are
// retained either way.
func (c *Coordinator) runGroup(ctx context.Context, w *model.Workflow, stages []registry.StageDefinition) (bool, error) {
	type result struct {
		stage  string
		failed bool
	}
	results := make([]result, len(stages))

	if len(stages) == 1 {
		failed, err := c.runStage(ctx, w, stages[0])
		if err != nil {
			return false, err
		}
		results[0] = result{stage: stages[0].Name, failed: failed}
	} else {
		// Members run concurrently on independent worker invocations;
		// the group does not share a cancel scope because every member
		// must run to completion even when a sibling fails.
		var g errgroup.Group
		for i := range stages {
			i := i
			g.Go(func() error {
				failed, err := c.runStage(ctx, w, stages[i])
				results[i] = result{stage: stages[i].Name, failed: failed}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return false, err
		}
	}

	for _, r := range results {
		if r.failed {
			return true, c.fail(w, r.stage, fmt.Sprintf("stage %s failed", r.stage))
		}
	}
	return false, nil
}

// runStage invokes the worker for one stage unless a completed artifact
// already exists (idempotent resume). The returned bool reports a
// stage-local failure; the error is reserved for infrastructure
// problems.
func (c *Coordinator) runStage(ctx context.Context, w *model.Workflow, stage registry.StageDefinition) (bool, error) {
	if existing, ok, err := c.artifacts.Get(w.ID, stage.Name); err != nil {
		return false, err
	} else if ok {
		if existing.Status == model.ArtifactCompleted {
			c.logger.Debug("stage already completed, skipping",
				zap.String("workflow_id", w.ID),
				zap.String("stage", stage.Name))
			return false, nil
		}
		// A failed artifact requires the explicit supersede path.
		return true, nil
	}

	inputs := make(map[string]*model.Artifact, len(stage.RequiredInputs))
	for _, in := range stage.RequiredInputs {
		a, ok, err := c.artifacts.Get(w.ID, in)
		if err != nil {
			return false, err
		}
		if ok {
			inputs[in] = a
		}
	}

	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventStageStarted,
		WorkflowID: w.ID,
		StageName:  stage.Name,
		RunID:      w.RunID,
	})

	output, invokeErr := c.invokeWithRetry(ctx, w, stage, inputs)
	if invokeErr != nil {
		reason := ReasonWorkerError
		if errors.Is(invokeErr, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return true, c.storeFailed(w, stage, nil, reason, invokeErr.Error())
	}

	if err := model.ValidateEnvelope(output.Payload); err != nil {
		// Contract violation by the worker; never retried.
		return true, c.storeFailed(w, stage, output.Payload, ReasonValidation, err.Error())
	}

	if output.Status == string(model.ArtifactFailed) || output.Payload["status"] == string(model.ArtifactFailed) {
		return true, c.storeFailed(w, stage, output.Payload, ReasonWorkerError, "worker reported failure")
	}

	var gate *model.GateEvaluation
	if stage.QualityGate != nil {
		now := time.Now().UTC().Format(time.RFC3339)
		if gateErr := stage.QualityGate(output.Payload); gateErr != nil {
			gate = &model.GateEvaluation{Passed: false, Detail: gateErr.Error(), EvaluatedAt: now}
			return true, c.storeFailedWithGate(w, stage, output.Payload, ReasonQualityGate, gateErr.Error(), gate)
		}
		gate = &model.GateEvaluation{Passed: true, EvaluatedAt: now}
	}

	artifact, err := model.NewArtifact(w.ID, stage.Name, stage.OutputSchemaVersion, model.ArtifactCompleted, output.Payload)
	if err != nil {
		return false, err
	}
	artifact.GateEvaluation = gate
	if err := c.artifacts.Put(artifact); err != nil {
		return false, fmt.Errorf("store artifact for stage %s: %w", stage.Name, err)
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventArtifactStored,
		WorkflowID: w.ID,
		StageName:  stage.Name,
		EventID:    artifact.ID,
		RunID:      w.RunID,
		Details:    map[string]any{"status": string(artifact.Status)},
	})
	return false, nil
}

// invokeWithRetry calls the worker under the stage deadline, retrying
// transient failures with exponential backoff up to the configured
// attempt bound.
func (c *Coordinator) invokeWithRetry(ctx context.Context, w *model.Workflow, stage registry.StageDefinition, inputs map[string]*model.Artifact) (StageOutput, error) {
	input := StageInput{
		WorkflowID: w.ID,
		StageName:  stage.Name,
		Request:    w.Request,
		Artifacts:  inputs,
	}

	var output StageOutput
	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, stage.Timeout)
		defer cancel()

		out, err := c.worker.Invoke(attemptCtx, input)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		output = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.InitialBackoff
	bo.MaxInterval = c.retry.MaxBackoff

	notify := func(err error, wait time.Duration) {
		c.appendEvent(eventlog.Entry{
			EventType:  eventlog.EventStageRetried,
			WorkflowID: w.ID,
			StageName:  stage.Name,
			RunID:      w.RunID,
			Details:    map[string]any{"attempt": attempt, "error": err.Error()},
		})
		c.logger.Warn("stage attempt failed, retrying",
			zap.String("workflow_id", w.ID),
			zap.String("stage", stage.Name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1)), ctx),
		notify)
	return output, err
}

func (c *Coordinator) storeFailed(w *model.Workflow, stage registry.StageDefinition, payload map[string]any, reason, detail string) error {
	return c.storeFailedWithGate(w, stage, payload, reason, detail, nil)
}

func (c *Coordinator) storeFailedWithGate(w *model.Workflow, stage registry.StageDefinition, payload map[string]any, reason, detail string, gate *model.GateEvaluation) error {
	if payload == nil {
		payload = map[string]any{
			"producer":  stage.Name + "-worker",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"status":    string(model.ArtifactFailed),
		}
	}
	artifact, err := model.NewArtifact(w.ID, stage.Name, stage.OutputSchemaVersion, model.ArtifactFailed, payload)
	if err != nil {
		return err
	}
	artifact.FailureReason = reason
	artifact.GateEvaluation = gate
	if err := c.artifacts.Put(artifact); err != nil {
		return fmt.Errorf("store failed artifact for stage %s: %w", stage.Name, err)
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventStageFailed,
		WorkflowID: w.ID,
		StageName:  stage.Name,
		EventID:    artifact.ID,
		RunID:      w.RunID,
		Details:    map[string]any{"reason": reason, "detail": detail},
	})
	c.logger.Warn("stage failed",
		zap.String("workflow_id", w.ID),
		zap.String("stage", stage.Name),
		zap.String("reason", reason),
		zap.String("detail", detail))
	return nil
}

// fail transitions the workflow to failed with a diagnosable reason.
func (c *Coordinator) fail(w *model.Workflow, stage, reason string) error {
	if err := w.Transition(model.WorkflowFailed, reason); err != nil {
		return err
	}
	if err := c.workflows.Update(w); err != nil {
		return err
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventWorkflowFailed,
		WorkflowID: w.ID,
		StageName:  stage,
		RunID:      w.RunID,
		Details:    map[string]any{"reason": reason},
	})
	c.logger.Warn("workflow failed",
		zap.String("workflow_id", w.ID),
		zap.String("stage", stage),
		zap.String("reason", reason))
	return nil
}

// publish hands the completed artifact set to the external collaborator
// and records the result as a trailing artifact. Failures are logged
// only; the workflow stays completed.
func (c *Coordinator) publish(ctx context.Context, w *model.Workflow) {
	artifacts, err := c.artifacts.List(w.ID)
	if err != nil {
		c.logger.Warn("listing artifacts for publish failed", zap.Error(err))
		return
	}

	result, err := c.publisher.Publish(ctx, w.ID, artifacts)
	if err != nil {
		c.logger.Warn("publish collaborator failed",
			zap.String("workflow_id", w.ID),
			zap.Error(err))
		return
	}
	if result.CommitID == "" && result.IssueRef == "" {
		return
	}

	payload := map[string]any{
		"producer":  "publisher",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    string(model.ArtifactCompleted),
		"commit_id": result.CommitID,
		"issue_ref": result.IssueRef,
	}
	artifact, err := model.NewArtifact(w.ID, "publish", "v1", model.ArtifactCompleted, payload)
	if err != nil {
		c.logger.Warn("building publish artifact failed", zap.Error(err))
		return
	}
	if err := c.artifacts.Put(artifact); err != nil {
		c.logger.Warn("storing publish artifact failed", zap.Error(err))
		return
	}
	c.appendEvent(eventlog.Entry{
		EventType:  eventlog.EventPublishResult,
		WorkflowID: w.ID,
		StageName:  "publish",
		RunID:      w.RunID,
		Details:    map[string]any{"commit_id": result.CommitID, "issue_ref": result.IssueRef},
	})
}

func (c *Coordinator) appendEvent(entry eventlog.Entry) {
	if entry.EventID == "" {
		if id, err := model.GenerateID(model.IDTypeEvent); err == nil {
			entry.EventID = id
		}
	}
	if err := c.events.Append(entry); err != nil {
		c.logger.Error("execution log append failed", zap.Error(err))
	}
}
