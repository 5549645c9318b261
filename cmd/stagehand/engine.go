package main

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/config"
	"github.com/okanewa/stagehand/internal/coordinator"
	"github.com/okanewa/stagehand/internal/eventlog"
	"github.com/okanewa/stagehand/internal/lock"
	"github.com/okanewa/stagehand/internal/logging"
	"github.com/okanewa/stagehand/internal/policy"
	"github.com/okanewa/stagehand/internal/registry"
	"github.com/okanewa/stagehand/internal/store"
	"github.com/okanewa/stagehand/internal/worker"
)

// engine bundles the wired-up components behind every CLI command.
type engine struct {
	cfg       config.Config
	logger    *zap.Logger
	workflows *store.WorkflowStore
	artifacts *store.ArtifactStore
	events    *eventlog.Logger
	coord     *coordinator.Coordinator
	flock     *lock.FileLock
}

// newEngine loads config and wires the component graph. When exclusive
// is set the workspace file lock is acquired; read-only commands skip
// it so they can run next to a live coordinator.
func newEngine(exclusive bool) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	var flock *lock.FileLock
	if exclusive {
		flock = lock.NewFileLock(filepath.Join(cfg.Home, "stagehand.lock"))
		if err := flock.TryLock(); err != nil {
			return nil, err
		}
	}

	reg, err := registry.Default(cfg.Stages.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("build stage registry: %w", err)
	}

	events, err := eventlog.New(filepath.Join(cfg.Home, "logs", "execution.jsonl"), cfg.EventLog.MaxSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("open execution log: %w", err)
	}

	locks := lock.NewMutexMap()
	workflows := store.NewWorkflowStore(cfg.Home, locks, logger)
	artifacts := store.NewArtifactStore(cfg.Home, locks, logger)

	var stageWorker coordinator.StageWorker
	if cfg.Worker.Command != "" {
		stageWorker = worker.NewExec(cfg.Worker.Command, cfg.Worker.Args, logger)
	}

	coord := coordinator.New(coordinator.Options{
		Registry:   reg,
		Workflows:  workflows,
		Artifacts:  artifacts,
		Evaluator:  policy.NewEvaluator(cfg.Policy.RejectThreshold, logger),
		PolicyPath: cfg.PolicyPath(),
		Worker:     stageWorker,
		Events:     events,
		Logger:     logger,
		Retry:      cfg.Retry,
	})

	return &engine{
		cfg:       cfg,
		logger:    logger,
		workflows: workflows,
		artifacts: artifacts,
		events:    events,
		coord:     coord,
		flock:     flock,
	}, nil
}

// requireWorker guards commands that dispatch stages.
func (e *engine) requireWorker() error {
	if e.cfg.Worker.Command == "" {
		return fmt.Errorf("no stage worker configured: set worker.command in the config file or STAGEHAND_WORKER_COMMAND")
	}
	return nil
}

func (e *engine) logPath() string {
	return e.events.Path()
}

func (e *engine) close() {
	if e.events != nil {
		e.events.Close()
	}
	if e.flock != nil {
		e.flock.Unlock()
	}
	if e.logger != nil {
		e.logger.Sync()
	}
}
