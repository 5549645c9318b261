// Package store provides the durable, file-backed workflow and artifact
// stores. Artifacts are write-once JSON documents keyed by
// (workflow_id, stage_name); workflow records are YAML. All writes are
// atomic and synchronous: the caller never proceeds on an
// unacknowledged write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/fsio"
	"github.com/okanewa/stagehand/internal/lock"
	"github.com/okanewa/stagehand/internal/model"
)

// ErrArtifactExists is returned by Put when an artifact is already
// stored for the key. Retries must go through Supersede first.
var ErrArtifactExists = errors.New("artifact already exists for this workflow and stage")

// ArtifactStore persists one JSON document per (workflow_id, stage_name)
// under <home>/artifacts/<workflow_id>/. Writes are serialized per
// workflow; reads of completed artifacts need no locking.
type ArtifactStore struct {
	home   string
	locks  *lock.MutexMap
	logger *zap.Logger
}

func NewArtifactStore(home string, locks *lock.MutexMap, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{home: home, locks: locks, logger: logger}
}

func (s *ArtifactStore) dir(workflowID string) string {
	return filepath.Join(s.home, "artifacts", workflowID)
}

func (s *ArtifactStore) path(workflowID, stageName string) string {
	return filepath.Join(s.dir(workflowID), stageName+".json")
}

// Put stores an artifact. It fails with ErrArtifactExists if any
// non-superseded artifact is already stored for the key.
func (s *ArtifactStore) Put(artifact *model.Artifact) error {
	key := "artifacts:" + artifact.WorkflowID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	path := s.path(artifact.WorkflowID, artifact.StageName)
	if existing, ok, err := s.read(path); err != nil {
		return err
	} else if ok && existing.Status != model.ArtifactSuperseded {
		return fmt.Errorf("%w: %s/%s is %s", ErrArtifactExists,
			artifact.WorkflowID, artifact.StageName, existing.Status)
	}

	if err := os.MkdirAll(s.dir(artifact.WorkflowID), 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := fsio.AtomicWriteJSON(path, artifact); err != nil {
		return fmt.Errorf("write artifact %s/%s: %w", artifact.WorkflowID, artifact.StageName, err)
	}
	return nil
}

// Supersede marks the stored artifact superseded and moves it aside so
// a re-run can Put a fresh one. This is the only override path.
func (s *ArtifactStore) Supersede(workflowID, stageName string) error {
	key := "artifacts:" + workflowID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	path := s.path(workflowID, stageName)
	artifact, ok, err := s.read(path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no artifact to supersede for %s/%s", workflowID, stageName)
	}
	if err := model.ValidateArtifactTransition(artifact.Status, model.ArtifactSuperseded); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	artifact.Status = model.ArtifactSuperseded
	artifact.SupersededAt = &now

	archived := filepath.Join(s.dir(workflowID),
		fmt.Sprintf("%s.superseded.%s.json", stageName, time.Now().Format("20060102T150405")))
	if err := fsio.AtomicWriteJSON(archived, artifact); err != nil {
		return fmt.Errorf("archive superseded artifact: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove superseded artifact: %w", err)
	}
	return nil
}

// Get returns the current artifact for the key. Unparsable files are
// quarantined and reported as absent so a resume can regenerate them.
func (s *ArtifactStore) Get(workflowID, stageName string) (*model.Artifact, bool, error) {
	return s.read(s.path(workflowID, stageName))
}

// List returns all current artifacts for a workflow, ordered by
// creation time then stage name.
func (s *ArtifactStore) List(workflowID string) ([]*model.Artifact, error) {
	entries, err := os.ReadDir(s.dir(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}

	var artifacts []*model.Artifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.Contains(name, ".superseded.") {
			continue
		}
		a, ok, err := s.read(filepath.Join(s.dir(workflowID), name))
		if err != nil {
			return nil, err
		}
		if ok {
			artifacts = append(artifacts, a)
		}
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].CreatedAt != artifacts[j].CreatedAt {
			return artifacts[i].CreatedAt < artifacts[j].CreatedAt
		}
		return artifacts[i].StageName < artifacts[j].StageName
	})
	return artifacts, nil
}

func (s *ArtifactStore) read(path string) (*model.Artifact, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read artifact: %w", err)
	}

	var artifact model.Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		moved, qerr := fsio.Quarantine(s.home, path)
		if qerr != nil {
			return nil, false, fmt.Errorf("artifact unparsable and quarantine failed: %v (parse error: %w)", qerr, err)
		}
		s.logger.Warn("quarantined unparsable artifact",
			zap.String("path", path),
			zap.String("quarantined_to", moved),
			zap.Error(err))
		return nil, false, nil
	}
	return &artifact, true, nil
}
