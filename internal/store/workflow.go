package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/okanewa/stagehand/internal/fsio"
	"github.com/okanewa/stagehand/internal/lock"
	"github.com/okanewa/stagehand/internal/model"
)

// ErrWorkflowExists is returned by Create for a duplicate workflow id.
var ErrWorkflowExists = errors.New("workflow already exists")

// ErrWorkflowNotFound is returned by Update for an unknown workflow id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowStore persists one YAML record per workflow under
// <home>/workflows/. Records are never deleted.
type WorkflowStore struct {
	home   string
	locks  *lock.MutexMap
	logger *zap.Logger
}

func NewWorkflowStore(home string, locks *lock.MutexMap, logger *zap.Logger) *WorkflowStore {
	return &WorkflowStore{home: home, locks: locks, logger: logger}
}

func (s *WorkflowStore) dir() string {
	return filepath.Join(s.home, "workflows")
}

func (s *WorkflowStore) path(id string) string {
	return filepath.Join(s.dir(), id+".yaml")
}

// Create persists a new workflow record.
func (s *WorkflowStore) Create(w *model.Workflow) error {
	key := "workflow:" + w.ID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	path := s.path(w.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrWorkflowExists, w.ID)
	}
	if err := os.MkdirAll(s.dir(), 0755); err != nil {
		return fmt.Errorf("create workflow dir: %w", err)
	}
	if err := fsio.AtomicWriteYAML(path, w); err != nil {
		return fmt.Errorf("write workflow %s: %w", w.ID, err)
	}
	return nil
}

// Update rewrites an existing workflow record.
func (s *WorkflowStore) Update(w *model.Workflow) error {
	key := "workflow:" + w.ID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	path := s.path(w.ID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, w.ID)
	}
	if err := fsio.AtomicWriteYAML(path, w); err != nil {
		return fmt.Errorf("write workflow %s: %w", w.ID, err)
	}
	return nil
}

// Get loads a workflow record. A record that fails to parse is restored
// from its .bak when possible before giving up.
func (s *WorkflowStore) Get(id string) (*model.Workflow, bool, error) {
	path := s.path(id)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read workflow: %w", err)
	}

	var w model.Workflow
	if err := yamlv3.Unmarshal(content, &w); err == nil {
		return &w, true, nil
	}

	s.logger.Warn("workflow record unparsable, attempting backup restore",
		zap.String("workflow_id", id))
	if rerr := fsio.RestoreFromBackup(path); rerr != nil {
		return nil, false, fmt.Errorf("workflow %s unparsable and unrestorable: %w", id, rerr)
	}
	content, err = os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read restored workflow: %w", err)
	}
	if err := yamlv3.Unmarshal(content, &w); err != nil {
		return nil, false, fmt.Errorf("restored workflow %s still unparsable: %w", id, err)
	}
	return &w, true, nil
}

// List returns all workflow records sorted by id (ids sort by creation
// time thanks to the embedded timestamp).
func (s *WorkflowStore) List() ([]*model.Workflow, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	var workflows []*model.Workflow
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".bak") {
			continue
		}
		id := strings.TrimSuffix(name, ".yaml")
		w, ok, err := s.Get(id)
		if err != nil {
			s.logger.Warn("skipping unreadable workflow record", zap.String("id", id), zap.Error(err))
			continue
		}
		if ok {
			workflows = append(workflows, w)
		}
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })
	return workflows, nil
}
