package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanewa/stagehand/internal/lock"
	"github.com/okanewa/stagehand/internal/logging"
	"github.com/okanewa/stagehand/internal/model"
)

func newWorkflowStore(t *testing.T) (*WorkflowStore, string) {
	t.Helper()
	home := t.TempDir()
	return NewWorkflowStore(home, lock.NewMutexMap(), logging.NewNop()), home
}

func TestWorkflowStore_CreateGet(t *testing.T) {
	s, _ := newWorkflowStore(t)

	w, err := model.NewWorkflow("fix a typo in a comment")
	require.NoError(t, err)
	require.NoError(t, s.Create(w))

	got, ok, err := s.Get(w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, w.Request, got.Request)
	assert.Equal(t, model.WorkflowPending, got.Status)
}

func TestWorkflowStore_CreateDuplicate(t *testing.T) {
	s, _ := newWorkflowStore(t)

	w, err := model.NewWorkflow("anything")
	require.NoError(t, err)
	require.NoError(t, s.Create(w))

	err = s.Create(w)
	assert.True(t, errors.Is(err, ErrWorkflowExists))
}

func TestWorkflowStore_UpdateSurvivesReload(t *testing.T) {
	s, home := newWorkflowStore(t)

	w, err := model.NewWorkflow("add retries")
	require.NoError(t, err)
	require.NoError(t, s.Create(w))

	require.NoError(t, w.Transition(model.WorkflowRunning, ""))
	stage := "planning"
	w.CurrentStage = &stage
	require.NoError(t, s.Update(w))

	// Fresh store over the same directory simulates a process restart.
	s2 := NewWorkflowStore(home, lock.NewMutexMap(), logging.NewNop())
	got, ok, err := s2.Get(w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.WorkflowRunning, got.Status)
	require.NotNil(t, got.CurrentStage)
	assert.Equal(t, "planning", *got.CurrentStage)
}

func TestWorkflowStore_UpdateMissing(t *testing.T) {
	s, _ := newWorkflowStore(t)
	w, err := model.NewWorkflow("ghost")
	require.NoError(t, err)
	err = s.Update(w)
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
}

func TestWorkflowStore_GetMissing(t *testing.T) {
	s, _ := newWorkflowStore(t)
	_, ok, err := s.Get("wf_0000000001_ffffffff")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkflowStore_RestoresFromBackup(t *testing.T) {
	s, home := newWorkflowStore(t)

	w, err := model.NewWorkflow("restorable")
	require.NoError(t, err)
	require.NoError(t, s.Create(w))
	require.NoError(t, s.Update(w)) // creates the .bak

	// Corrupt the live record.
	path := filepath.Join(home, "workflows", w.ID+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(":{corrupt"), 0644))

	got, ok, err := s.Get(w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, w.ID, got.ID)
}

func TestWorkflowStore_List(t *testing.T) {
	s, _ := newWorkflowStore(t)

	for _, req := range []string{"one", "two", "three"} {
		w, err := model.NewWorkflow(req)
		require.NoError(t, err)
		require.NoError(t, s.Create(w))
	}

	workflows, err := s.List()
	require.NoError(t, err)
	assert.Len(t, workflows, 3)
}
