package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agentflow_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_WorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	wf := testWorkflow("wf-1", "user-1")
	wf.Tags = []string{"etl", "nightly"}
	wf.ExecutionConfig = models.ExecutionConfig{
		TimeoutSeconds:  120,
		MaxRetries:      2,
		ParallelAllowed: true,
	}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)
	assert.Equal(t, []string{"etl", "nightly"}, got.Tags)
	assert.Equal(t, 120, got.ExecutionConfig.TimeoutSeconds)
	require.Len(t, got.WorkflowData.Nodes, 1)
	assert.Equal(t, "data_processor", got.WorkflowData.Nodes[0].Data.AgentKind)
}

func TestSQLiteStore_WorkflowOwnership(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1", "user-1")))

	_, err := s.GetWorkflow(ctx, "wf-1", "user-2")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.GetWorkflow(ctx, "wf-1", "")
	assert.NoError(t, err)
}

func TestSQLiteStore_UpdateWorkflowBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	wf := testWorkflow("wf-1", "user-1")
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	wf.Name = "renamed"
	require.NoError(t, s.UpdateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 2, got.Version)
}

func TestSQLiteStore_ExecutionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1", "user-1")))
	require.NoError(t, s.CreateExecution(ctx, testExecution("exec-1", "wf-1", "user-1")))

	started := time.Now().UTC().Truncate(time.Millisecond)
	running := models.StatusRunning
	require.NoError(t, s.UpdateExecution(ctx, "exec-1", models.ExecutionPatch{
		Status:    &running,
		StartedAt: &started,
	}))

	got, err := s.GetExecution(ctx, "exec-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, "value", got.InputData["key"])
}

func TestSQLiteStore_TerminalStatusIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1", "user-1")))
	require.NoError(t, s.CreateExecution(ctx, testExecution("exec-1", "wf-1", "user-1")))

	failed := models.StatusFailed
	msg := "node n1 failed"
	require.NoError(t, s.UpdateExecution(ctx, "exec-1", models.ExecutionPatch{
		Status:       &failed,
		ErrorMessage: &msg,
	}))

	completed := models.StatusCompleted
	require.NoError(t, s.UpdateExecution(ctx, "exec-1", models.ExecutionPatch{Status: &completed}))

	got, err := s.GetExecution(ctx, "exec-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "node n1 failed", got.ErrorMessage)
}

func TestSQLiteStore_UpdateExecutionNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	running := models.StatusRunning
	err := s.UpdateExecution(ctx, "missing", models.ExecutionPatch{Status: &running})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSQLiteStore_ExecutionLogsPersist(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1", "user-1")))
	require.NoError(t, s.CreateExecution(ctx, testExecution("exec-1", "wf-1", "user-1")))

	logs := []models.ProgressRecord{
		{Timestamp: time.Now().UTC(), ExecutionID: "exec-1", NodeID: "n1", Level: "info", Type: models.ProgressNodeStarted},
		{Timestamp: time.Now().UTC(), ExecutionID: "exec-1", NodeID: "n1", Level: "info", Type: models.ProgressNodeCompleted},
	}
	require.NoError(t, s.UpdateExecution(ctx, "exec-1", models.ExecutionPatch{Logs: logs}))

	got, err := s.GetExecution(ctx, "exec-1", "user-1")
	require.NoError(t, err)
	require.Len(t, got.Logs, 2)
	assert.Equal(t, models.ProgressNodeStarted, got.Logs[0].Type)
}

func TestSQLiteStore_ListExecutionsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1", "user-1")))

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		exec := testExecution(execID(i), "wf-1", "user-1")
		exec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateExecution(ctx, exec))
	}

	result, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, execID(2), result[0].ID)

	result, err = s.ListExecutions(ctx, ExecutionFilter{WorkflowID: "wf-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, execID(1), result[0].ID)

	result, err = s.ListExecutions(ctx, ExecutionFilter{Status: models.StatusQueued})
	require.NoError(t, err)
	assert.Len(t, result, 3)
}

func execID(i int) string {
	return "exec-" + string(rune('a'+i))
}

func TestSQLiteStore_AgentLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1", "user-1")))
	require.NoError(t, s.CreateExecution(ctx, testExecution("exec-1", "wf-1", "user-1")))

	log := &models.AgentLog{
		ExecutionID:      "exec-1",
		NodeID:           "n1",
		AgentKind:        "http_caller",
		AgentDisplayName: "Fetch users",
		StepIndex:        0,
		Status:           "completed",
		InputData:        map[string]interface{}{"url": "https://example.com"},
		OutputData:       map[string]interface{}{"status_code": float64(200)},
		ExecutionTimeMS:  17,
	}
	require.NoError(t, s.AppendAgentLog(ctx, log))
	assert.NotZero(t, log.ID)

	logs, err := s.ListAgentLogs(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Fetch users", logs[0].AgentDisplayName)
	assert.Equal(t, "https://example.com", logs[0].InputData["url"])
}

func TestSQLiteStore_DeleteWorkflowCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1", "user-1")))
	require.NoError(t, s.CreateExecution(ctx, testExecution("exec-1", "wf-1", "user-1")))
	require.NoError(t, s.AppendAgentLog(ctx, &models.AgentLog{
		ExecutionID: "exec-1", NodeID: "n1", AgentKind: "http_caller", Status: "completed",
	}))

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1", "user-1"))

	_, err := s.GetExecution(ctx, "exec-1", "")
	assert.True(t, apperrors.IsNotFound(err))
	logs, err := s.ListAgentLogs(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, logs)
}
