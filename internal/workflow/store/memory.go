package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

// MemoryStore is an in-memory Store used by tests and development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*models.Workflow
	executions map[string]*models.Execution
	agentLogs  map[string][]*models.AgentLog
	nextLogID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.Execution),
		agentLogs:  make(map[string][]*models.AgentLog),
	}
}

// CreateWorkflow stores a workflow definition.
func (s *MemoryStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return apperrors.Conflict("workflow already exists")
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

// GetWorkflow returns a workflow if the user owns it or it is public.
// An empty userID bypasses the ownership check (internal reads).
func (s *MemoryStore) GetWorkflow(ctx context.Context, id, userID string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, apperrors.NotFound("workflow", id)
	}
	if userID != "" && wf.OwnerID != userID && wf.Visibility != "public" {
		return nil, apperrors.NotFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

// UpdateWorkflow replaces a workflow definition and bumps its version.
func (s *MemoryStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.workflows[wf.ID]
	if !ok {
		return apperrors.NotFound("workflow", wf.ID)
	}
	wf.Version = existing.Version + 1
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now().UTC()
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

// DeleteWorkflow removes a workflow and cascades to its executions and logs.
func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return apperrors.NotFound("workflow", id)
	}
	if userID != "" && wf.OwnerID != userID {
		return apperrors.NotFound("workflow", id)
	}
	delete(s.workflows, id)
	for execID, exec := range s.executions {
		if exec.WorkflowID == id {
			delete(s.executions, execID)
			delete(s.agentLogs, execID)
		}
	}
	return nil
}

// CreateExecution stores a new execution record.
func (s *MemoryStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return apperrors.Conflict("execution already exists")
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

// GetExecution returns an execution scoped to its owner.
// An empty userID bypasses the ownership check (internal reads).
func (s *MemoryStore) GetExecution(ctx context.Context, id, userID string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, apperrors.NotFound("execution", id)
	}
	if userID != "" && exec.UserID != userID {
		return nil, apperrors.NotFound("execution", id)
	}
	cp := *exec
	cp.Logs = append([]models.ProgressRecord(nil), exec.Logs...)
	return &cp, nil
}

// UpdateExecution applies a partial update. Writes that would move a
// record out of a terminal status are silently dropped.
func (s *MemoryStore) UpdateExecution(ctx context.Context, id string, patch models.ExecutionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return apperrors.NotFound("execution", id)
	}
	if exec.Status.IsTerminal() {
		return nil
	}

	applyPatch(exec, patch)
	return nil
}

func applyPatch(exec *models.Execution, patch models.ExecutionPatch) {
	if patch.Status != nil {
		exec.Status = *patch.Status
	}
	if patch.OutputData != nil {
		exec.OutputData = patch.OutputData
	}
	if patch.ErrorMessage != nil {
		exec.ErrorMessage = *patch.ErrorMessage
	}
	if patch.StartedAt != nil {
		exec.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		exec.CompletedAt = patch.CompletedAt
	}
	if patch.ExecutionTimeMS != nil {
		exec.ExecutionTimeMS = *patch.ExecutionTimeMS
	}
	if patch.Logs != nil {
		exec.Logs = append([]models.ProgressRecord(nil), patch.Logs...)
	}
}

// ListExecutions returns executions matching the filter, newest first.
func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Execution
	for _, exec := range s.executions {
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.UserID != "" && exec.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		cp := *exec
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*models.Execution{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// AppendAgentLog appends a per-node log record for an execution.
func (s *MemoryStore) AppendAgentLog(ctx context.Context, log *models.AgentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	cp := *log
	cp.ID = s.nextLogID
	s.agentLogs[log.ExecutionID] = append(s.agentLogs[log.ExecutionID], &cp)
	return nil
}

// ListAgentLogs returns the agent logs of an execution in step order.
func (s *MemoryStore) ListAgentLogs(ctx context.Context, executionID string) ([]*models.AgentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.agentLogs[executionID]
	result := make([]*models.AgentLog, 0, len(logs))
	for _, l := range logs {
		cp := *l
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StepIndex < result[j].StepIndex
	})
	return result, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
