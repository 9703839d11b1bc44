// Package store provides the metadata store consumed by the execution
// engine and the API layer. Three backends implement the same interface:
// in-memory (tests and development), SQLite (single-node default), and
// PostgreSQL.
package store

import (
	"context"

	"github.com/agentflow/agentflow/internal/workflow/models"
)

// ExecutionFilter narrows ListExecutions results. Zero values match all.
type ExecutionFilter struct {
	WorkflowID string
	UserID     string
	Status     models.ExecutionStatus
	Limit      int
	Offset     int
}

// Store is the narrow persistence interface the engine consumes.
// Reads scoped by user id return NotFound for records owned by others.
// UpdateExecution never moves a record out of a terminal status; such
// writes are silent no-ops so concurrent terminal writers stay safe.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id, userID string) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id, userID string) error

	CreateExecution(ctx context.Context, exec *models.Execution) error
	GetExecution(ctx context.Context, id, userID string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, id string, patch models.ExecutionPatch) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error)

	AppendAgentLog(ctx context.Context, log *models.AgentLog) error
	ListAgentLogs(ctx context.Context, executionID string) ([]*models.AgentLog, error)

	Close() error
}
