package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentflow/agentflow/internal/common/database"
	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

// PostgresStore is the multi-node backend. JSON payloads live in JSONB
// columns.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore initializes the schema over an existing pool.
func NewPostgresStore(ctx context.Context, db *database.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		workflow_data JSONB NOT NULL,
		execution_config JSONB,
		tags JSONB,
		visibility TEXT NOT NULL DEFAULT 'private',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows(owner_id);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		input_data JSONB,
		output_data JSONB,
		error_message TEXT,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		execution_time_ms BIGINT NOT NULL DEFAULT 0,
		logs JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_executions_user ON executions(user_id);

	CREATE TABLE IF NOT EXISTS agent_logs (
		id BIGSERIAL PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		agent_kind TEXT NOT NULL,
		agent_display_name TEXT,
		step_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		input_data JSONB,
		output_data JSONB,
		error_message TEXT,
		execution_time_ms BIGINT NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_execution ON agent_logs(execution_id);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

func toJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func fromJSONB(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// CreateWorkflow stores a workflow definition.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	if wf.Version == 0 {
		wf.Version = 1
	}
	if wf.Visibility == "" {
		wf.Visibility = "private"
	}

	data, err := toJSONB(wf.WorkflowData)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow data: %w", err)
	}
	cfg, err := toJSONB(wf.ExecutionConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal execution config: %w", err)
	}
	tags, err := toJSONB(wf.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO workflows (id, owner_id, name, version, workflow_data, execution_config, tags, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		wf.ID, wf.OwnerID, wf.Name, wf.Version, data, cfg, tags, wf.Visibility, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return apperrors.Conflict("workflow already exists")
		}
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow returns a workflow if the user owns it or it is public.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id, userID string) (*models.Workflow, error) {
	var wf models.Workflow
	var data, cfg, tags []byte

	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, version, workflow_data, execution_config, tags, visibility, created_at, updated_at
		FROM workflows WHERE id = $1`, id,
	).Scan(&wf.ID, &wf.OwnerID, &wf.Name, &wf.Version, &data, &cfg, &tags,
		&wf.Visibility, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if err := fromJSONB(data, &wf.WorkflowData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow data: %w", err)
	}
	if err := fromJSONB(cfg, &wf.ExecutionConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution config: %w", err)
	}
	if err := fromJSONB(tags, &wf.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if userID != "" && wf.OwnerID != userID && wf.Visibility != "public" {
		return nil, apperrors.NotFound("workflow", id)
	}
	return &wf, nil
}

// UpdateWorkflow replaces a workflow definition and bumps its version.
func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	data, err := toJSONB(wf.WorkflowData)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow data: %w", err)
	}
	cfg, err := toJSONB(wf.ExecutionConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal execution config: %w", err)
	}
	tags, err := toJSONB(wf.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	wf.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE workflows
		SET name = $1, version = version + 1, workflow_data = $2, execution_config = $3, tags = $4, visibility = $5, updated_at = $6
		WHERE id = $7`,
		wf.Name, data, cfg, tags, wf.Visibility, wf.UpdatedAt, wf.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("workflow", wf.ID)
	}
	return nil
}

// DeleteWorkflow removes a workflow; executions and logs cascade.
func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id, userID string) error {
	query := `DELETE FROM workflows WHERE id = $1`
	args := []interface{}{id}
	if userID != "" {
		query += ` AND owner_id = $2`
		args = append(args, userID)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("workflow", id)
	}
	return nil
}

// CreateExecution stores a new execution record.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	input, err := toJSONB(exec.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}
	output, err := toJSONB(exec.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}
	logs, err := toJSONB(exec.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, user_id, status, trigger_type, input_data, output_data,
			error_message, started_at, completed_at, execution_time_ms, logs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		exec.ID, exec.WorkflowID, exec.UserID, exec.Status, exec.TriggerType, input, output,
		exec.ErrorMessage, exec.StartedAt, exec.CompletedAt, exec.ExecutionTimeMS, logs, exec.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return apperrors.Conflict("execution already exists")
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanExecutionRow(row pgx.Row) (*models.Execution, error) {
	var exec models.Execution
	var input, output, logs []byte
	var errMsg *string
	var startedAt, completedAt *time.Time

	err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.UserID, &exec.Status, &exec.TriggerType,
		&input, &output, &errMsg, &startedAt, &completedAt, &exec.ExecutionTimeMS, &logs, &exec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		exec.ErrorMessage = *errMsg
	}
	exec.StartedAt = startedAt
	exec.CompletedAt = completedAt
	if err := fromJSONB(input, &exec.InputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
	}
	if err := fromJSONB(output, &exec.OutputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
	}
	if err := fromJSONB(logs, &exec.Logs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}
	return &exec, nil
}

// GetExecution returns an execution scoped to its owner.
func (s *PostgresStore) GetExecution(ctx context.Context, id, userID string) (*models.Execution, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, workflow_id, user_id, status, trigger_type, input_data, output_data,
			error_message, started_at, completed_at, execution_time_ms, logs, created_at
		FROM executions WHERE id = $1`, id)

	exec, err := s.scanExecutionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if userID != "" && exec.UserID != userID {
		return nil, apperrors.NotFound("execution", id)
	}
	return exec, nil
}

// UpdateExecution applies a partial update. The WHERE clause excludes
// terminal rows so a late writer cannot reopen a finished execution.
func (s *PostgresStore) UpdateExecution(ctx context.Context, id string, patch models.ExecutionPatch) error {
	sets := []string{}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		sets = append(sets, "status = "+arg(*patch.Status))
	}
	if patch.OutputData != nil {
		output, err := toJSONB(patch.OutputData)
		if err != nil {
			return fmt.Errorf("failed to marshal output data: %w", err)
		}
		sets = append(sets, "output_data = "+arg(output))
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = "+arg(*patch.ErrorMessage))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = "+arg(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = "+arg(*patch.CompletedAt))
	}
	if patch.ExecutionTimeMS != nil {
		sets = append(sets, "execution_time_ms = "+arg(*patch.ExecutionTimeMS))
	}
	if patch.Logs != nil {
		logs, err := toJSONB(patch.Logs)
		if err != nil {
			return fmt.Errorf("failed to marshal logs: %w", err)
		}
		sets = append(sets, "logs = "+arg(logs))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE executions SET %s
		WHERE id = %s AND status NOT IN ('completed', 'failed', 'cancelled')`,
		strings.Join(sets, ", "), arg(id))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.db.QueryRow(ctx, `SELECT 1 FROM executions WHERE id = $1`, id).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("execution", id)
		}
		if err != nil {
			return fmt.Errorf("failed to check execution: %w", err)
		}
	}
	return nil
}

// ListExecutions returns executions matching the filter, newest first.
func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error) {
	query := `
		SELECT id, workflow_id, user_id, status, trigger_type, input_data, output_data,
			error_message, started_at, completed_at, execution_time_ms, logs, created_at
		FROM executions WHERE 1=1`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ` + arg(filter.WorkflowID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ` + arg(filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ` + arg(filter.Offset)
		}
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var result []*models.Execution
	for rows.Next() {
		exec, err := s.scanExecutionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// AppendAgentLog appends a per-node log record for an execution.
func (s *PostgresStore) AppendAgentLog(ctx context.Context, log *models.AgentLog) error {
	input, err := toJSONB(log.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}
	output, err := toJSONB(log.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO agent_logs (execution_id, node_id, agent_kind, agent_display_name, step_index,
			status, input_data, output_data, error_message, execution_time_ms, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		log.ExecutionID, log.NodeID, log.AgentKind, log.AgentDisplayName, log.StepIndex,
		log.Status, input, output, log.ErrorMessage, log.ExecutionTimeMS, log.StartedAt, log.CompletedAt,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to insert agent log: %w", err)
	}
	return nil
}

// ListAgentLogs returns the agent logs of an execution in step order.
func (s *PostgresStore) ListAgentLogs(ctx context.Context, executionID string) ([]*models.AgentLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, node_id, agent_kind, agent_display_name, step_index,
			status, input_data, output_data, error_message, execution_time_ms, started_at, completed_at
		FROM agent_logs WHERE execution_id = $1 ORDER BY step_index ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent logs: %w", err)
	}
	defer rows.Close()

	var result []*models.AgentLog
	for rows.Next() {
		var log models.AgentLog
		var displayName, errMsg *string
		var input, output []byte
		var startedAt, completedAt *time.Time

		err := rows.Scan(&log.ID, &log.ExecutionID, &log.NodeID, &log.AgentKind, &displayName,
			&log.StepIndex, &log.Status, &input, &output, &errMsg, &log.ExecutionTimeMS,
			&startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		if displayName != nil {
			log.AgentDisplayName = *displayName
		}
		if errMsg != nil {
			log.ErrorMessage = *errMsg
		}
		log.StartedAt = startedAt
		log.CompletedAt = completedAt
		if err := fromJSONB(input, &log.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
		}
		if err := fromJSONB(output, &log.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
		}
		result = append(result, &log)
	}
	return result, rows.Err()
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
