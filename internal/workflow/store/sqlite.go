package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

// SQLiteStore is the single-node default backend. Graph payloads, logs,
// and input/output maps are stored as JSON in TEXT columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file and initializes
// the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreWithDB creates a store over an existing connection.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// DB returns the underlying sql.DB instance for shared access.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// initSchema creates the database tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	workflowsSchema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		workflow_data TEXT NOT NULL,
		execution_config TEXT,
		tags TEXT,
		visibility TEXT NOT NULL DEFAULT 'private',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows(owner_id);
	`
	if _, err := s.db.Exec(workflowsSchema); err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}

	executionsSchema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		input_data TEXT,
		output_data TEXT,
		error_message TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		logs TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_executions_user ON executions(user_id);
	`
	if _, err := s.db.Exec(executionsSchema); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	agentLogsSchema := `
	CREATE TABLE IF NOT EXISTS agent_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		agent_kind TEXT NOT NULL,
		agent_display_name TEXT,
		step_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		input_data TEXT,
		output_data TEXT,
		error_message TEXT,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		completed_at DATETIME,
		FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_execution ON agent_logs(execution_id);
	`
	if _, err := s.db.Exec(agentLogsSchema); err != nil {
		return fmt.Errorf("failed to create agent_logs table: %w", err)
	}

	return nil
}

func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON(src sql.NullString, dst interface{}) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

// CreateWorkflow stores a workflow definition.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
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

	data, err := marshalJSON(wf.WorkflowData)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow data: %w", err)
	}
	cfg, err := marshalJSON(wf.ExecutionConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal execution config: %w", err)
	}
	tags, err := marshalJSON(wf.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, owner_id, name, version, workflow_data, execution_config, tags, visibility, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OwnerID, wf.Name, wf.Version, data, cfg, tags, wf.Visibility, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return apperrors.Conflict("workflow already exists")
		}
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow returns a workflow if the user owns it or it is public.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id, userID string) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, version, workflow_data, execution_config, tags, visibility, created_at, updated_at
		FROM workflows WHERE id = ?`, id)

	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if userID != "" && wf.OwnerID != userID && wf.Visibility != "public" {
		return nil, apperrors.NotFound("workflow", id)
	}
	return wf, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var wf models.Workflow
	var data, cfg, tags sql.NullString

	err := row.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &wf.Version, &data, &cfg, &tags,
		&wf.Visibility, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(data, &wf.WorkflowData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow data: %w", err)
	}
	if err := unmarshalJSON(cfg, &wf.ExecutionConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution config: %w", err)
	}
	if err := unmarshalJSON(tags, &wf.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return &wf, nil
}

// UpdateWorkflow replaces a workflow definition and bumps its version.
func (s *SQLiteStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	data, err := marshalJSON(wf.WorkflowData)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow data: %w", err)
	}
	cfg, err := marshalJSON(wf.ExecutionConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal execution config: %w", err)
	}
	tags, err := marshalJSON(wf.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	wf.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET name = ?, version = version + 1, workflow_data = ?, execution_config = ?, tags = ?, visibility = ?, updated_at = ?
		WHERE id = ?`,
		wf.Name, data, cfg, tags, wf.Visibility, wf.UpdatedAt, wf.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperrors.NotFound("workflow", wf.ID)
	}
	return nil
}

// DeleteWorkflow removes a workflow; executions and logs cascade.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id, userID string) error {
	query := `DELETE FROM workflows WHERE id = ?`
	args := []interface{}{id}
	if userID != "" {
		query += ` AND owner_id = ?`
		args = append(args, userID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperrors.NotFound("workflow", id)
	}
	return nil
}

// CreateExecution stores a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	input, err := marshalJSON(exec.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}
	output, err := marshalJSON(exec.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}
	logs, err := marshalJSON(exec.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, user_id, status, trigger_type, input_data, output_data,
			error_message, started_at, completed_at, execution_time_ms, logs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.UserID, exec.Status, exec.TriggerType, input, output,
		exec.ErrorMessage, exec.StartedAt, exec.CompletedAt, exec.ExecutionTimeMS, logs, exec.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return apperrors.Conflict("execution already exists")
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecution returns an execution scoped to its owner.
func (s *SQLiteStore) GetExecution(ctx context.Context, id, userID string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, user_id, status, trigger_type, input_data, output_data,
			error_message, started_at, completed_at, execution_time_ms, logs, created_at
		FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
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

func scanExecution(row rowScanner) (*models.Execution, error) {
	var exec models.Execution
	var input, output, logs sql.NullString
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.UserID, &exec.Status, &exec.TriggerType,
		&input, &output, &errMsg, &startedAt, &completedAt, &exec.ExecutionTimeMS, &logs, &exec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if errMsg.Valid {
		exec.ErrorMessage = errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	if err := unmarshalJSON(input, &exec.InputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
	}
	if err := unmarshalJSON(output, &exec.OutputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
	}
	if err := unmarshalJSON(logs, &exec.Logs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}
	return &exec, nil
}

// UpdateExecution applies a partial update. The WHERE clause excludes
// terminal rows so a late writer cannot reopen a finished execution.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, id string, patch models.ExecutionPatch) error {
	sets := []string{}
	args := []interface{}{}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.OutputData != nil {
		output, err := marshalJSON(patch.OutputData)
		if err != nil {
			return fmt.Errorf("failed to marshal output data: %w", err)
		}
		sets = append(sets, "output_data = ?")
		args = append(args, output)
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *patch.CompletedAt)
	}
	if patch.ExecutionTimeMS != nil {
		sets = append(sets, "execution_time_ms = ?")
		args = append(args, *patch.ExecutionTimeMS)
	}
	if patch.Logs != nil {
		logs, err := marshalJSON(patch.Logs)
		if err != nil {
			return fmt.Errorf("failed to marshal logs: %w", err)
		}
		sets = append(sets, "logs = ?")
		args = append(args, logs)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE executions SET %s
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
		strings.Join(sets, ", "))
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Distinguish missing from already-terminal: terminal is a no-op.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return apperrors.NotFound("execution", id)
		}
		if err != nil {
			return fmt.Errorf("failed to check execution: %w", err)
		}
	}
	return nil
}

// ListExecutions returns executions matching the filter, newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error) {
	query := `
		SELECT id, workflow_id, user_id, status, trigger_type, input_data, output_data,
			error_message, started_at, completed_at, execution_time_ms, logs, created_at
		FROM executions WHERE 1=1`
	args := []interface{}{}

	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// AppendAgentLog appends a per-node log record for an execution.
func (s *SQLiteStore) AppendAgentLog(ctx context.Context, log *models.AgentLog) error {
	input, err := marshalJSON(log.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}
	output, err := marshalJSON(log.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_logs (execution_id, node_id, agent_kind, agent_display_name, step_index,
			status, input_data, output_data, error_message, execution_time_ms, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ExecutionID, log.NodeID, log.AgentKind, log.AgentDisplayName, log.StepIndex,
		log.Status, input, output, log.ErrorMessage, log.ExecutionTimeMS, log.StartedAt, log.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent log: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		log.ID = id
	}
	return nil
}

// ListAgentLogs returns the agent logs of an execution in step order.
func (s *SQLiteStore) ListAgentLogs(ctx context.Context, executionID string) ([]*models.AgentLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, agent_kind, agent_display_name, step_index,
			status, input_data, output_data, error_message, execution_time_ms, started_at, completed_at
		FROM agent_logs WHERE execution_id = ? ORDER BY step_index ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.AgentLog
	for rows.Next() {
		var log models.AgentLog
		var displayName, input, output, errMsg sql.NullString
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(&log.ID, &log.ExecutionID, &log.NodeID, &log.AgentKind, &displayName,
			&log.StepIndex, &log.Status, &input, &output, &errMsg, &log.ExecutionTimeMS,
			&startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		if displayName.Valid {
			log.AgentDisplayName = displayName.String
		}
		if errMsg.Valid {
			log.ErrorMessage = errMsg.String
		}
		if startedAt.Valid {
			t := startedAt.Time
			log.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			log.CompletedAt = &t
		}
		if err := unmarshalJSON(input, &log.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
		}
		if err := unmarshalJSON(output, &log.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
		}
		result = append(result, &log)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
