// Package models defines the persistent workflow and execution records.
package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
// Terminal records are immutable.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TriggerType describes how an execution was initiated.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerAPI      TriggerType = "api"
)

// NodeKind is the category of a workflow node.
type NodeKind string

const (
	NodeKindAgent     NodeKind = "agent"
	NodeKindCondition NodeKind = "condition"
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
)

// Position is the canvas location of a node. Opaque to the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries the node's label and per-kind configuration.
type NodeData struct {
	Label        string                 `json:"label"`
	AgentKind    string                 `json:"agent_kind,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	InputMapping map[string]interface{} `json:"input_mapping,omitempty"`
}

// Node is one vertex of the workflow graph.
type Node struct {
	ID       string    `json:"id"`
	Kind     NodeKind  `json:"kind"`
	Position *Position `json:"position,omitempty"`
	Data     NodeData  `json:"data"`
}

// Edge connects a source node to a target node.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	SourcePort   string `json:"source_port,omitempty"`
	TargetPort   string `json:"target_port,omitempty"`
}

// Viewport is the saved canvas view. Opaque to the engine.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// WorkflowData is the graph payload of a workflow.
type WorkflowData struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Viewport Viewport `json:"viewport"`
}

// ExecutionConfig holds per-workflow execution defaults.
type ExecutionConfig struct {
	TimeoutSeconds    int                    `json:"timeout_seconds,omitempty"`
	MaxRetries        int                    `json:"max_retries,omitempty"`
	RetryDelaySeconds int                    `json:"retry_delay_seconds,omitempty"`
	ParallelAllowed   bool                   `json:"parallel_allowed"`
	InitialVariables  map[string]interface{} `json:"initial_variables,omitempty"`
}

// Workflow is a saved workflow definition.
type Workflow struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	Version         int             `json:"version"`
	WorkflowData    WorkflowData    `json:"workflow_data"`
	ExecutionConfig ExecutionConfig `json:"execution_config"`
	Tags            []string        `json:"tags,omitempty"`
	Visibility      string          `json:"visibility"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ProgressType classifies a progress record.
type ProgressType string

const (
	ProgressNodeStarted        ProgressType = "node_started"
	ProgressNodeCompleted      ProgressType = "node_completed"
	ProgressNodeFailed         ProgressType = "node_failed"
	ProgressExecutionStarted   ProgressType = "execution_started"
	ProgressExecutionCompleted ProgressType = "execution_completed"
	ProgressExecutionCancelled ProgressType = "execution_cancelled"
)

// ProgressRecord is one entry of an execution's log, ordered by timestamp.
type ProgressRecord struct {
	Timestamp   time.Time    `json:"timestamp"`
	ExecutionID string       `json:"execution_id"`
	NodeID      string       `json:"node_id,omitempty"`
	Level       string       `json:"level"`
	Type        ProgressType `json:"type"`
	Result      interface{}  `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Execution is one run of a workflow with concrete input data.
type Execution struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	UserID          string                 `json:"user_id"`
	Status          ExecutionStatus        `json:"status"`
	TriggerType     TriggerType            `json:"trigger_type"`
	InputData       map[string]interface{} `json:"input_data,omitempty"`
	OutputData      map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	ExecutionTimeMS int64                  `json:"execution_time_ms"`
	Logs            []ProgressRecord       `json:"logs,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ExecutionPatch is a partial update applied to an execution record.
// Nil fields are left unchanged.
type ExecutionPatch struct {
	Status          *ExecutionStatus
	OutputData      map[string]interface{}
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExecutionTimeMS *int64
	Logs            []ProgressRecord
}

// AgentLog is the persistent per-node record of an execution.
// StepIndex reflects completion order, not graph order.
type AgentLog struct {
	ID               int64                  `json:"id"`
	ExecutionID      string                 `json:"execution_id"`
	NodeID           string                 `json:"node_id"`
	AgentKind        string                 `json:"agent_kind"`
	AgentDisplayName string                 `json:"agent_display_name"`
	StepIndex        int                    `json:"step_index"`
	Status           string                 `json:"status"`
	InputData        map[string]interface{} `json:"input_data,omitempty"`
	OutputData       map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ExecutionTimeMS  int64                  `json:"execution_time_ms"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}
