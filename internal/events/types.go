// Package events provides event types and subject helpers for the AgentFlow event system.
package events

// Event types published by the execution engine.
const (
	ExecutionUpdate    = "execution_update"
	NodeStarted        = "node_started"
	NodeCompleted      = "node_completed"
	NodeFailed         = "node_failed"
	ExecutionCancelled = "execution_cancelled"
)

// Event types published by the collaboration hub.
const (
	UserJoined    = "user_joined"
	UserLeft      = "user_left"
	CursorUpdate  = "cursor_update"
	NodeUpdate    = "node_update"
	WorkflowSave  = "workflow_save"
	WorkflowSaved = "workflow_saved"
	ChatMessage   = "chat_message"
)

// Event sources.
const (
	SourceEngine = "engine"
	SourceAPI    = "api"
	SourceHub    = "collab-hub"
)

// BuildExecutionSubject creates the progress subject for a specific workflow.
func BuildExecutionSubject(workflowID string) string {
	return "workflow." + workflowID + ".execution"
}

// BuildExecutionWildcardSubject creates a wildcard subscription covering
// execution progress for all workflows.
func BuildExecutionWildcardSubject() string {
	return "workflow.*.execution"
}
