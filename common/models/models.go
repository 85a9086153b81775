package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusAborted   ExecutionStatus = "aborted"
)

// IsTerminal reports whether the status admits no further transitions
// other than resume-from-paused.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Event type vocabulary. Append-only; never renamed once persisted.
const (
	EventRunStarted              = "RUN_STARTED"
	EventRunCompleted            = "RUN_COMPLETED"
	EventRunResumed              = "RUN_RESUMED"
	EventRunAborted              = "RUN_ABORTED"
	EventNodeStarted             = "NODE_STARTED"
	EventNodeSucceeded           = "NODE_SUCCEEDED"
	EventNodeFailed              = "NODE_FAILED"
	EventEdgeTraversed           = "EDGE_TRAVERSED"
	EventBreakpointPaused        = "BREAKPOINT_PAUSED"
	EventSnapshotWritten         = "SNAPSHOT_WRITTEN"
	EventInvokeWorkflowStarted   = "INVOKE_WORKFLOW_STARTED"
	EventInvokeWorkflowSucceeded = "INVOKE_WORKFLOW_SUCCEEDED"
)

// Workflow is a named, versioned graph authored by a user.
type Workflow struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedBy   *string   `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkflowVersion is an immutable graph snapshot, numbered 1..n per workflow.
type WorkflowVersion struct {
	ID            uuid.UUID      `json:"id"`
	WorkflowID    uuid.UUID      `json:"workflow_id"`
	VersionNumber int            `json:"version_number"`
	GraphJSON     map[string]any `json:"graph_json"`
	IsPublished   bool           `json:"is_published"`
	VersionNote   *string        `json:"version_note,omitempty"`
	VersionTag    *string        `json:"version_tag,omitempty"`
	CreatedBy     *string        `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Execution is one interpretation of a workflow version with a given input.
type Execution struct {
	ID                uuid.UUID       `json:"id"`
	WorkflowVersionID uuid.UUID       `json:"workflow_version_id"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	CurrentNodeID     *string         `json:"current_node_id,omitempty"`
	DebugMode         bool            `json:"debug_mode"`
	InputJSON         map[string]any  `json:"input_json,omitempty"`
	FinalContextJSON  map[string]any  `json:"final_context_json,omitempty"`
	ParentExecutionID *uuid.UUID      `json:"parent_execution_id,omitempty"`
	TriggerType       *string         `json:"trigger_type,omitempty"`
	TriggerPayload    map[string]any  `json:"trigger_payload,omitempty"`
	IdempotencyKey    *string         `json:"idempotency_key,omitempty"`
	CorrelationID     *string         `json:"correlation_id,omitempty"`
}

// ExecutionEvent is one atomic transition in an execution's append-only log.
// (execution_id, event_index) is unique; event_index is dense from 0.
type ExecutionEvent struct {
	ID          int64          `json:"id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	EventIndex  int            `json:"event_index"`
	EventType   string         `json:"event_type"`
	NodeID      *string        `json:"node_id,omitempty"`
	EdgeID      *string        `json:"edge_id,omitempty"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// ExecutionSnapshot is a context capture keyed by the event it follows.
type ExecutionSnapshot struct {
	ID          int64          `json:"id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	EventIndex  int            `json:"event_index"`
	ContextJSON map[string]any `json:"context_json"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SavedOutput is a user-requested side-channel record written by save nodes.
type SavedOutput struct {
	ID          int64     `json:"id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Key         string    `json:"key"`
	ValueJSON   any       `json:"value_json"`
	CreatedAt   time.Time `json:"created_at"`
}
