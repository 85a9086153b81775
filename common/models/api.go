package models

import "github.com/google/uuid"

// WorkflowCreate is the POST /workflows request body.
type WorkflowCreate struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	CreatedBy   *string `json:"created_by,omitempty"`
}

// WorkflowVersionCreate is the POST /workflows/{id}/versions request body.
type WorkflowVersionCreate struct {
	GraphJSON   map[string]any `json:"graph_json"`
	VersionNote *string        `json:"version_note,omitempty"`
	VersionTag  *string        `json:"version_tag,omitempty"`
	IsPublished *bool          `json:"is_published,omitempty"`
	CreatedBy   *string        `json:"created_by,omitempty"`
}

// Published returns is_published, defaulted to true.
func (c *WorkflowVersionCreate) Published() bool {
	if c.IsPublished == nil {
		return true
	}
	return *c.IsPublished
}

// ExecutionCreate is the POST /executions request body. Exactly one of
// WorkflowVersionID and WorkflowID must be set.
type ExecutionCreate struct {
	WorkflowVersionID *uuid.UUID     `json:"workflow_version_id,omitempty"`
	WorkflowID        *uuid.UUID     `json:"workflow_id,omitempty"`
	PublishedOnly     *bool          `json:"published_only,omitempty"`
	InputJSON         map[string]any `json:"input_json,omitempty"`
	DebugMode         bool           `json:"debug_mode,omitempty"`
	TriggerType       *string        `json:"trigger_type,omitempty"`
	TriggerPayload    map[string]any `json:"trigger_payload,omitempty"`
	IdempotencyKey    *string        `json:"idempotency_key,omitempty"`
	CorrelationID     *string        `json:"correlation_id,omitempty"`
	ParentExecutionID *uuid.UUID     `json:"parent_execution_id,omitempty"`
}

// PublishedOnlyOrDefault returns published_only, defaulted to true.
func (c *ExecutionCreate) PublishedOnlyOrDefault() bool {
	if c.PublishedOnly == nil {
		return true
	}
	return *c.PublishedOnly
}

// DebugAction is a debug control command against a paused execution.
type DebugAction string

const (
	DebugResume DebugAction = "resume"
	DebugStep   DebugAction = "step"
	DebugAbort  DebugAction = "abort"
)

// ExecutionState is the GET /executions/{id}/state response.
type ExecutionState struct {
	EventIndex         int            `json:"event_index"`
	SnapshotEventIndex *int           `json:"snapshot_event_index,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	Note               string         `json:"note,omitempty"`
}
