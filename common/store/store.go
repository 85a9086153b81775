package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/models"
)

// ErrDuplicateIdempotencyKey marks an execution insert that lost a race on
// its idempotency key; callers re-read the existing row.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

// CreateExecutionParams carries everything needed to create an execution row.
type CreateExecutionParams struct {
	WorkflowVersionID uuid.UUID
	InputJSON         map[string]any
	DebugMode         bool
	ParentExecutionID *uuid.UUID
	TriggerType       *string
	TriggerPayload    map[string]any
	IdempotencyKey    *string
	CorrelationID     *string
}

// Store is the engine's persistence boundary. All lookups return (nil, nil)
// when the row does not exist; errors are reserved for storage failures.
//
// Implementations must serialize event appends per execution so that
// event_index stays dense and strictly increasing.
type Store interface {
	CreateWorkflow(ctx context.Context, name string, description, createdBy *string) (*models.Workflow, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)

	CreateWorkflowVersion(ctx context.Context, workflowID uuid.UUID, graphJSON map[string]any, isPublished bool, versionNote, versionTag, createdBy *string) (*models.WorkflowVersion, error)
	GetWorkflowVersion(ctx context.Context, id uuid.UUID) (*models.WorkflowVersion, error)
	GetLatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error)
	GetLatestPublishedWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error)

	CreateExecution(ctx context.Context, params CreateExecutionParams) (*models.Execution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)
	GetExecutionByIdempotencyKey(ctx context.Context, key string) (*models.Execution, error)

	// UpdateExecutionStatus sets status and current_node_id. A nil
	// finalContext means "do not overwrite". Terminal statuses also set
	// finished_at.
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, currentNodeID *string, finalContext map[string]any) error

	// GetNextEventIndex returns max(event_index)+1, or 0 for a fresh log.
	GetNextEventIndex(ctx context.Context, executionID uuid.UUID) (int, error)
	AppendEvent(ctx context.Context, executionID uuid.UUID, eventType string, nodeID, edgeID *string, payload map[string]any) (*models.ExecutionEvent, error)
	ListEvents(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionEvent, error)

	// CreateSnapshot upserts on (execution_id, event_index).
	CreateSnapshot(ctx context.Context, executionID uuid.UUID, eventIndex int, contextJSON map[string]any) error
	GetLatestSnapshotBefore(ctx context.Context, executionID uuid.UUID, eventIndex int) (*models.ExecutionSnapshot, error)

	CreateSavedOutput(ctx context.Context, executionID uuid.UUID, key string, value any) error
	ListSavedOutputs(ctx context.Context, executionID uuid.UUID) ([]*models.SavedOutput, error)
}
