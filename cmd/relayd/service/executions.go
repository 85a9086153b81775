package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/logger"
	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/common/store"
	"github.com/relaydev/relay/engine"
	"github.com/relaydev/relay/engine/fault"
)

// ErrNotPaused marks a debug command against an execution that is not
// paused; the boundary maps it to 409.
var ErrNotPaused = errors.New("execution is not paused")

// ExecutionService starts, inspects and debugs executions.
type ExecutionService struct {
	store  store.Store
	engine *engine.Engine
	log    *logger.Logger
}

// NewExecutionService creates an execution service.
func NewExecutionService(st store.Store, eng *engine.Engine, log *logger.Logger) *ExecutionService {
	return &ExecutionService{store: st, engine: eng, log: log}
}

// Start resolves the target version, creates the execution row and runs it
// synchronously. The returned row reflects the run's final state; a node
// failure is reported through the row, not as a transport error.
func (s *ExecutionService) Start(ctx context.Context, body models.ExecutionCreate) (*models.Execution, error) {
	if (body.WorkflowVersionID == nil) == (body.WorkflowID == nil) {
		return nil, fault.Errorf(fault.ValidationError, "exactly one of workflow_version_id and workflow_id is required")
	}

	if body.IdempotencyKey != nil && *body.IdempotencyKey != "" {
		existing, err := s.store.GetExecutionByIdempotencyKey(ctx, *body.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	version, err := s.resolveVersion(ctx, body)
	if err != nil {
		return nil, err
	}

	input := body.InputJSON
	if input == nil {
		input = map[string]any{}
	}

	exec, err := s.store.CreateExecution(ctx, store.CreateExecutionParams{
		WorkflowVersionID: version.ID,
		InputJSON:         input,
		DebugMode:         body.DebugMode,
		ParentExecutionID: body.ParentExecutionID,
		TriggerType:       body.TriggerType,
		TriggerPayload:    body.TriggerPayload,
		IdempotencyKey:    body.IdempotencyKey,
		CorrelationID:     body.CorrelationID,
	})
	if err != nil {
		// A concurrent request with the same key can win the insert race
		// between the lookup above and this create; the existing row is
		// the answer either way.
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) && body.IdempotencyKey != nil {
			existing, readErr := s.store.GetExecutionByIdempotencyKey(ctx, *body.IdempotencyKey)
			if readErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if runErr := s.engine.Run(ctx, engine.RunParams{
		Execution:       exec,
		Version:         version,
		InputJSON:       input,
		ParentExecution: body.ParentExecutionID,
		CorrelationID:   body.CorrelationID,
	}); runErr != nil {
		s.log.Warn("execution finished with node failure",
			"execution_id", exec.ID,
			"kind", string(fault.KindOf(runErr)),
			"error", runErr)
	}

	return s.Get(ctx, exec.ID)
}

func (s *ExecutionService) resolveVersion(ctx context.Context, body models.ExecutionCreate) (*models.WorkflowVersion, error) {
	if body.WorkflowVersionID != nil {
		version, err := s.store.GetWorkflowVersion(ctx, *body.WorkflowVersionID)
		if err != nil {
			return nil, err
		}
		if version == nil {
			return nil, ErrNotFound
		}
		return version, nil
	}

	var (
		version *models.WorkflowVersion
		err     error
	)
	if body.PublishedOnlyOrDefault() {
		version, err = s.store.GetLatestPublishedWorkflowVersion(ctx, *body.WorkflowID)
	} else {
		version, err = s.store.GetLatestWorkflowVersion(ctx, *body.WorkflowID)
	}
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, ErrNotFound
	}
	return version, nil
}

// Get fetches an execution by id.
func (s *ExecutionService) Get(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, ErrNotFound
	}
	return exec, nil
}

// Events lists an execution's event log in index order.
func (s *ExecutionService) Events(ctx context.Context, id uuid.UUID) ([]*models.ExecutionEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// SavedOutputs lists the save-node side channel for an execution.
func (s *ExecutionService) SavedOutputs(ctx context.Context, id uuid.UUID) ([]*models.SavedOutput, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListSavedOutputs(ctx, id)
}

// State reconstructs point-in-time context at an event index from the most
// recent snapshot at or before it. eventIndex < 0 means "latest".
func (s *ExecutionService) State(ctx context.Context, id uuid.UUID, eventIndex int) (*models.ExecutionState, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	if eventIndex < 0 {
		next, err := s.store.GetNextEventIndex(ctx, id)
		if err != nil {
			return nil, err
		}
		eventIndex = next - 1
		if eventIndex < 0 {
			eventIndex = 0
		}
	}

	snapshot, err := s.store.GetLatestSnapshotBefore(ctx, id, eventIndex)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return &models.ExecutionState{
			EventIndex: eventIndex,
			Note:       "no snapshot at or before this event index",
		}, nil
	}

	idx := snapshot.EventIndex
	return &models.ExecutionState{
		EventIndex:         eventIndex,
		SnapshotEventIndex: &idx,
		Context:            snapshot.ContextJSON,
	}, nil
}

// Debug applies resume, step or abort to an execution. Resume and step
// require the execution to be paused.
func (s *ExecutionService) Debug(ctx context.Context, id uuid.UUID, action models.DebugAction) (*models.Execution, error) {
	exec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if action != models.DebugAbort && exec.Status != models.StatusPaused {
		return nil, ErrNotPaused
	}

	version, err := s.store.GetWorkflowVersion(ctx, exec.WorkflowVersionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, ErrNotFound
	}

	if debugErr := s.engine.Debug(ctx, exec, version, string(action)); debugErr != nil {
		if fault.KindOf(debugErr) == fault.NoResumeCursor {
			return nil, debugErr
		}
		s.log.Warn("debug action finished with node failure",
			"execution_id", id,
			"action", action,
			"error", debugErr)
	}

	return s.Get(ctx, id)
}
