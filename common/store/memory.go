package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/models"
)

// Memory is an in-process Store used by tests and STORE=memory dev mode.
// A single mutex serializes all writes, which trivially satisfies the
// per-execution event ordering contract.
type Memory struct {
	mu sync.Mutex

	workflows  map[uuid.UUID]*models.Workflow
	versions   map[uuid.UUID]*models.WorkflowVersion
	executions map[uuid.UUID]*models.Execution
	events     map[uuid.UUID][]*models.ExecutionEvent
	snapshots  map[uuid.UUID][]*models.ExecutionSnapshot
	outputs    map[uuid.UUID][]*models.SavedOutput

	nextEventID  int64
	nextSnapID   int64
	nextOutputID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		workflows:  make(map[uuid.UUID]*models.Workflow),
		versions:   make(map[uuid.UUID]*models.WorkflowVersion),
		executions: make(map[uuid.UUID]*models.Execution),
		events:     make(map[uuid.UUID][]*models.ExecutionEvent),
		snapshots:  make(map[uuid.UUID][]*models.ExecutionSnapshot),
		outputs:    make(map[uuid.UUID][]*models.SavedOutput),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateWorkflow(_ context.Context, name string, description, createdBy *string) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf := &models.Workflow{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
	m.workflows[wf.ID] = wf
	return copyJSONValue(wf), nil
}

func (m *Memory) GetWorkflow(_ context.Context, id uuid.UUID) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, nil
	}
	return copyJSONValue(wf), nil
}

func (m *Memory) CreateWorkflowVersion(_ context.Context, workflowID uuid.UUID, graphJSON map[string]any, isPublished bool, versionNote, versionTag, createdBy *string) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := 1
	for _, v := range m.versions {
		if v.WorkflowID == workflowID && v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}

	version := &models.WorkflowVersion{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		VersionNumber: next,
		GraphJSON:     copyJSONMap(graphJSON),
		IsPublished:   isPublished,
		VersionNote:   versionNote,
		VersionTag:    versionTag,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now().UTC(),
	}
	m.versions[version.ID] = version
	return copyJSONValue(version), nil
}

func (m *Memory) GetWorkflowVersion(_ context.Context, id uuid.UUID) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.versions[id]
	if !ok {
		return nil, nil
	}
	return copyJSONValue(v), nil
}

func (m *Memory) GetLatestWorkflowVersion(_ context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestVersionLocked(workflowID, false), nil
}

func (m *Memory) GetLatestPublishedWorkflowVersion(_ context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestVersionLocked(workflowID, true), nil
}

func (m *Memory) latestVersionLocked(workflowID uuid.UUID, publishedOnly bool) *models.WorkflowVersion {
	var latest *models.WorkflowVersion
	for _, v := range m.versions {
		if v.WorkflowID != workflowID {
			continue
		}
		if publishedOnly && !v.IsPublished {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	if latest == nil {
		return nil
	}
	return copyJSONValue(latest)
}

func (m *Memory) CreateExecution(_ context.Context, params CreateExecutionParams) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if params.IdempotencyKey != nil {
		for _, e := range m.executions {
			if e.IdempotencyKey != nil && *e.IdempotencyKey == *params.IdempotencyKey {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, *params.IdempotencyKey)
			}
		}
	}

	now := time.Now().UTC()
	exec := &models.Execution{
		ID:                uuid.New(),
		WorkflowVersionID: params.WorkflowVersionID,
		Status:            models.StatusRunning,
		StartedAt:         &now,
		DebugMode:         params.DebugMode,
		InputJSON:         copyJSONMap(params.InputJSON),
		ParentExecutionID: params.ParentExecutionID,
		TriggerType:       params.TriggerType,
		TriggerPayload:    copyJSONMap(params.TriggerPayload),
		IdempotencyKey:    params.IdempotencyKey,
		CorrelationID:     params.CorrelationID,
	}
	m.executions[exec.ID] = exec
	return copyJSONValue(exec), nil
}

func (m *Memory) GetExecution(_ context.Context, id uuid.UUID) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, nil
	}
	return copyJSONValue(e), nil
}

func (m *Memory) GetExecutionByIdempotencyKey(_ context.Context, key string) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.executions {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			return copyJSONValue(e), nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateExecutionStatus(_ context.Context, id uuid.UUID, status models.ExecutionStatus, currentNodeID *string, finalContext map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return fmt.Errorf("execution not found: %s", id)
	}

	e.Status = status
	if currentNodeID != nil {
		e.CurrentNodeID = currentNodeID
	}
	if finalContext != nil {
		e.FinalContextJSON = copyJSONMap(finalContext)
	}
	if status.IsTerminal() {
		now := time.Now().UTC()
		e.FinishedAt = &now
	}
	return nil
}

func (m *Memory) GetNextEventIndex(_ context.Context, executionID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[executionID]), nil
}

func (m *Memory) AppendEvent(_ context.Context, executionID uuid.UUID, eventType string, nodeID, edgeID *string, payload map[string]any) (*models.ExecutionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if payload == nil {
		payload = map[string]any{}
	}

	m.nextEventID++
	event := &models.ExecutionEvent{
		ID:          m.nextEventID,
		ExecutionID: executionID,
		EventIndex:  len(m.events[executionID]),
		EventType:   eventType,
		NodeID:      nodeID,
		EdgeID:      edgeID,
		Payload:     copyJSONMap(payload),
		OccurredAt:  time.Now().UTC(),
	}
	m.events[executionID] = append(m.events[executionID], event)
	return copyJSONValue(event), nil
}

func (m *Memory) ListEvents(_ context.Context, executionID uuid.UUID) ([]*models.ExecutionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.events[executionID]
	out := make([]*models.ExecutionEvent, 0, len(events))
	for _, e := range events {
		out = append(out, copyJSONValue(e))
	}
	return out, nil
}

func (m *Memory) CreateSnapshot(_ context.Context, executionID uuid.UUID, eventIndex int, contextJSON map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.snapshots[executionID] {
		if s.EventIndex == eventIndex {
			return nil
		}
	}

	m.nextSnapID++
	m.snapshots[executionID] = append(m.snapshots[executionID], &models.ExecutionSnapshot{
		ID:          m.nextSnapID,
		ExecutionID: executionID,
		EventIndex:  eventIndex,
		ContextJSON: copyJSONMap(contextJSON),
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (m *Memory) GetLatestSnapshotBefore(_ context.Context, executionID uuid.UUID, eventIndex int) (*models.ExecutionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := append([]*models.ExecutionSnapshot(nil), m.snapshots[executionID]...)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].EventIndex > snaps[j].EventIndex })
	for _, s := range snaps {
		if s.EventIndex <= eventIndex {
			return copyJSONValue(s), nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateSavedOutput(_ context.Context, executionID uuid.UUID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOutputID++
	m.outputs[executionID] = append(m.outputs[executionID], &models.SavedOutput{
		ID:          m.nextOutputID,
		ExecutionID: executionID,
		Key:         key,
		ValueJSON:   copyJSONAny(value),
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (m *Memory) ListSavedOutputs(_ context.Context, executionID uuid.UUID) ([]*models.SavedOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outputs := m.outputs[executionID]
	out := make([]*models.SavedOutput, 0, len(outputs))
	for _, o := range outputs {
		out = append(out, copyJSONValue(o))
	}
	return out, nil
}

// copyJSONValue deep-copies a JSON-serializable struct so callers never
// alias store-owned state.
func copyJSONValue[T any](v *T) *T {
	raw, err := json.Marshal(v)
	if err != nil {
		out := *v
		return &out
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		clone := *v
		return &clone
	}
	return &out
}

func copyJSONMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := copyJSONAny(m).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func copyJSONAny(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
