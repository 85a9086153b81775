package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/relaydev/relay/common/db"
	"github.com/relaydev/relay/common/models"
)

// Postgres implements Store on a pgx connection pool. Event appends use
// read-max-plus-one insertion guarded by the (execution_id, event_index)
// unique constraint with retry on conflict.
type Postgres struct {
	db *db.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(database *db.DB) *Postgres {
	return &Postgres{db: database}
}

var _ Store = (*Postgres)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_versions (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id),
	version_number INT NOT NULL,
	graph_json JSONB NOT NULL,
	is_published BOOLEAN NOT NULL DEFAULT TRUE,
	version_note TEXT,
	version_tag TEXT,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workflow_id, version_number)
);

CREATE TABLE IF NOT EXISTS executions (
	id UUID PRIMARY KEY,
	workflow_version_id UUID NOT NULL REFERENCES workflow_versions(id),
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	current_node_id TEXT,
	debug_mode BOOLEAN NOT NULL DEFAULT FALSE,
	input_json JSONB NOT NULL DEFAULT '{}'::jsonb,
	final_context_json JSONB,
	parent_execution_id UUID REFERENCES executions(id),
	trigger_type TEXT,
	trigger_payload JSONB,
	idempotency_key TEXT,
	correlation_id TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS executions_idempotency_key_idx
	ON executions(idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS execution_events (
	id BIGSERIAL PRIMARY KEY,
	execution_id UUID NOT NULL REFERENCES executions(id),
	event_index INT NOT NULL,
	event_type TEXT NOT NULL,
	node_id TEXT,
	edge_id TEXT,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (execution_id, event_index)
);

CREATE TABLE IF NOT EXISTS execution_snapshots (
	id BIGSERIAL PRIMARY KEY,
	execution_id UUID NOT NULL REFERENCES executions(id),
	event_index INT NOT NULL,
	context_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (execution_id, event_index)
);

CREATE TABLE IF NOT EXISTS saved_outputs (
	id BIGSERIAL PRIMARY KEY,
	execution_id UUID NOT NULL REFERENCES executions(id),
	key TEXT NOT NULL,
	value_json JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the persisted tables if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) CreateWorkflow(ctx context.Context, name string, description, createdBy *string) (*models.Workflow, error) {
	query := `
		INSERT INTO workflows (id, name, description, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, description, created_by, created_at
	`

	wf := &models.Workflow{}
	err := s.db.QueryRow(ctx, query, uuid.New(), name, description, createdBy).Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.CreatedBy, &wf.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	return wf, nil
}

func (s *Postgres) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, name, description, created_by, created_at
		FROM workflows
		WHERE id = $1
	`

	wf := &models.Workflow{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.CreatedBy, &wf.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

const versionColumns = `id, workflow_id, version_number, graph_json, is_published, version_note, version_tag, created_by, created_at`

func scanVersion(row pgx.Row) (*models.WorkflowVersion, error) {
	v := &models.WorkflowVersion{}
	err := row.Scan(
		&v.ID, &v.WorkflowID, &v.VersionNumber, &v.GraphJSON, &v.IsPublished,
		&v.VersionNote, &v.VersionTag, &v.CreatedBy, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Postgres) CreateWorkflowVersion(ctx context.Context, workflowID uuid.UUID, graphJSON map[string]any, isPublished bool, versionNote, versionTag, createdBy *string) (*models.WorkflowVersion, error) {
	query := `
		INSERT INTO workflow_versions (id, workflow_id, version_number, graph_json, is_published, version_note, version_tag, created_by)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7
		FROM workflow_versions
		WHERE workflow_id = $2
		RETURNING ` + versionColumns

	v, err := scanVersion(s.db.QueryRow(ctx, query, uuid.New(), workflowID, graphJSON, isPublished, versionNote, versionTag, createdBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow version: %w", err)
	}
	return v, nil
}

func (s *Postgres) GetWorkflowVersion(ctx context.Context, id uuid.UUID) (*models.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM workflow_versions WHERE id = $1`

	v, err := scanVersion(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow version: %w", err)
	}
	return v, nil
}

func (s *Postgres) GetLatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version_number DESC
		LIMIT 1
	`

	v, err := scanVersion(s.db.QueryRow(ctx, query, workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest workflow version: %w", err)
	}
	return v, nil
}

func (s *Postgres) GetLatestPublishedWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE workflow_id = $1 AND is_published
		ORDER BY version_number DESC
		LIMIT 1
	`

	v, err := scanVersion(s.db.QueryRow(ctx, query, workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest published workflow version: %w", err)
	}
	return v, nil
}

const executionColumns = `id, workflow_version_id, status, started_at, finished_at, current_node_id, debug_mode, input_json, final_context_json, parent_execution_id, trigger_type, trigger_payload, idempotency_key, correlation_id`

func scanExecution(row pgx.Row) (*models.Execution, error) {
	e := &models.Execution{}
	err := row.Scan(
		&e.ID, &e.WorkflowVersionID, &e.Status, &e.StartedAt, &e.FinishedAt,
		&e.CurrentNodeID, &e.DebugMode, &e.InputJSON, &e.FinalContextJSON,
		&e.ParentExecutionID, &e.TriggerType, &e.TriggerPayload,
		&e.IdempotencyKey, &e.CorrelationID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Postgres) CreateExecution(ctx context.Context, params CreateExecutionParams) (*models.Execution, error) {
	inputJSON := params.InputJSON
	if inputJSON == nil {
		inputJSON = map[string]any{}
	}

	query := `
		INSERT INTO executions (id, workflow_version_id, status, started_at, debug_mode, input_json, parent_execution_id, trigger_type, trigger_payload, idempotency_key, correlation_id)
		VALUES ($1, $2, 'running', now(), $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + executionColumns

	e, err := scanExecution(s.db.QueryRow(ctx, query,
		uuid.New(), params.WorkflowVersionID, params.DebugMode, inputJSON,
		params.ParentExecutionID, params.TriggerType, jsonOrNil(params.TriggerPayload),
		params.IdempotencyKey, params.CorrelationID,
	))
	if err != nil {
		if isUniqueViolation(err) && params.IdempotencyKey != nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, *params.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return e, nil
}

func (s *Postgres) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	e, err := scanExecution(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

func (s *Postgres) GetExecutionByIdempotencyKey(ctx context.Context, key string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE idempotency_key = $1`

	e, err := scanExecution(s.db.QueryRow(ctx, query, key))
	if err != nil {
		return nil, fmt.Errorf("failed to get execution by idempotency key: %w", err)
	}
	return e, nil
}

func (s *Postgres) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, currentNodeID *string, finalContext map[string]any) error {
	var query string
	if status.IsTerminal() {
		query = `
			UPDATE executions
			SET status = $2,
			    current_node_id = COALESCE($3, current_node_id),
			    final_context_json = COALESCE($4, final_context_json),
			    finished_at = now()
			WHERE id = $1
		`
	} else {
		query = `
			UPDATE executions
			SET status = $2,
			    current_node_id = COALESCE($3, current_node_id),
			    final_context_json = COALESCE($4, final_context_json)
			WHERE id = $1
		`
	}

	if _, err := s.db.Exec(ctx, query, id, status, currentNodeID, jsonOrNil(finalContext)); err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

func (s *Postgres) GetNextEventIndex(ctx context.Context, executionID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(MAX(event_index), -1) + 1 FROM execution_events WHERE execution_id = $1`

	var next int
	if err := s.db.QueryRow(ctx, query, executionID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to get next event index: %w", err)
	}
	return next, nil
}

// appendRetries bounds the conflict-retry loop when concurrent appenders
// race for the same event_index.
const appendRetries = 8

func (s *Postgres) AppendEvent(ctx context.Context, executionID uuid.UUID, eventType string, nodeID, edgeID *string, payload map[string]any) (*models.ExecutionEvent, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	query := `
		INSERT INTO execution_events (execution_id, event_index, event_type, node_id, edge_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, execution_id, event_index, event_type, node_id, edge_id, payload, occurred_at
	`

	for attempt := 0; attempt < appendRetries; attempt++ {
		next, err := s.GetNextEventIndex(ctx, executionID)
		if err != nil {
			return nil, err
		}

		event := &models.ExecutionEvent{}
		err = s.db.QueryRow(ctx, query, executionID, next, eventType, nodeID, edgeID, payload).Scan(
			&event.ID, &event.ExecutionID, &event.EventIndex, &event.EventType,
			&event.NodeID, &event.EdgeID, &event.Payload, &event.OccurredAt,
		)
		if err == nil {
			return event, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	return nil, fmt.Errorf("failed to append event after %d attempts: index contention on execution %s", appendRetries, executionID)
}

func (s *Postgres) ListEvents(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionEvent, error) {
	query := `
		SELECT id, execution_id, event_index, event_type, node_id, edge_id, payload, occurred_at
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY event_index ASC
	`

	rows, err := s.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.ExecutionEvent
	for rows.Next() {
		event := &models.ExecutionEvent{}
		err := rows.Scan(
			&event.ID, &event.ExecutionID, &event.EventIndex, &event.EventType,
			&event.NodeID, &event.EdgeID, &event.Payload, &event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func (s *Postgres) CreateSnapshot(ctx context.Context, executionID uuid.UUID, eventIndex int, contextJSON map[string]any) error {
	query := `
		INSERT INTO execution_snapshots (execution_id, event_index, context_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (execution_id, event_index) DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, executionID, eventIndex, contextJSON); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

func (s *Postgres) GetLatestSnapshotBefore(ctx context.Context, executionID uuid.UUID, eventIndex int) (*models.ExecutionSnapshot, error) {
	query := `
		SELECT id, execution_id, event_index, context_json, created_at
		FROM execution_snapshots
		WHERE execution_id = $1 AND event_index <= $2
		ORDER BY event_index DESC
		LIMIT 1
	`

	snap := &models.ExecutionSnapshot{}
	err := s.db.QueryRow(ctx, query, executionID, eventIndex).Scan(
		&snap.ID, &snap.ExecutionID, &snap.EventIndex, &snap.ContextJSON, &snap.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *Postgres) CreateSavedOutput(ctx context.Context, executionID uuid.UUID, key string, value any) error {
	query := `
		INSERT INTO saved_outputs (execution_id, key, value_json)
		VALUES ($1, $2, $3)
	`

	if _, err := s.db.Exec(ctx, query, executionID, key, value); err != nil {
		return fmt.Errorf("failed to create saved output: %w", err)
	}
	return nil
}

func (s *Postgres) ListSavedOutputs(ctx context.Context, executionID uuid.UUID) ([]*models.SavedOutput, error) {
	query := `
		SELECT id, execution_id, key, value_json, created_at
		FROM saved_outputs
		WHERE execution_id = $1
		ORDER BY id ASC
	`

	rows, err := s.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*models.SavedOutput
	for rows.Next() {
		o := &models.SavedOutput{}
		if err := rows.Scan(&o.ID, &o.ExecutionID, &o.Key, &o.ValueJSON, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved output: %w", err)
		}
		outputs = append(outputs, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating saved outputs: %w", err)
	}
	return outputs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// jsonOrNil keeps nil maps as SQL NULL instead of the JSON literal "null".
func jsonOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
