// Package service implements the control-plane use cases on top of the
// store and the engine.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/logger"
	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/common/store"
	"github.com/relaydev/relay/common/validation"
	"github.com/relaydev/relay/engine/fault"
)

// ErrNotFound marks a missing workflow, version or execution.
var ErrNotFound = errors.New("not found")

// WorkflowService handles workflow and version authoring.
type WorkflowService struct {
	store store.Store
	log   *logger.Logger
}

// NewWorkflowService creates a workflow service.
func NewWorkflowService(st store.Store, log *logger.Logger) *WorkflowService {
	return &WorkflowService{store: st, log: log}
}

// Create creates a workflow.
func (s *WorkflowService) Create(ctx context.Context, body models.WorkflowCreate) (*models.Workflow, error) {
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return nil, fault.Errorf(fault.ValidationError, "workflow name is required")
	}

	workflow, err := s.store.CreateWorkflow(ctx, name, body.Description, body.CreatedBy)
	if err != nil {
		return nil, err
	}
	s.log.Info("workflow created", "workflow_id", workflow.ID, "name", name)
	return workflow, nil
}

// Get fetches a workflow by id.
func (s *WorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	workflow, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if workflow == nil {
		return nil, ErrNotFound
	}
	return workflow, nil
}

// CreateVersion validates the graph and appends a new version to a workflow.
func (s *WorkflowService) CreateVersion(ctx context.Context, workflowID uuid.UUID, body models.WorkflowVersionCreate) (*models.WorkflowVersion, error) {
	workflow, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow == nil {
		return nil, ErrNotFound
	}

	if body.GraphJSON == nil {
		return nil, fault.Errorf(fault.ValidationError, "graph_json is required")
	}
	if err := validation.ValidateGraph(body.GraphJSON); err != nil {
		return nil, fault.Wrap(fault.ValidationError, err)
	}

	version, err := s.store.CreateWorkflowVersion(ctx, workflowID, body.GraphJSON, body.Published(), body.VersionNote, body.VersionTag, body.CreatedBy)
	if err != nil {
		return nil, err
	}
	s.log.Info("workflow version created",
		"workflow_id", workflowID,
		"version_id", version.ID,
		"version_number", version.VersionNumber)
	return version, nil
}

// GetVersion fetches a version by id.
func (s *WorkflowService) GetVersion(ctx context.Context, id uuid.UUID) (*models.WorkflowVersion, error) {
	version, err := s.store.GetWorkflowVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, ErrNotFound
	}
	return version, nil
}

// LatestVersion fetches a workflow's most recent version, optionally
// restricted to published ones.
func (s *WorkflowService) LatestVersion(ctx context.Context, workflowID uuid.UUID, publishedOnly bool) (*models.WorkflowVersion, error) {
	var (
		version *models.WorkflowVersion
		err     error
	)
	if publishedOnly {
		version, err = s.store.GetLatestPublishedWorkflowVersion(ctx, workflowID)
	} else {
		version, err = s.store.GetLatestWorkflowVersion(ctx, workflowID)
	}
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, ErrNotFound
	}
	return version, nil
}
