package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/relaydev/relay/cmd/relayd/service"
	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/engine/fault"
)

// WorkflowHandler serves workflow and version authoring endpoints.
type WorkflowHandler struct {
	workflows *service.WorkflowService
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

// Create handles POST /workflows.
func (h *WorkflowHandler) Create(c echo.Context) error {
	var body models.WorkflowCreate
	if err := c.Bind(&body); err != nil {
		return writeError(c, fault.Errorf(fault.ValidationError, "invalid request body: %v", err))
	}

	workflow, err := h.workflows.Create(c.Request().Context(), body)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, workflow)
}

// Get handles GET /workflows/:id.
func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	workflow, err := h.workflows.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, workflow)
}

// CreateVersion handles POST /workflows/:id/versions.
func (h *WorkflowHandler) CreateVersion(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	var body models.WorkflowVersionCreate
	if err := c.Bind(&body); err != nil {
		return writeError(c, fault.Errorf(fault.ValidationError, "invalid request body: %v", err))
	}

	version, err := h.workflows.CreateVersion(c.Request().Context(), id, body)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, version)
}

// LatestVersion handles GET /workflows/:id/versions/latest.
func (h *WorkflowHandler) LatestVersion(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	publishedOnly := c.QueryParam("published_only") != "false"

	version, err := h.workflows.LatestVersion(c.Request().Context(), id, publishedOnly)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}

// GetVersion handles GET /workflow-versions/:id.
func (h *WorkflowHandler) GetVersion(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	version, err := h.workflows.GetVersion(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}
