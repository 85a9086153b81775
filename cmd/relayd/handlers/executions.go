package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/relaydev/relay/cmd/relayd/service"
	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/engine/fault"
)

// ExecutionHandler serves run-control endpoints.
type ExecutionHandler struct {
	executions *service.ExecutionService
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(executions *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// Create handles POST /executions. The run happens synchronously; the
// response is the execution row in its final state.
func (h *ExecutionHandler) Create(c echo.Context) error {
	var body models.ExecutionCreate
	if err := c.Bind(&body); err != nil {
		return writeError(c, fault.Errorf(fault.ValidationError, "invalid request body: %v", err))
	}

	exec, err := h.executions.Start(c.Request().Context(), body)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, exec)
}

// Get handles GET /executions/:id.
func (h *ExecutionHandler) Get(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	exec, err := h.executions.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

// Events handles GET /executions/:id/events.
func (h *ExecutionHandler) Events(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	events, err := h.executions.Events(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

// State handles GET /executions/:id/state?event_index=N.
func (h *ExecutionHandler) State(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	eventIndex := -1
	if raw := c.QueryParam("event_index"); raw != "" {
		eventIndex, err = strconv.Atoi(raw)
		if err != nil || eventIndex < 0 {
			return writeError(c, fault.Errorf(fault.ValidationError, "invalid event_index %q", raw))
		}
	}

	state, err := h.executions.State(c.Request().Context(), id, eventIndex)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// SavedOutputs handles GET /executions/:id/outputs.
func (h *ExecutionHandler) SavedOutputs(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	outputs, err := h.executions.SavedOutputs(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, outputs)
}

// Debug handles POST /executions/:id/debug/:action.
func (h *ExecutionHandler) Debug(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	action := models.DebugAction(c.Param("action"))
	switch action {
	case models.DebugResume, models.DebugStep, models.DebugAbort:
	default:
		return writeError(c, fault.Errorf(fault.ValidationError, "unknown debug action %q", action))
	}

	exec, err := h.executions.Debug(c.Request().Context(), id, action)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}
