// Package handlers translates HTTP requests into service calls.
package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/relaydev/relay/cmd/relayd/service"
	"github.com/relaydev/relay/engine/fault"
)

// writeError maps service and engine errors onto the HTTP boundary.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotPaused):
		status = http.StatusConflict
	default:
		switch fault.KindOf(err) {
		case fault.ValidationError:
			status = http.StatusUnprocessableEntity
		case fault.NoResumeCursor:
			status = http.StatusConflict
		}
	}

	return c.JSON(status, map[string]string{"error": err.Error()})
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fault.Errorf(fault.ValidationError, "invalid %s: %v", name, err)
	}
	return id, nil
}
