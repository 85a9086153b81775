package engine

import (
	"context"

	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/engine/fault"
)

// Debug actions accepted by the resume controller.
const (
	ActionResume = "resume"
	ActionStep   = "step"
	ActionAbort  = "abort"
)

// Debug applies a debug action to a paused execution. The caller is
// responsible for checking that the execution is paused; abort is the one
// action valid regardless of state.
func (e *Engine) Debug(ctx context.Context, exec *models.Execution, version *models.WorkflowVersion, action string) error {
	switch action {
	case ActionAbort:
		if _, err := e.append(ctx, exec.ID, models.EventRunAborted, nil, nil, nil); err != nil {
			return err
		}
		if err := e.store.UpdateExecutionStatus(ctx, exec.ID, models.StatusAborted, nil, nil); err != nil {
			return err
		}
		e.metrics.ExecutionsFinished.WithLabelValues(string(models.StatusAborted)).Inc()
		e.log.WithExecutionID(exec.ID.String()).Info("execution aborted")
		return nil

	case ActionResume, ActionStep:
		if exec.FinalContextJSON == nil || exec.CurrentNodeID == nil {
			return fault.Errorf(fault.NoResumeCursor, "execution %s has no stored cursor", exec.ID)
		}

		resumed := ContextFromJSON(exec.FinalContextJSON)

		if _, err := e.append(ctx, exec.ID, models.EventRunResumed, nil, nil, map[string]any{
			"mode":           action,
			"resume_node_id": *exec.CurrentNodeID,
		}); err != nil {
			return err
		}

		return e.Run(ctx, RunParams{
			Execution:       exec,
			Version:         version,
			CallDepth:       resumed.CallDepth(),
			StartNodeID:     *exec.CurrentNodeID,
			ContextOverride: exec.FinalContextJSON,
			IsResume:        true,
		})

	default:
		return fault.Errorf(fault.ValidationError, "unknown debug action %q", action)
	}
}
