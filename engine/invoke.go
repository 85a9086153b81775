package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/common/store"
	"github.com/relaydev/relay/engine/fault"
)

// dispatchInvoke runs a child workflow synchronously and surfaces its final
// context to the parent.
func (e *Engine) dispatchInvoke(ctx context.Context, rc *runContext, node *Node) (map[string]any, error) {
	version, err := e.resolveInvokeTarget(ctx, node)
	if err != nil {
		return nil, err
	}

	input, inputMode, err := e.resolveInvokeInput(rc, node)
	if err != nil {
		return nil, err
	}

	if _, err := e.append(ctx, rc.exec.ID, models.EventInvokeWorkflowStarted, &node.ID, nil, map[string]any{
		"target_workflow_version_id": version.ID.String(),
		"input_mode":                 inputMode,
	}); err != nil {
		return nil, err
	}

	childDepth := rc.context.CallDepth() + 1

	correlation := rc.exec.ID.String()
	if inherited, ok := rc.context.System[sysCorrelationID].(string); ok && inherited != "" {
		correlation = inherited
	}

	trigger := "invoke_workflow"
	child, err := e.store.CreateExecution(ctx, store.CreateExecutionParams{
		WorkflowVersionID: version.ID,
		InputJSON:         input,
		ParentExecutionID: &rc.exec.ID,
		TriggerType:       &trigger,
		TriggerPayload: map[string]any{
			"invoked_by_execution_id": rc.exec.ID.String(),
			"invoked_by_node_id":      node.ID,
			"call_depth":              childDepth,
		},
		CorrelationID: &correlation,
	})
	if err != nil {
		return nil, err
	}

	// The child's own failure is reflected in its status; the run error
	// itself is not the parent's to propagate.
	runErr := e.Run(ctx, RunParams{
		Execution:       child,
		Version:         version,
		InputJSON:       input,
		CallDepth:       childDepth,
		ParentExecution: &rc.exec.ID,
		CorrelationID:   &correlation,
	})

	child, err = e.store.GetExecution(ctx, child.ID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fault.Errorf(fault.InvokeChildFailed, "child execution disappeared")
	}
	if child.Status != models.StatusCompleted {
		reason := string(child.Status)
		if runErr != nil {
			reason = runErr.Error()
		}
		return nil, fault.Errorf(fault.InvokeChildFailed, "child execution %s did not complete: %s", child.ID, reason)
	}

	if _, err := e.append(ctx, rc.exec.ID, models.EventInvokeWorkflowSucceeded, &node.ID, nil, map[string]any{
		"child_execution_id": child.ID.String(),
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"child_execution_id":         child.ID.String(),
		"child_workflow_version_id":  version.ID.String(),
		"child_final_context":        child.FinalContextJSON,
	}, nil
}

// resolveInvokeTarget picks the child version: an explicit version id wins,
// then the latest (published) version of a target workflow.
func (e *Engine) resolveInvokeTarget(ctx context.Context, node *Node) (*models.WorkflowVersion, error) {
	if raw := configString(node.Config, "targetWorkflowVersionId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fault.Errorf(fault.InvokeTargetMissing, "invalid targetWorkflowVersionId %q", raw)
		}
		version, err := e.store.GetWorkflowVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		if version == nil {
			return nil, fault.Errorf(fault.InvokeTargetMissing, "workflow version %s not found", raw)
		}
		return version, nil
	}

	if raw := configString(node.Config, "targetWorkflowId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fault.Errorf(fault.InvokeTargetMissing, "invalid targetWorkflowId %q", raw)
		}

		publishedOnly := configBool(node.Config, "publishedOnly", true)
		var version *models.WorkflowVersion
		if publishedOnly {
			version, err = e.store.GetLatestPublishedWorkflowVersion(ctx, id)
		} else {
			version, err = e.store.GetLatestWorkflowVersion(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		if version == nil {
			return nil, fault.Errorf(fault.InvokeTargetMissing, "workflow %s has no usable version", raw)
		}
		return version, nil
	}

	return nil, fault.Errorf(fault.InvokeTargetMissing, "invoke_workflow node %s names no target", node.ID)
}

// resolveInvokeInput produces the child's input object: the parent's own
// input (inherit) or an object resolved from a context path (from_var).
func (e *Engine) resolveInvokeInput(rc *runContext, node *Node) (map[string]any, string, error) {
	inputMode := configString(node.Config, "inputMode")
	if inputMode == "" {
		inputMode = "inherit"
	}

	switch inputMode {
	case "inherit":
		input, _ := rc.context.Vars["input"].(map[string]any)
		return deepCopyMap(input), inputMode, nil
	case "from_var":
		source := configString(node.Config, "inputSource")
		if source == "" {
			return nil, "", fault.Errorf(fault.ValidationError, "invoke_workflow node %s uses from_var without inputSource", node.ID)
		}
		resolved, ok := rc.context.ResolvePath(source).(map[string]any)
		if !ok {
			return nil, "", fault.Errorf(fault.ValidationError, "inputSource %q did not resolve to an object", source)
		}
		return deepCopyMap(resolved), inputMode, nil
	default:
		return nil, "", fault.Errorf(fault.ValidationError, "unknown inputMode %q", inputMode)
	}
}

func configBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}
