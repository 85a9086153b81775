// Package engine interprets workflow graphs against a mutable execution
// context, producing a dense, durable event log and periodic snapshots so
// any paused or failed run can be inspected, resumed or replayed.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/logger"
	"github.com/relaydev/relay/common/metrics"
	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/common/store"
	"github.com/relaydev/relay/engine/eval"
	"github.com/relaydev/relay/engine/fault"
	"github.com/relaydev/relay/engine/httpexec"
	"github.com/relaydev/relay/engine/script"
)

// Defaults for engine-level limits.
const (
	DefaultSnapshotInterval = 25
	DefaultMaxCallDepth     = 8
)

// Options tune the engine's run-time limits.
type Options struct {
	SnapshotInterval int
	MaxCallDepth     int
}

// Engine is the workflow interpreter. One Engine serves many executions;
// each Run owns its context exclusively.
type Engine struct {
	store            store.Store
	http             *httpexec.Client
	eval             *eval.Evaluator
	script           *script.Runner
	log              *logger.Logger
	metrics          *metrics.Metrics
	snapshotInterval int
	maxCallDepth     int
	sleep            func(time.Duration)
}

// New creates an engine bound to a store and HTTP executor.
func New(st store.Store, httpClient *httpexec.Client, log *logger.Logger, m *metrics.Metrics, opts Options) (*Engine, error) {
	runner, err := script.NewRunner()
	if err != nil {
		return nil, err
	}

	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}

	return &Engine{
		store:            st,
		http:             httpClient,
		eval:             eval.New(),
		script:           runner,
		log:              log,
		metrics:          m,
		snapshotInterval: opts.SnapshotInterval,
		maxCallDepth:     opts.MaxCallDepth,
		sleep:            time.Sleep,
	}, nil
}

// MaxCallDepth reports the configured recursion bound.
func (e *Engine) MaxCallDepth() int { return e.maxCallDepth }

// RunParams carries everything the run loop needs. StartNodeID,
// ContextOverride and IsResume are only set when resuming.
type RunParams struct {
	Execution       *models.Execution
	Version         *models.WorkflowVersion
	InputJSON       map[string]any
	CallDepth       int
	ParentExecution *uuid.UUID
	CorrelationID   *string
	StartNodeID     string
	ContextOverride map[string]any
	IsResume        bool
}

// runContext is the per-run working state threaded through the loop.
type runContext struct {
	exec    *models.Execution
	version *models.WorkflowVersion
	graph   *Graph
	context *Context
	log     *logger.Logger
}

// Run interprets one execution to a terminal or paused state. The returned
// error is the node fault that stopped the run; the execution row and event
// log are already final when it returns.
func (e *Engine) Run(ctx context.Context, p RunParams) error {
	log := e.log.WithExecutionID(p.Execution.ID.String())

	if !p.IsResume {
		e.metrics.ExecutionsStarted.Inc()
		if p.CallDepth > e.maxCallDepth {
			err := fault.Errorf(fault.CallDepthExceeded, "call depth %d exceeds limit %d", p.CallDepth, e.maxCallDepth)
			e.failBeforeStart(ctx, p.Execution.ID, err)
			return err
		}
	}

	graph, err := NormalizeGraph(p.Version.GraphJSON)
	if err != nil {
		err = fault.Wrap(fault.GraphInvalid, err)
		e.failBeforeStart(ctx, p.Execution.ID, err)
		return err
	}
	if graph.EntryNodeID == "" || graph.Nodes[graph.EntryNodeID] == nil {
		err := fault.Errorf(fault.GraphInvalid, "entry_node_id %q not found in graph", graph.EntryNodeID)
		e.failBeforeStart(ctx, p.Execution.ID, err)
		return err
	}

	var runCtx *Context
	current := graph.EntryNodeID

	if p.IsResume {
		runCtx = ContextFromJSON(p.ContextOverride)
		if p.StartNodeID != "" {
			current = p.StartNodeID
		}
	} else {
		var parent *string
		if p.ParentExecution != nil {
			s := p.ParentExecution.String()
			parent = &s
		}
		runCtx = NewContext(p.InputJSON, p.Execution.ID.String(), p.CallDepth, parent, p.CorrelationID)
		applyParameterDefaults(graph, runCtx)

		payload := map[string]any{
			"workflow_version_id": p.Version.ID.String(),
			"call_depth":          p.CallDepth,
			"parent_execution_id": nilableString(parent),
			"correlation_id":      nilableString(p.CorrelationID),
		}
		if _, err := e.append(ctx, p.Execution.ID, models.EventRunStarted, nil, nil, payload); err != nil {
			return err
		}
	}

	rc := &runContext{
		exec:    p.Execution,
		version: p.Version,
		graph:   graph,
		context: runCtx,
		log:     log,
	}

	return e.loop(ctx, rc, current)
}

func (e *Engine) loop(ctx context.Context, rc *runContext, current string) error {
	for {
		if err := e.store.UpdateExecutionStatus(ctx, rc.exec.ID, models.StatusRunning, &current, rc.context.Snapshot()); err != nil {
			return err
		}

		node := rc.graph.Nodes[current]
		if node == nil {
			err := fault.Errorf(fault.GraphInvalid, "node %q not found in graph", current)
			return e.failNode(ctx, rc, &Node{ID: current, Type: "unknown"}, err)
		}

		nodeLog := rc.log.WithNodeID(node.ID)
		nodeLog.Debug("node started", "node_type", node.Type)

		if _, err := e.append(ctx, rc.exec.ID, models.EventNodeStarted, &node.ID, nil, map[string]any{
			"node_type": node.Type,
			"label":     node.Label,
		}); err != nil {
			return err
		}

		started := time.Now()
		output, dispatchErr := e.dispatch(ctx, rc, node)
		e.metrics.NodeDuration.WithLabelValues(node.Type).Observe(time.Since(started).Seconds())

		if dispatchErr != nil {
			e.metrics.NodesExecuted.WithLabelValues(node.Type, "failed").Inc()
			nodeLog.Error("node failed", "error", dispatchErr, "kind", string(fault.KindOf(dispatchErr)))
			return e.failNode(ctx, rc, node, dispatchErr)
		}
		e.metrics.NodesExecuted.WithLabelValues(node.Type, "success").Inc()

		rc.context.RecordNode(node.ID, map[string]any{
			"status":    "success",
			"node_type": node.Type,
			"label":     node.Label,
			"output":    output,
		})
		if _, err := e.append(ctx, rc.exec.ID, models.EventNodeSucceeded, &node.ID, nil, nil); err != nil {
			return err
		}

		if node.Type == "end" {
			return e.complete(ctx, rc, nil)
		}

		edge := e.selectEdge(rc, node, output)
		if edge == nil {
			return e.complete(ctx, rc, map[string]any{"reason": "No outgoing edge"})
		}

		if edge.Breakpoint {
			return e.pause(ctx, rc, edge)
		}

		if _, err := e.append(ctx, rc.exec.ID, models.EventEdgeTraversed, nil, &edge.ID, map[string]any{
			"source": edge.Source,
			"target": edge.Target,
		}); err != nil {
			return err
		}

		current = edge.Target

		if err := e.maybeSnapshot(ctx, rc); err != nil {
			return err
		}
	}
}

// selectEdge picks the next edge: if nodes prefer the edge labeled with the
// branch result, everything else takes the first edge in source order.
func (e *Engine) selectEdge(rc *runContext, node *Node, output map[string]any) *Edge {
	if node.Type == "if" {
		result, _ := output["result"].(bool)
		if edge := rc.graph.OutgoingByCondition(node.ID, result); edge != nil {
			return edge
		}
	}
	return rc.graph.FirstOutgoing(node.ID)
}

func (e *Engine) complete(ctx context.Context, rc *runContext, payload map[string]any) error {
	if _, err := e.append(ctx, rc.exec.ID, models.EventRunCompleted, nil, nil, payload); err != nil {
		return err
	}
	if err := e.store.UpdateExecutionStatus(ctx, rc.exec.ID, models.StatusCompleted, nil, rc.context.Snapshot()); err != nil {
		return err
	}
	e.metrics.ExecutionsFinished.WithLabelValues(string(models.StatusCompleted)).Inc()
	rc.log.Info("execution completed")
	return e.maybeSnapshot(ctx, rc)
}

func (e *Engine) pause(ctx context.Context, rc *runContext, edge *Edge) error {
	if _, err := e.append(ctx, rc.exec.ID, models.EventBreakpointPaused, nil, &edge.ID, map[string]any{
		"source": edge.Source,
		"target": edge.Target,
	}); err != nil {
		return err
	}
	target := edge.Target
	if err := e.store.UpdateExecutionStatus(ctx, rc.exec.ID, models.StatusPaused, &target, rc.context.Snapshot()); err != nil {
		return err
	}
	e.metrics.ExecutionsFinished.WithLabelValues(string(models.StatusPaused)).Inc()
	rc.log.Info("execution paused at breakpoint", "target", edge.Target)
	return e.maybeSnapshot(ctx, rc)
}

// failNode records the failure on the node, logs NODE_FAILED, marks the
// execution failed and re-raises the fault to the caller.
func (e *Engine) failNode(ctx context.Context, rc *runContext, node *Node, cause error) error {
	kind := fault.KindOf(cause)

	rc.context.RecordNode(node.ID, map[string]any{
		"status":    "failed",
		"node_type": node.Type,
		"label":     node.Label,
		"error":     cause.Error(),
		"kind":      string(kind),
	})

	if _, err := e.append(ctx, rc.exec.ID, models.EventNodeFailed, &node.ID, nil, map[string]any{
		"reason": cause.Error(),
		"kind":   string(kind),
	}); err != nil {
		return err
	}
	if err := e.store.UpdateExecutionStatus(ctx, rc.exec.ID, models.StatusFailed, &node.ID, rc.context.Snapshot()); err != nil {
		return err
	}
	e.metrics.ExecutionsFinished.WithLabelValues(string(models.StatusFailed)).Inc()

	if err := e.maybeSnapshot(ctx, rc); err != nil {
		return err
	}
	return cause
}

// failBeforeStart handles faults raised before the loop has a context to
// persist: depth violations and unusable graphs.
func (e *Engine) failBeforeStart(ctx context.Context, executionID uuid.UUID, cause error) {
	if _, err := e.append(ctx, executionID, models.EventNodeFailed, nil, nil, map[string]any{
		"reason": cause.Error(),
		"kind":   string(fault.KindOf(cause)),
	}); err != nil {
		e.log.Error("append failure event", "execution_id", executionID, "error", err)
	}
	if err := e.store.UpdateExecutionStatus(ctx, executionID, models.StatusFailed, nil, nil); err != nil {
		e.log.Error("mark execution failed", "execution_id", executionID, "error", err)
	}
	e.metrics.ExecutionsFinished.WithLabelValues(string(models.StatusFailed)).Inc()
}

// maybeSnapshot writes a snapshot at event_index n-1 whenever the next
// index n is a whole multiple of the interval, then records the write.
func (e *Engine) maybeSnapshot(ctx context.Context, rc *runContext) error {
	n, err := e.store.GetNextEventIndex(ctx, rc.exec.ID)
	if err != nil {
		return err
	}
	if n == 0 || n%e.snapshotInterval != 0 {
		return nil
	}

	if err := e.store.CreateSnapshot(ctx, rc.exec.ID, n-1, rc.context.Snapshot()); err != nil {
		return err
	}
	e.metrics.SnapshotsWritten.Inc()

	_, err = e.append(ctx, rc.exec.ID, models.EventSnapshotWritten, nil, nil, map[string]any{
		"event_index": n - 1,
	})
	return err
}

func (e *Engine) append(ctx context.Context, executionID uuid.UUID, eventType string, nodeID, edgeID *string, payload map[string]any) (*models.ExecutionEvent, error) {
	event, err := e.store.AppendEvent(ctx, executionID, eventType, nodeID, edgeID, payload)
	if err != nil {
		return nil, err
	}
	e.metrics.EventsAppended.Inc()
	return event, nil
}

// applyParameterDefaults sets vars[name] = defaultValue for every declared
// parameter whose name is not already bound, once, at run start.
func applyParameterDefaults(g *Graph, c *Context) {
	for _, node := range g.NodeList {
		if node.Type != "parameters" {
			continue
		}
		declared, _ := node.Config["parameters"].([]any)
		for _, raw := range declared {
			param, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := param["name"].(string)
			if name == "" {
				continue
			}
			if _, bound := c.Vars[name]; !bound {
				c.Vars[name] = param["defaultValue"]
			}
		}
	}
}

func nilableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
