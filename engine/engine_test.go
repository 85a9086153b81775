package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/logger"
	"github.com/relaydev/relay/common/metrics"
	"github.com/relaydev/relay/common/models"
	"github.com/relaydev/relay/common/store"
	"github.com/relaydev/relay/engine/fault"
	"github.com/relaydev/relay/engine/httpexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, st store.Store, opts Options) *Engine {
	t.Helper()
	eng, err := New(st, httpexec.NewClient(logger.Discard()), logger.Discard(), metrics.NewNop(), opts)
	require.NoError(t, err)
	eng.sleep = func(time.Duration) {}
	return eng
}

func gnode(id, nodeType string, config map[string]any) map[string]any {
	if config == nil {
		config = map[string]any{}
	}
	return map[string]any{"id": id, "node_type": nodeType, "config": config}
}

func gedge(source, target string) map[string]any {
	return map[string]any{"source": source, "target": target}
}

func condEdge(source, target, condition string) map[string]any {
	return map[string]any{"source": source, "target": target, "condition": condition}
}

func breakEdge(source, target string) map[string]any {
	return map[string]any{"source": source, "target": target, "breakpoint": true}
}

func graphDoc(entry string, nodes []any, edges []any) map[string]any {
	return map[string]any{"entry_node_id": entry, "nodes": nodes, "edges": edges}
}

// createRun stores a version and an execution for it.
func createRun(t *testing.T, st store.Store, graph map[string]any, input map[string]any) (*models.WorkflowVersion, *models.Execution) {
	t.Helper()
	ctx := context.Background()

	wf, err := st.CreateWorkflow(ctx, "test-workflow", nil, nil)
	require.NoError(t, err)
	version, err := st.CreateWorkflowVersion(ctx, wf.ID, graph, true, nil, nil, nil)
	require.NoError(t, err)

	exec, err := st.CreateExecution(ctx, store.CreateExecutionParams{
		WorkflowVersionID: version.ID,
		InputJSON:         input,
	})
	require.NoError(t, err)
	return version, exec
}

func countEvents(events []*models.ExecutionEvent, eventType string) int {
	n := 0
	for _, e := range events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func jsonBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// A start_request feeds an if branch whose true edge saves a value.
func TestRunBranchAndSave(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonBody(w, map[string]any{"approved": true, "amount": 80})
	}))
	defer server.Close()

	graph := graphDoc("start1", []any{
		gnode("start1", "start", nil),
		gnode("http1", "start_request", map[string]any{"url": server.URL}),
		gnode("if1", "if", map[string]any{"expression": "last_response.body.approved"}),
		gnode("save1", "save", map[string]any{"key": "approved", "from": "last_response.body.approved"}),
		gnode("end1", "end", nil),
		gnode("end2", "end", nil),
	}, []any{
		gedge("start1", "http1"),
		gedge("http1", "if1"),
		condEdge("if1", "save1", "true"),
		condEdge("if1", "end2", "false"),
		gedge("save1", "end1"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, map[string]any{"token": "abc"})

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{"token": "abc"},
	}))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, int64(1), calls.Load())

	nodes := final.FinalContextJSON["nodes"].(map[string]any)
	ifRecord := nodes["if1"].(map[string]any)
	assert.Equal(t, true, ifRecord["output"].(map[string]any)["result"])

	outputs, err := st.ListSavedOutputs(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "approved", outputs[0].Key)
	assert.Equal(t, true, outputs[0].ValueJSON)
}

// A breakpoint edge pauses the run at its target; resume finishes
// it without re-running the source node.
func TestRunBreakpointPauseThenResume(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonBody(w, map[string]any{"ok": true})
	}))
	defer server.Close()

	graph := graphDoc("http1", []any{
		gnode("http1", "start_request", map[string]any{"url": server.URL}),
		gnode("end", "end", nil),
	}, []any{
		breakEdge("http1", "end"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, nil)

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{},
	}))

	paused, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, paused.Status)
	require.NotNil(t, paused.CurrentNodeID)
	assert.Equal(t, "end", *paused.CurrentNodeID)
	assert.Equal(t, int64(1), calls.Load())
	require.NotNil(t, paused.FinalContextJSON)

	require.NoError(t, eng.Debug(context.Background(), paused, version, ActionResume))

	resumed, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, resumed.Status)
	assert.Equal(t, int64(1), calls.Load())

	events, err := st.ListEvents(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countEvents(events, models.EventBreakpointPaused))
	assert.Equal(t, 1, countEvents(events, models.EventRunResumed))
	assert.Equal(t, 1, countEvents(events, models.EventRunStarted))
}

// page_number pagination stops when has_more turns false.
func TestRunPaginatorPageNumber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		jsonBody(w, map[string]any{
			"data":     []any{"item-" + strconv.Itoa(p) + "-a", "item-" + strconv.Itoa(p) + "-b"},
			"has_more": p < 3,
		})
	}))
	defer server.Close()

	graph := graphDoc("p1", []any{
		gnode("p1", "paginate_request", map[string]any{
			"url":         server.URL,
			"strategy":    "page_number",
			"pageSize":    2,
			"maxPages":    10,
			"itemsPath":   "body.data",
			"hasMorePath": "body.has_more",
		}),
		gnode("end", "end", nil),
	}, []any{
		gedge("p1", "end"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, nil)

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{},
	}))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, final.Status)

	nodes := final.FinalContextJSON["nodes"].(map[string]any)
	output := nodes["p1"].(map[string]any)["output"].(map[string]any)
	assert.EqualValues(t, 3, output["pages_fetched"])
	assert.Len(t, output["items"].([]any), 6)
}

// Repeated 500s exhaust the retry budget, fail the node and
// leave the breaker open in the persisted context.
func TestRunCircuitBreakerRecordsFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	graph := graphDoc("r1", []any{
		gnode("r1", "start_request", map[string]any{
			"url":                     server.URL,
			"retryAttempts":           2,
			"circuitFailureThreshold": 2,
		}),
		gnode("end", "end", nil),
	}, []any{
		gedge("r1", "end"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, nil)

	err := eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{},
	})
	require.Error(t, err)
	assert.Equal(t, fault.UpstreamFailure, fault.KindOf(err))
	assert.Equal(t, int64(3), calls.Load())

	final, errGet := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, errGet)
	assert.Equal(t, models.StatusFailed, final.Status)

	system := final.FinalContextJSON["system"].(map[string]any)
	breakers := system["circuit_breakers"].(map[string]any)
	state := breakers["r1"].(map[string]any)
	assert.GreaterOrEqual(t, state["failures"].(float64), float64(2))
	assert.Greater(t, state["open_until_ms"].(float64), float64(time.Now().UnixMilli()))

	events, errList := st.ListEvents(context.Background(), exec.ID)
	require.NoError(t, errList)
	assert.Equal(t, 1, countEvents(events, models.EventNodeFailed))
}

// invoke_workflow runs a published child synchronously.
func TestRunInvokeWorkflowSuccess(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})

	childWf, err := st.CreateWorkflow(ctx, "child", nil, nil)
	require.NoError(t, err)
	childGraph := graphDoc("end", []any{gnode("end", "end", nil)}, []any{})
	_, err = st.CreateWorkflowVersion(ctx, childWf.ID, childGraph, true, nil, nil, nil)
	require.NoError(t, err)

	parentGraph := graphDoc("inv", []any{
		gnode("inv", "invoke_workflow", map[string]any{"targetWorkflowId": childWf.ID.String()}),
		gnode("end", "end", nil),
	}, []any{
		gedge("inv", "end"),
	})
	version, exec := createRun(t, st, parentGraph, map[string]any{"x": 1})

	require.NoError(t, eng.Run(ctx, RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{"x": 1},
	}))

	events, err := st.ListEvents(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countEvents(events, models.EventInvokeWorkflowStarted))
	assert.Equal(t, 1, countEvents(events, models.EventInvokeWorkflowSucceeded))

	final, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, final.Status)

	nodes := final.FinalContextJSON["nodes"].(map[string]any)
	output := nodes["inv"].(map[string]any)["output"].(map[string]any)
	childID, err := uuid.Parse(output["child_execution_id"].(string))
	require.NoError(t, err)

	child, err := st.GetExecution(ctx, childID)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, models.StatusCompleted, child.Status)
	require.NotNil(t, child.ParentExecutionID)
	assert.Equal(t, exec.ID, *child.ParentExecutionID)

	childSystem := child.FinalContextJSON["system"].(map[string]any)
	assert.EqualValues(t, 1, childSystem["call_depth"])
	assert.Equal(t, exec.ID.String(), childSystem["correlation_id"])
}

// A self-invoking workflow stops at the call-depth cap; the top
// level sees a NODE_FAILED at the invoke node.
func TestRunCallDepthCap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{MaxCallDepth: 2})

	wf, err := st.CreateWorkflow(ctx, "recursive", nil, nil)
	require.NoError(t, err)
	graph := graphDoc("inv", []any{
		gnode("inv", "invoke_workflow", map[string]any{"targetWorkflowId": wf.ID.String()}),
		gnode("end", "end", nil),
	}, []any{
		gedge("inv", "end"),
	})
	version, err := st.CreateWorkflowVersion(ctx, wf.ID, graph, true, nil, nil, nil)
	require.NoError(t, err)
	exec, err := st.CreateExecution(ctx, store.CreateExecutionParams{
		WorkflowVersionID: version.ID,
		InputJSON:         map[string]any{},
	})
	require.NoError(t, err)

	err = eng.Run(ctx, RunParams{Execution: exec, Version: version, InputJSON: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, fault.InvokeChildFailed, fault.KindOf(err))

	events, err := st.ListEvents(ctx, exec.ID)
	require.NoError(t, err)
	failed := 0
	for _, e := range events {
		if e.EventType == models.EventNodeFailed {
			failed++
			require.NotNil(t, e.NodeID)
			assert.Equal(t, "inv", *e.NodeID)
		}
	}
	assert.Equal(t, 1, failed)
}

// Invariants: dense indices, paired NODE_STARTED, execution id stamped in
// the final context.
func TestRunEventLogInvariants(t *testing.T) {
	graph := graphDoc("start", []any{
		gnode("start", "start", nil),
		gnode("v1", "define_variable", map[string]any{"name": "a", "selector": "vars.input.x"}),
		gnode("v2", "define_variable", map[string]any{"name": "b", "selector": "vars.a"}),
		gnode("end", "end", nil),
	}, []any{
		gedge("start", "v1"),
		gedge("v1", "v2"),
		gedge("v2", "end"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, map[string]any{"x": 5})

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{"x": 5},
	}))

	events, err := st.ListEvents(context.Background(), exec.ID)
	require.NoError(t, err)

	for i, e := range events {
		assert.Equal(t, i, e.EventIndex)
	}

	var open *string
	for _, e := range events {
		switch e.EventType {
		case models.EventNodeStarted:
			require.Nil(t, open, "NODE_STARTED while %v still open", open)
			open = e.NodeID
		case models.EventNodeSucceeded, models.EventNodeFailed:
			require.NotNil(t, open)
			assert.Equal(t, *open, *e.NodeID)
			open = nil
		}
	}
	assert.Nil(t, open)

	assert.Equal(t, models.EventRunStarted, events[0].EventType)
	assert.Equal(t, 1, countEvents(events, models.EventRunCompleted))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	system := final.FinalContextJSON["system"].(map[string]any)
	assert.Equal(t, exec.ID.String(), system["execution_id"])
}

// Snapshot policy: the snapshot index sits one before each interval
// boundary and is recorded with a SNAPSHOT_WRITTEN event.
func TestRunSnapshotPolicy(t *testing.T) {
	nodes := []any{gnode("start", "start", nil)}
	edges := []any{}
	prev := "start"
	for i := 0; i < 8; i++ {
		id := "v" + strconv.Itoa(i)
		nodes = append(nodes, gnode(id, "define_variable", map[string]any{
			"name": id, "defaultValue": i,
		}))
		edges = append(edges, gedge(prev, id))
		prev = id
	}
	nodes = append(nodes, gnode("end", "end", nil))
	edges = append(edges, gedge(prev, "end"))
	graph := graphDoc("start", nodes, edges)

	interval := 5
	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{SnapshotInterval: interval})
	version, exec := createRun(t, st, graph, nil)

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{},
	}))

	events, err := st.ListEvents(context.Background(), exec.ID)
	require.NoError(t, err)
	written := 0
	for _, e := range events {
		if e.EventType == models.EventSnapshotWritten {
			written++
			idx := int(e.Payload["event_index"].(float64))
			assert.Equal(t, interval-1, idx%interval)

			snap, err := st.GetLatestSnapshotBefore(context.Background(), exec.ID, idx)
			require.NoError(t, err)
			require.NotNil(t, snap)
			assert.Equal(t, idx, snap.EventIndex)
		}
	}
	assert.Greater(t, written, 0)
}

func TestRunNoOutgoingEdgeCompletes(t *testing.T) {
	graph := graphDoc("v1", []any{
		gnode("v1", "define_variable", map[string]any{"name": "a", "defaultValue": 1}),
	}, []any{})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, nil)

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{},
	}))

	events, err := st.ListEvents(context.Background(), exec.ID)
	require.NoError(t, err)
	var completed *models.ExecutionEvent
	for _, e := range events {
		if e.EventType == models.EventRunCompleted {
			completed = e
		}
	}
	require.NotNil(t, completed)
	assert.Equal(t, "No outgoing edge", completed.Payload["reason"])
}

func TestRunMissingEntryNodeFails(t *testing.T) {
	graph := graphDoc("ghost", []any{gnode("real", "start", nil)}, []any{})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, nil)

	err := eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{},
	})
	require.Error(t, err)
	assert.Equal(t, fault.GraphInvalid, fault.KindOf(err))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
}

func TestRunRaiseError(t *testing.T) {
	graph := graphDoc("start", []any{
		gnode("start", "start", nil),
		gnode("boom", "raise_error", map[string]any{"message": "bad input {{vars.input.x}}"}),
	}, []any{
		gedge("start", "boom"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, map[string]any{"x": 9})

	err := eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{"x": 9},
	})
	require.Error(t, err)
	assert.Equal(t, fault.NodeRaised, fault.KindOf(err))
	assert.Contains(t, err.Error(), "bad input 9")
}

func TestRunParametersDefaults(t *testing.T) {
	graph := graphDoc("start", []any{
		gnode("start", "start", nil),
		gnode("params", "parameters", map[string]any{
			"parameters": []any{
				map[string]any{"name": "region", "defaultValue": "eu"},
				map[string]any{"name": "x", "defaultValue": 999},
			},
		}),
		gnode("end", "end", nil),
	}, []any{
		gedge("start", "params"),
		gedge("params", "end"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, map[string]any{"x": 5})

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{"x": 5},
	}))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	vars := final.FinalContextJSON["vars"].(map[string]any)
	assert.Equal(t, "eu", vars["region"])
	// A bound input key wins over the declared default.
	assert.EqualValues(t, 5, vars["x"])
}

func TestRunForEachAndJoin(t *testing.T) {
	graph := graphDoc("start", []any{
		gnode("start", "start", nil),
		gnode("fan", "for_each_parallel", map[string]any{
			"listExpr": "vars.input.orders",
			"itemName": "order",
		}),
		gnode("join1", "join", map[string]any{"mergeStrategy": "collect_list"}),
		gnode("end", "end", nil),
	}, []any{
		gedge("start", "fan"),
		gedge("fan", "join1"),
		gedge("join1", "end"),
	})

	input := map[string]any{"orders": []any{"a", "b", "c"}}
	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, input)

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: input,
	}))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	vars := final.FinalContextJSON["vars"].(map[string]any)
	assert.Equal(t, []any{"a", "b", "c"}, vars["joined"])
	assert.Equal(t, []any{"a", "b", "c"}, vars["order_items"])
}

func TestDebugAbort(t *testing.T) {
	graph := graphDoc("http1", []any{
		gnode("http1", "define_variable", map[string]any{"name": "a", "defaultValue": 1}),
		gnode("end", "end", nil),
	}, []any{
		breakEdge("http1", "end"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, nil)

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: map[string]any{},
	}))

	paused, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPaused, paused.Status)

	require.NoError(t, eng.Debug(context.Background(), paused, version, ActionAbort))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAborted, final.Status)

	events, err := st.ListEvents(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventRunAborted, events[len(events)-1].EventType)
}

func TestDebugResumeWithoutCursor(t *testing.T) {
	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	graph := graphDoc("end", []any{gnode("end", "end", nil)}, []any{})
	version, exec := createRun(t, st, graph, nil)

	// No pause ever happened, so there is nothing to resume from.
	exec.FinalContextJSON = nil
	exec.CurrentNodeID = nil
	err := eng.Debug(context.Background(), exec, version, ActionResume)
	require.Error(t, err)
	assert.Equal(t, fault.NoResumeCursor, fault.KindOf(err))
}

// Resume idempotence: a paused-then-resumed run ends with the same vars as
// an uninterrupted run of the same graph and input.
func TestResumeMatchesStraightThroughRun(t *testing.T) {
	mkGraph := func(withBreakpoint bool) map[string]any {
		edge := gedge("v1", "v2")
		if withBreakpoint {
			edge = breakEdge("v1", "v2")
		}
		return graphDoc("v1", []any{
			gnode("v1", "define_variable", map[string]any{"name": "a", "selector": "vars.input.x"}),
			gnode("v2", "define_variable", map[string]any{"name": "b", "selector": "vars.a"}),
			gnode("end", "end", nil),
		}, []any{
			edge,
			gedge("v2", "end"),
		})
	}
	input := map[string]any{"x": 7}

	run := func(graph map[string]any, resume bool) map[string]any {
		st := store.NewMemory()
		eng := newTestEngine(t, st, Options{})
		version, exec := createRun(t, st, graph, input)
		require.NoError(t, eng.Run(context.Background(), RunParams{
			Execution: exec,
			Version:   version,
			InputJSON: input,
		}))
		if resume {
			paused, err := st.GetExecution(context.Background(), exec.ID)
			require.NoError(t, err)
			require.Equal(t, models.StatusPaused, paused.Status)
			require.NoError(t, eng.Debug(context.Background(), paused, version, ActionResume))
		}
		final, err := st.GetExecution(context.Background(), exec.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusCompleted, final.Status)
		return final.FinalContextJSON["vars"].(map[string]any)
	}

	straight := run(mkGraph(false), false)
	resumed := run(mkGraph(true), true)
	assert.Equal(t, straight, resumed)
}

func TestEngineOptionDefaults(t *testing.T) {
	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	assert.Equal(t, DefaultMaxCallDepth, eng.MaxCallDepth())

	capped := newTestEngine(t, st, Options{MaxCallDepth: 3})
	assert.Equal(t, 3, capped.MaxCallDepth())
}

// scriptRun executes a single-script-node graph and returns the node's
// output and the final context.
func scriptRun(t *testing.T, nodeType, code string, input map[string]any) (map[string]any, map[string]any) {
	t.Helper()

	graph := graphDoc("s1", []any{
		gnode("s1", nodeType, map[string]any{"code": code}),
		gnode("end", "end", nil),
	}, []any{
		gedge("s1", "end"),
	})

	st := store.NewMemory()
	eng := newTestEngine(t, st, Options{})
	version, exec := createRun(t, st, graph, input)

	require.NoError(t, eng.Run(context.Background(), RunParams{
		Execution: exec,
		Version:   version,
		InputJSON: input,
	}))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, final.Status)

	nodes := final.FinalContextJSON["nodes"].(map[string]any)
	output := nodes["s1"].(map[string]any)["output"].(map[string]any)
	return output, final.FinalContextJSON
}

// A python_request result without a status_code wraps as a 200 response
// and becomes last_response.
func TestRunScriptRequestWrapsBareResult(t *testing.T) {
	output, final := scriptRun(t, "python_request", `{"n": input.x * 2}`, map[string]any{"x": 3})

	assert.EqualValues(t, 200, output["status_code"])
	body := output["body"].(map[string]any)
	assert.EqualValues(t, 6, body["n"])

	system := final["system"].(map[string]any)
	lastResponse := system["last_response"].(map[string]any)
	assert.Equal(t, output, lastResponse)
}

func TestRunScriptRequestKeepsResponseShape(t *testing.T) {
	output, _ := scriptRun(t, "python_request", `{"status_code": 404, "body": "missing"}`, nil)

	assert.EqualValues(t, 404, output["status_code"])
	assert.Equal(t, "missing", output["body"])
}

// A start_python result with a vars member merges only that member.
func TestRunScriptVarsMergesDeclaredVars(t *testing.T) {
	output, final := scriptRun(t, "start_python", `{"vars": {"a": 1}, "ignored": true}`, nil)

	vars := final["vars"].(map[string]any)
	assert.EqualValues(t, 1, vars["a"])
	_, bound := vars["ignored"]
	assert.False(t, bound)
	assert.Equal(t, []any{"a"}, output["merged"])
}

func TestRunScriptVarsMergesWholeObject(t *testing.T) {
	output, final := scriptRun(t, "start_python", `{"b": 2, "c": "x"}`, nil)

	vars := final["vars"].(map[string]any)
	assert.EqualValues(t, 2, vars["b"])
	assert.Equal(t, "x", vars["c"])
	assert.Equal(t, []any{"b", "c"}, output["merged"])
}

// A non-object start_python result binds to vars.result.
func TestRunScriptVarsBindsScalarToResult(t *testing.T) {
	output, final := scriptRun(t, "start_python", `"hello"`, nil)

	vars := final["vars"].(map[string]any)
	assert.Equal(t, "hello", vars["result"])
	assert.Equal(t, []any{"result"}, output["merged"])
}
