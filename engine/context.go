package engine

import (
	"encoding/json"

	"github.com/relaydev/relay/engine/paths"
)

// System context keys reserved by the engine.
const (
	sysExecutionID        = "execution_id"
	sysCallDepth          = "call_depth"
	sysParentExecutionID  = "parent_execution_id"
	sysCorrelationID      = "correlation_id"
	sysLastResponse       = "last_response"
	sysLastResponseNodeID = "last_response_node_id"
	sysCircuitBreakers    = "circuit_breakers"
	sysParallel           = "parallel"
	sysSavedOutputs       = "saved_outputs"
)

// Context is the mutable state of one execution. Vars hold user-visible
// values (including "input"), Nodes record per-node results, System carries
// reserved engine fields. The run loop is the only writer of Nodes.
type Context struct {
	Vars   map[string]any
	Nodes  map[string]any
	System map[string]any
}

// NewContext builds a fresh context for a run. Top-level input keys are
// splashed into vars and the whole input is also kept under vars.input.
func NewContext(inputJSON map[string]any, executionID string, callDepth int, parentExecutionID, correlationID *string) *Context {
	vars := deepCopyMap(inputJSON)
	if vars == nil {
		vars = map[string]any{}
	}
	vars["input"] = deepCopyMap(inputJSON)

	system := map[string]any{
		sysExecutionID:     executionID,
		sysCallDepth:       callDepth,
		sysCircuitBreakers: map[string]any{},
		sysParallel:        map[string]any{},
		sysSavedOutputs:    map[string]any{},
	}
	if parentExecutionID != nil {
		system[sysParentExecutionID] = *parentExecutionID
	} else {
		system[sysParentExecutionID] = nil
	}
	if correlationID != nil {
		system[sysCorrelationID] = *correlationID
	} else {
		system[sysCorrelationID] = nil
	}

	return &Context{
		Vars:   vars,
		Nodes:  map[string]any{},
		System: system,
	}
}

// ContextFromJSON reconstructs a context persisted in final_context_json.
func ContextFromJSON(raw map[string]any) *Context {
	c := &Context{
		Vars:   map[string]any{},
		Nodes:  map[string]any{},
		System: map[string]any{},
	}
	if vars, ok := raw["vars"].(map[string]any); ok {
		c.Vars = deepCopyMap(vars)
	}
	if nodes, ok := raw["nodes"].(map[string]any); ok {
		c.Nodes = deepCopyMap(nodes)
	}
	if system, ok := raw["system"].(map[string]any); ok {
		c.System = deepCopyMap(system)
	}
	for _, key := range []string{sysCircuitBreakers, sysParallel, sysSavedOutputs} {
		if _, ok := c.System[key].(map[string]any); !ok {
			c.System[key] = map[string]any{}
		}
	}
	return c
}

// ToJSON renders the context in its persisted shape.
func (c *Context) ToJSON() map[string]any {
	return map[string]any{
		"vars":   c.Vars,
		"nodes":  c.Nodes,
		"system": c.System,
	}
}

// Snapshot deep-copies the persisted shape so stored state never aliases
// the live context.
func (c *Context) Snapshot() map[string]any {
	return deepCopyMap(c.ToJSON())
}

// TemplateRoot is what templates and expressions see: the three sub-maps
// plus the input and last_response shortcuts.
func (c *Context) TemplateRoot() map[string]any {
	return map[string]any{
		"vars":          c.Vars,
		"nodes":         c.Nodes,
		"system":        c.System,
		"input":         c.Vars["input"],
		"last_response": c.System[sysLastResponse],
	}
}

// ResolvePath resolves a dotted path against the template root.
func (c *Context) ResolvePath(path string) any {
	return paths.Resolve(c.TemplateRoot(), path)
}

// CallDepth reads system.call_depth, tolerating JSON round-trips that turn
// ints into float64.
func (c *Context) CallDepth() int {
	switch v := c.System[sysCallDepth].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// CircuitBreakers exposes the per-node breaker table.
func (c *Context) CircuitBreakers() map[string]any {
	table, ok := c.System[sysCircuitBreakers].(map[string]any)
	if !ok {
		table = map[string]any{}
		c.System[sysCircuitBreakers] = table
	}
	return table
}

// Parallel exposes the fan-out table written by for_each_parallel nodes.
func (c *Context) Parallel() map[string]any {
	table, ok := c.System[sysParallel].(map[string]any)
	if !ok {
		table = map[string]any{}
		c.System[sysParallel] = table
	}
	return table
}

// SavedOutputs exposes the context mirror of save-node writes.
func (c *Context) SavedOutputs() map[string]any {
	table, ok := c.System[sysSavedOutputs].(map[string]any)
	if !ok {
		table = map[string]any{}
		c.System[sysSavedOutputs] = table
	}
	return table
}

// SetLastResponse records the most recent successful upstream response.
func (c *Context) SetLastResponse(nodeID string, response map[string]any) {
	c.System[sysLastResponse] = response
	c.System[sysLastResponseNodeID] = nodeID
}

// RecordNode stores a node result record under nodes[nodeID].
func (c *Context) RecordNode(nodeID string, record map[string]any) {
	c.Nodes[nodeID] = record
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := deepCopyValue(m).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func deepCopyValue(v any) any {
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
