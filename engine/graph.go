package engine

import (
	"fmt"
)

// Node is a canonical graph vertex.
type Node struct {
	ID     string
	Type   string
	Label  string
	Config map[string]any
}

// Edge is a canonical directed edge. Condition is "true", "false" or nil;
// a breakpoint edge pauses traversal at its target.
type Edge struct {
	ID         string
	Source     string
	Target     string
	Condition  *string
	Breakpoint bool
}

// Graph is a normalized workflow graph. Outgoing preserves the order edges
// appear in the source array; that order is the traversal tie-break.
type Graph struct {
	EntryNodeID string
	Nodes       map[string]*Node
	NodeList    []*Node
	Outgoing    map[string][]*Edge
}

// NormalizeGraph accepts both the authored shape ({id, node_type, label,
// config}) and the legacy canvas shape ({id, type, data:{label, config}})
// and produces canonical node and edge records.
func NormalizeGraph(graphJSON map[string]any) (*Graph, error) {
	g := &Graph{
		Nodes:    map[string]*Node{},
		Outgoing: map[string][]*Edge{},
	}

	g.EntryNodeID, _ = graphJSON["entry_node_id"].(string)

	rawNodes, _ := graphJSON["nodes"].([]any)
	for _, raw := range rawNodes {
		nodeMap, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node entry is not an object")
		}
		node, err := normalizeNode(nodeMap)
		if err != nil {
			return nil, err
		}
		g.Nodes[node.ID] = node
		g.NodeList = append(g.NodeList, node)
	}

	rawEdges, _ := graphJSON["edges"].([]any)
	for i, raw := range rawEdges {
		edgeMap, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("edge entry is not an object")
		}
		edge, err := normalizeEdge(edgeMap, i)
		if err != nil {
			return nil, err
		}
		g.Outgoing[edge.Source] = append(g.Outgoing[edge.Source], edge)
	}

	return g, nil
}

func normalizeNode(raw map[string]any) (*Node, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("node is missing an id")
	}

	data, _ := raw["data"].(map[string]any)

	nodeType, _ := raw["node_type"].(string)
	if nodeType == "" {
		nodeType, _ = raw["type"].(string)
	}
	if nodeType == "" {
		return nil, fmt.Errorf("node %s is missing a node_type", id)
	}

	label, _ := raw["label"].(string)
	if label == "" && data != nil {
		label, _ = data["label"].(string)
	}

	config, _ := raw["config"].(map[string]any)
	if config == nil && data != nil {
		config, _ = data["config"].(map[string]any)
	}
	if config == nil {
		config = map[string]any{}
	}

	return &Node{ID: id, Type: nodeType, Label: label, Config: config}, nil
}

func normalizeEdge(raw map[string]any, position int) (*Edge, error) {
	source, _ := raw["source"].(string)
	target, _ := raw["target"].(string)
	if source == "" || target == "" {
		return nil, fmt.Errorf("edge at position %d is missing source or target", position)
	}

	id, _ := raw["id"].(string)
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", source, target, position)
	}

	data, _ := raw["data"].(map[string]any)

	edge := &Edge{ID: id, Source: source, Target: target}

	if cond, ok := raw["condition"].(string); ok && (cond == "true" || cond == "false") {
		edge.Condition = &cond
	} else if data != nil {
		if cond, ok := data["condition"].(string); ok && (cond == "true" || cond == "false") {
			edge.Condition = &cond
		}
	}
	if edge.Condition == nil {
		if handle, ok := raw["sourceHandle"].(string); ok && (handle == "true" || handle == "false") {
			edge.Condition = &handle
		}
	}

	if bp, ok := raw["breakpoint"].(bool); ok {
		edge.Breakpoint = bp
	} else if data != nil {
		if bp, ok := data["breakpoint"].(bool); ok {
			edge.Breakpoint = bp
		}
	}

	return edge, nil
}

// FirstOutgoing returns the first edge out of a node in source order.
func (g *Graph) FirstOutgoing(nodeID string) *Edge {
	edges := g.Outgoing[nodeID]
	if len(edges) == 0 {
		return nil
	}
	return edges[0]
}

// OutgoingByCondition prefers the edge whose condition label matches;
// nil when no labeled edge matches.
func (g *Graph) OutgoingByCondition(nodeID string, result bool) *Edge {
	want := "false"
	if result {
		want = "true"
	}
	for _, edge := range g.Outgoing[nodeID] {
		if edge.Condition != nil && *edge.Condition == want {
			return edge
		}
	}
	return nil
}
