package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGraphAcceptsAuthoredShape(t *testing.T) {
	err := ValidateGraph(map[string]any{
		"entry_node_id": "a",
		"nodes": []any{
			map[string]any{"id": "a", "node_type": "start"},
			map[string]any{"id": "b", "node_type": "end", "config": map[string]any{}},
		},
		"edges": []any{
			map[string]any{"source": "a", "target": "b"},
		},
	})
	assert.NoError(t, err)
}

func TestValidateGraphAcceptsLegacyCanvasShape(t *testing.T) {
	err := ValidateGraph(map[string]any{
		"nodes": []any{
			map[string]any{"id": "a", "type": "if", "data": map[string]any{"label": "x"}},
		},
		"edges": []any{
			map[string]any{"source": "a", "target": "a", "sourceHandle": "true", "breakpoint": true},
		},
	})
	assert.NoError(t, err)
}

func TestValidateGraphRejections(t *testing.T) {
	cases := []struct {
		name  string
		graph map[string]any
	}{
		{"missing edges", map[string]any{"nodes": []any{}}},
		{"nodes not array", map[string]any{"nodes": "nope", "edges": []any{}}},
		{"node without id", map[string]any{
			"nodes": []any{map[string]any{"node_type": "start"}},
			"edges": []any{},
		}},
		{"edge without target", map[string]any{
			"nodes": []any{},
			"edges": []any{map[string]any{"source": "a"}},
		}},
		{"empty node id", map[string]any{
			"nodes": []any{map[string]any{"id": ""}},
			"edges": []any{},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, ValidateGraph(tc.graph))
		})
	}
}

func TestValidateGraphListsEveryViolation(t *testing.T) {
	err := ValidateGraph(map[string]any{
		"nodes": []any{map[string]any{}},
		"edges": []any{map[string]any{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ";")
}
