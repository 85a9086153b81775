package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	root := map[string]any{
		"vars": map[string]any{
			"input": map[string]any{"amount": 80},
			"list":  []any{"a", "b", "c"},
		},
		"nodes": map[string]any{
			"if1": map[string]any{"output": map[string]any{"result": true}},
		},
	}

	assert.Equal(t, 80, Resolve(root, "vars.input.amount"))
	assert.Equal(t, "b", Resolve(root, "vars.list.1"))
	assert.Equal(t, true, Resolve(root, "nodes.if1.output.result"))
	assert.Equal(t, 80, Resolve(root, "$.vars.input.amount"))
}

func TestResolveAbsentIsNil(t *testing.T) {
	root := map[string]any{"vars": map[string]any{"x": 1}}

	assert.Nil(t, Resolve(root, "vars.missing"))
	assert.Nil(t, Resolve(root, "vars.x.deeper"))
	assert.Nil(t, Resolve(root, "nowhere.at.all"))
	assert.Nil(t, Resolve(nil, "vars.x"))
}

func TestResolveListIndexOutOfRange(t *testing.T) {
	root := map[string]any{"list": []any{1, 2}}

	assert.Nil(t, Resolve(root, "list.5"))
	assert.Nil(t, Resolve(root, "list.notanumber"))
}

func TestIsBarePath(t *testing.T) {
	assert.True(t, IsBarePath("vars.x"))
	assert.True(t, IsBarePath("$.a.b"))
	assert.True(t, IsBarePath("nodes.if1.output.result"))
	assert.True(t, IsBarePath("list.0"))

	assert.False(t, IsBarePath("vars.x + 1"))
	assert.False(t, IsBarePath("len(vars.list)"))
	assert.False(t, IsBarePath("a == b"))
	assert.False(t, IsBarePath(""))
}
