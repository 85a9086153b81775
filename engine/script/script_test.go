package script

import (
	"testing"

	"github.com/relaydev/relay/engine/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() map[string]any {
	return map[string]any{
		"vars": map[string]any{
			"amount": 80,
			"input":  map[string]any{"orders": []any{"a", "b"}},
		},
		"nodes": map[string]any{},
		"system": map[string]any{
			"execution_id": "exec-1",
		},
	}
}

func TestRunScalar(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	out, err := r.Run("vars.amount * 2", testContext())
	require.NoError(t, err)
	assert.EqualValues(t, 160, out)
}

func TestRunObjectResult(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	out, err := r.Run(`{"status_code": 201, "body": {"n": size(input.orders)}}`, testContext())
	require.NoError(t, err)

	obj, ok := out.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 201, obj["status_code"])
	body := obj["body"].(map[string]any)
	assert.EqualValues(t, 2, body["n"])
}

func TestRunReadsFullContext(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	out, err := r.Run(`context.system.execution_id`, testContext())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", out)
}

func TestRunCompileError(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	_, err = r.Run("vars.amount +", testContext())
	require.Error(t, err)
	assert.Equal(t, fault.ExpressionError, fault.KindOf(err))
}

func TestRunEvalError(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	// Division by zero is a runtime failure, not a compile failure.
	_, err = r.Run("1 / 0", testContext())
	require.Error(t, err)
	assert.Equal(t, fault.ExpressionError, fault.KindOf(err))
}

func TestRunCachesPrograms(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	_, err = r.Run("vars.amount", testContext())
	require.NoError(t, err)
	_, err = r.Run("vars.amount", testContext())
	require.NoError(t, err)
	assert.Len(t, r.cache, 1)
}
