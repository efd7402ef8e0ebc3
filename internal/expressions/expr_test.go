package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBoolStatusGuard(t *testing.T) {
	e := NewExprEngine()
	guard := `status not in ["CLOSED", "ERROR"]`

	cases := []struct {
		status string
		want   bool
	}{
		{"COLLECTING", true},
		{"WAITING_REPLY", true},
		{"FOLLOW_UP", true},
		{"CLOSED", false},
		{"ERROR", false},
	}
	for _, tc := range cases {
		got, err := e.EvaluateBool(guard, map[string]any{"status": tc.status})
		require.NoError(t, err, tc.status)
		assert.Equal(t, tc.want, got, tc.status)
	}
}

func TestEvaluateEmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate("", nil)
	assert.Error(t, err)
}

func TestEvaluateCompileError(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate("status not in", map[string]any{"status": "X"})
	assert.Error(t, err)
}

func TestEvaluateBoolNonBoolean(t *testing.T) {
	e := NewExprEngine()
	_, err := e.EvaluateBool(`1 + 1`, nil)
	assert.Error(t, err)
}

func TestEvaluateUndefinedVariableAllowed(t *testing.T) {
	e := NewExprEngine()
	got, err := e.EvaluateBool(`missing == nil`, map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestProgramCacheReuse(t *testing.T) {
	e := NewExprEngine()
	guard := `status == "COLLECTING"`

	got, err := e.EvaluateBool(guard, map[string]any{"status": "COLLECTING"})
	require.NoError(t, err)
	assert.True(t, got)

	// Second evaluation hits the cache with different data.
	got, err = e.EvaluateBool(guard, map[string]any{"status": "CLOSED"})
	require.NoError(t, err)
	assert.False(t, got)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
