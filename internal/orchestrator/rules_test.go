package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAutoApprove(t *testing.T) {
	t.Run("命中规则", func(t *testing.T) {
		matched, err := evaluateAutoApprove("score >= 80", map[string]any{"score": 95})
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("未命中规则", func(t *testing.T) {
		matched, err := evaluateAutoApprove("score >= 80 && issues == 0", map[string]any{
			"score":  90,
			"issues": 3,
		})
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("非法表达式", func(t *testing.T) {
		_, err := evaluateAutoApprove("score >>= 80", map[string]any{"score": 95})
		assert.Error(t, err)
	})

	t.Run("非布尔结果", func(t *testing.T) {
		_, err := evaluateAutoApprove("score + 1", map[string]any{"score": 95})
		assert.Error(t, err)
	})

	t.Run("缺失变量", func(t *testing.T) {
		_, err := evaluateAutoApprove("score >= 80", map[string]any{})
		assert.Error(t, err)
	})
}
