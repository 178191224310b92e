package orchestrator

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// evaluateAutoApprove 对阶段结果求值自动审批表达式
// 表达式变量直接取自阶段结果字段，必须返回布尔值
func evaluateAutoApprove(expr string, result map[string]any) (bool, error) {
	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, fmt.Errorf("解析自动审批表达式失败: %w", err)
	}

	params := make(map[string]any, len(result))
	for k, v := range result {
		params[k] = v
	}

	val, err := expression.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("求值自动审批表达式失败: %w", err)
	}

	matched, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("自动审批表达式必须返回布尔值, 实际为 %T", val)
	}
	return matched, nil
}
