package executor

import (
	"context"
	"fmt"
	"sync"
)

// Result 阶段执行结果
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// PhaseExecutor 阶段执行能力接口
// 引擎不解释 Data 的内容，仅扫描其中的 files 列表用于产物登记
type PhaseExecutor interface {
	Execute(ctx context.Context, phaseID string, input map[string]any) (*Result, error)
}

// Registry 执行器注册表
// 将模板里的 (agent, method) 能力标识映射到具体实现
type Registry struct {
	mu        sync.RWMutex
	executors map[string]PhaseExecutor
}

// NewRegistry 创建执行器注册表
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]PhaseExecutor),
	}
}

// Register 注册执行器
// method 为空表示该 agent 的兜底实现
func (r *Registry) Register(agent, method string, exec PhaseExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[capabilityKey(agent, method)] = exec
}

// Resolve 解析执行器
// 优先精确匹配 (agent, method)，其次回退到 agent 级兜底实现
func (r *Registry) Resolve(agent, method string) (PhaseExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if exec, ok := r.executors[capabilityKey(agent, method)]; ok {
		return exec, nil
	}
	if exec, ok := r.executors[capabilityKey(agent, "")]; ok {
		return exec, nil
	}
	return nil, fmt.Errorf("未注册的执行能力: %s.%s", agent, method)
}

func capabilityKey(agent, method string) string {
	if method == "" {
		return agent
	}
	return agent + "." + method
}

// Func 函数式执行器适配
type Func func(ctx context.Context, phaseID string, input map[string]any) (*Result, error)

// Execute 实现 PhaseExecutor 接口
func (f Func) Execute(ctx context.Context, phaseID string, input map[string]any) (*Result, error) {
	return f(ctx, phaseID, input)
}
