package orchestrator

import (
	"fmt"
	"sync"
)

// PhaseTemplate 阶段模板（不可变）
// Agent + Method 标识该阶段委托给哪个执行能力
type PhaseTemplate struct {
	ID               string         `yaml:"id" json:"id"`
	Name             string         `yaml:"name" json:"name"`
	Description      string         `yaml:"description" json:"description,omitempty"`
	Agent            string         `yaml:"agent" json:"agent"`
	Method           string         `yaml:"method" json:"method"`
	Dependencies     []string       `yaml:"dependencies" json:"dependencies,omitempty"`
	ApprovalRequired bool           `yaml:"approval_required" json:"approval_required"`
	AutoApprove      string         `yaml:"auto_approve" json:"auto_approve,omitempty"`
	Condition        string         `yaml:"condition" json:"condition,omitempty"`
	TimeoutSeconds   int            `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	RetryCount       int            `yaml:"retry_count" json:"retry_count"`
	DefaultParams    map[string]any `yaml:"default_params" json:"default_params,omitempty"`
}

// WorkflowTemplate 工作流模板（不可变蓝图）
// 阶段依赖图必须无环，由模板作者保证，注册时不做环检测
type WorkflowTemplate struct {
	ID            string          `yaml:"id" json:"id"`
	Name          string          `yaml:"name" json:"name"`
	Description   string          `yaml:"description" json:"description,omitempty"`
	Technology    string          `yaml:"technology" json:"technology"`
	Phases        []PhaseTemplate `yaml:"phases" json:"phases"`
	DefaultConfig map[string]any  `yaml:"default_config" json:"default_config,omitempty"`
}

// TemplateRegistry 模板注册表
// 进程启动时静态注册，之后只读
type TemplateRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*WorkflowTemplate
	byTech map[string]*WorkflowTemplate
}

// NewTemplateRegistry 创建模板注册表
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		byID:   make(map[string]*WorkflowTemplate),
		byTech: make(map[string]*WorkflowTemplate),
	}
}

// Register 注册模板
// 每个技术栈取第一个注册的模板作为默认模板
func (r *TemplateRegistry) Register(t *WorkflowTemplate) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("模板缺少 ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[t.ID]; ok {
		return fmt.Errorf("模板 ID 重复: %s", t.ID)
	}
	r.byID[t.ID] = t
	if t.Technology != "" {
		if _, ok := r.byTech[t.Technology]; !ok {
			r.byTech[t.Technology] = t
		}
	}
	return nil
}

// Get 按 ID 查询模板
func (r *TemplateRegistry) Get(id string) (*WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t, nil
}

// GetByTechnology 按技术栈查询默认模板
func (r *TemplateRegistry) GetByTechnology(tech string) (*WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byTech[tech]
	if !ok {
		return nil, fmt.Errorf("%w: technology=%s", ErrTemplateNotFound, tech)
	}
	return t, nil
}

// List 列出所有模板
func (r *TemplateRegistry) List() []*WorkflowTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*WorkflowTemplate, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out
}
