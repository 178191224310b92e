package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend/internal/metrics"
	"backend/internal/orchestrator/executor"
	"backend/internal/orchestrator/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 默认固定重试延迟（不做指数退避）
const defaultRetryDelay = 5 * time.Second

// AdvanceScheduler 延迟推进调度接口
// 由队列实现（asynq），用于把重试等待从进程内搬到延迟任务
type AdvanceScheduler interface {
	ScheduleAdvance(workflowID string, delay time.Duration) error
}

// Engine 工作流编排引擎
// 从模板实例化工作流、按依赖驱动阶段执行、管理重试与审批门、每次变更后持久化
type Engine struct {
	templates *TemplateRegistry
	store     store.Store
	executors *executor.Registry
	logger    *zap.Logger

	retryDelay time.Duration
	scheduler  AdvanceScheduler

	mu        sync.Mutex
	workflows map[string]*workflowEntry
	gates     *gateRegistry
}

// workflowEntry 内存索引条目
// 每个工作流一把互斥锁，推进与审批对同一工作流串行化
type workflowEntry struct {
	mu sync.Mutex
	wf *Workflow
}

// Option 自定义引擎配置
type Option func(*Engine)

// WithLogger 注入日志器
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRetryDelay 配置固定重试延迟
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.retryDelay = d
		}
	}
}

// WithScheduler 注入延迟推进调度器（队列模式）
func WithScheduler(s AdvanceScheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// NewEngine 创建引擎
// 模板注册表、存储、执行器注册表显式注入，不依赖任何包级单例
func NewEngine(templates *TemplateRegistry, st store.Store, executors *executor.Registry, opts ...Option) *Engine {
	e := &Engine{
		templates:  templates,
		store:      st,
		executors:  executors,
		logger:     zap.NewNop(),
		retryDelay: defaultRetryDelay,
		workflows:  make(map[string]*workflowEntry),
		gates:      newGateRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// StartRequest 启动工作流请求
type StartRequest struct {
	Requirements string         `json:"requirements"`
	Technology   string         `json:"technology"`
	OutputPath   string         `json:"output_path"`
	ProjectName  string         `json:"project_name,omitempty"`
	ApprovalMode ApprovalMode   `json:"approval_mode,omitempty"`
	TemplateID   string         `json:"template_id,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
}

// StartWorkflow 启动工作流
// 解析模板、实例化阶段、落库并立即推进一次。模板不存在时不创建任何记录。
func (e *Engine) StartWorkflow(ctx context.Context, req *StartRequest) (*Workflow, error) {
	tmpl, err := e.resolveTemplate(req)
	if err != nil {
		return nil, err
	}

	mode := req.ApprovalMode
	if mode == "" {
		mode = ApprovalInteractive
	}

	now := time.Now().UTC()
	wf := &Workflow{
		ID:           uuid.New().String(),
		TemplateID:   tmpl.ID,
		Technology:   tmpl.Technology,
		Requirements: req.Requirements,
		OutputPath:   req.OutputPath,
		ProjectName:  req.ProjectName,
		ApprovalMode: mode,
		Status:       WorkflowRunning,
		Config:       mergeConfig(tmpl.DefaultConfig, req.Config),
		Phases:       materializePhases(tmpl),
		CreatedAt:    now,
		UpdatedAt:    now,
		StartedAt:    &now,
	}
	if len(wf.Phases) > 0 {
		wf.CurrentPhase = wf.Phases[0].ID
	}
	wf.recomputeProgress()
	wf.appendAudit("workflow_started", "", req.UserID, map[string]any{
		"template_id": tmpl.ID,
		"technology":  tmpl.Technology,
	})

	entry := &workflowEntry{wf: wf}
	e.mu.Lock()
	e.workflows[wf.ID] = entry
	metrics.WorkflowsActive.Set(float64(len(e.workflows)))
	e.mu.Unlock()

	e.touchAndPersist(ctx, wf)
	metrics.WorkflowsStartedTotal.WithLabelValues(tmpl.Technology, tmpl.ID).Inc()
	e.logger.Info("工作流已启动",
		zap.String("workflowId", wf.ID),
		zap.String("templateId", tmpl.ID),
		zap.String("technology", tmpl.Technology),
	)

	entry.mu.Lock()
	e.advance(ctx, wf)
	snap, err := cloneWorkflow(wf)
	entry.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Advance 推进指定工作流（Worker 回调入口）
func (e *Engine) Advance(ctx context.Context, workflowID string) error {
	entry, err := e.entry(ctx, workflowID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	e.advance(ctx, entry.wf)
	return nil
}

// GetWorkflowStatus 查询工作流状态
// 内存索引命中直接读取，否则尝试从存储加载并重新登记
// 返回的是持锁快照，读取方与驱动循环不共享可变结构
func (e *Engine) GetWorkflowStatus(ctx context.Context, workflowID string) (*Workflow, error) {
	entry, err := e.entry(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneWorkflow(entry.wf)
}

// cloneWorkflow 深拷贝工作流聚合，调用方必须持有对应条目锁
func cloneWorkflow(wf *Workflow) (*Workflow, error) {
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("序列化工作流失败: %w", err)
	}
	var cp Workflow
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("解析工作流失败: %w", err)
	}
	return &cp, nil
}

// GetWorkflowTemplates 列出可用模板
func (e *Engine) GetWorkflowTemplates() []*WorkflowTemplate {
	return e.templates.List()
}

// resolveTemplate 解析模板: 显式 templateId 优先，否则取技术栈默认模板
func (e *Engine) resolveTemplate(req *StartRequest) (*WorkflowTemplate, error) {
	if req.TemplateID != "" {
		return e.templates.Get(req.TemplateID)
	}
	return e.templates.GetByTechnology(req.Technology)
}

// entry 获取内存条目，未命中则从存储恢复
func (e *Engine) entry(ctx context.Context, workflowID string) (*workflowEntry, error) {
	e.mu.Lock()
	entry, ok := e.workflows[workflowID]
	e.mu.Unlock()
	if ok {
		return entry, nil
	}

	data, err := e.store.Load(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("加载工作流失败: %w", err)
	}

	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("解析工作流失败: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.workflows[workflowID]; ok {
		return existing, nil
	}
	entry = &workflowEntry{wf: &wf}
	e.workflows[workflowID] = entry
	metrics.WorkflowsActive.Set(float64(len(e.workflows)))
	return entry, nil
}

// advance 驱动循环: 反复选出下一个就绪阶段并执行
// 调用方必须持有该工作流的条目锁
func (e *Engine) advance(ctx context.Context, wf *Workflow) {
	for wf.Status == WorkflowRunning {
		next := e.nextEligible(wf)
		if next == nil {
			// 没有就绪阶段且没有活跃阶段时检查收尾
			// 存在被 skip 阻断的下游阶段时工作流停留在 running（已知行为）
			if !wf.hasActivePhase() && wf.allSettled() {
				e.completeWorkflow(ctx, wf)
			}
			return
		}
		if stop := e.executePhase(ctx, wf, next); stop {
			return
		}
	}
}

// nextEligible 按模板顺序选出第一个依赖全部 completed 的 pending 阶段
func (e *Engine) nextEligible(wf *Workflow) *Phase {
	for _, p := range wf.Phases {
		if p.Status == PhasePending && wf.dependenciesSatisfied(p) {
			return p
		}
	}
	return nil
}

// executePhase 执行单个阶段
// 返回 true 表示驱动循环应当停止（等待审批、等待延迟重试或工作流终止）
func (e *Engine) executePhase(ctx context.Context, wf *Workflow, p *Phase) bool {
	now := time.Now().UTC()
	p.Status = PhaseRunning
	p.StartTime = &now
	p.EndTime = nil
	wf.CurrentPhase = p.ID
	wf.appendAudit("phase_started", p.ID, "", map[string]any{"attempt": p.RetryCount + 1})
	e.touchAndPersist(ctx, wf)

	res, err := e.invokeExecutor(ctx, wf, p)
	if err != nil {
		return e.failPhase(ctx, wf, p, err.Error())
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "执行器返回失败"
		}
		return e.failPhase(ctx, wf, p, msg)
	}

	p.Result = res.Data
	e.collectArtifacts(wf, p, res.Data)
	metrics.PhaseExecutionsTotal.WithLabelValues(p.Agent, "success").Inc()

	if p.ApprovalRequired && wf.ApprovalMode == ApprovalInteractive {
		p.Status = PhaseWaitingApproval
		wf.appendAudit("approval_requested", p.ID, "", nil)
		e.gates.put(e.buildApprovalContext(wf, p))
		metrics.ApprovalPendingGauge.Inc()
		e.touchAndPersist(ctx, wf)
		e.logger.Info("阶段等待人工审批",
			zap.String("workflowId", wf.ID),
			zap.String("phaseId", p.ID),
		)
		return true
	}

	if p.ApprovalRequired && wf.ApprovalMode == ApprovalBatch && p.AutoApprove != "" {
		// 批量模式下规则结果只进审计，不改变完成语义
		matched, ruleErr := evaluateAutoApprove(p.AutoApprove, p.Result)
		details := map[string]any{"expression": p.AutoApprove, "matched": matched}
		if ruleErr != nil {
			details["error"] = ruleErr.Error()
		}
		wf.appendAudit("approval_auto", p.ID, "", details)
	}

	e.completePhase(wf, p)
	e.touchAndPersist(ctx, wf)
	return false
}

// invokeExecutor 解析执行器并调用，模板声明了超时则对调用设置 deadline
func (e *Engine) invokeExecutor(ctx context.Context, wf *Workflow, p *Phase) (*executor.Result, error) {
	exec, err := e.executors.Resolve(p.Agent, p.Method)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if p.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	res, err := exec.Execute(callCtx, p.ID, e.buildPhaseInput(wf, p))
	metrics.PhaseExecutionDuration.WithLabelValues(p.Agent).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("执行器未返回结果")
	}
	return res, nil
}

// failPhase 阶段失败处理: 还有重试额度则回退 pending 并等待固定延迟，否则整个工作流失败
func (e *Engine) failPhase(ctx context.Context, wf *Workflow, p *Phase, msg string) bool {
	now := time.Now().UTC()
	p.Status = PhaseFailed
	p.Error = msg
	p.EndTime = &now
	wf.appendAudit("phase_failed", p.ID, "", map[string]any{"error": msg, "attempt": p.RetryCount + 1})
	metrics.PhaseExecutionsTotal.WithLabelValues(p.Agent, "failed").Inc()

	if p.RetryCount < p.MaxRetries {
		p.RetryCount++
		p.Status = PhasePending
		p.StartTime = nil
		p.EndTime = nil
		metrics.PhaseRetriesTotal.WithLabelValues(p.Agent).Inc()
		e.touchAndPersist(ctx, wf)
		e.logger.Warn("阶段失败，准备重试",
			zap.String("workflowId", wf.ID),
			zap.String("phaseId", p.ID),
			zap.Int("retryCount", p.RetryCount),
			zap.String("error", msg),
		)

		if e.scheduler != nil {
			if err := e.scheduler.ScheduleAdvance(wf.ID, e.retryDelay); err == nil {
				return true
			}
			// 投递失败时回退为就地等待
		}
		select {
		case <-time.After(e.retryDelay):
			return false
		case <-ctx.Done():
			return true
		}
	}

	wf.Status = WorkflowFailed
	wf.Error = fmt.Sprintf("Phase %s failed: %s", p.Name, msg)
	wf.CompletedAt = &now
	wf.appendAudit("workflow_failed", p.ID, "", map[string]any{"error": msg})
	e.touchAndPersist(ctx, wf)
	metrics.WorkflowsFinishedTotal.WithLabelValues(string(WorkflowFailed)).Inc()
	e.logger.Error("工作流失败",
		zap.String("workflowId", wf.ID),
		zap.String("phaseId", p.ID),
		zap.String("error", msg),
	)
	return true
}

// completePhase 标记阶段完成并刷新进度
func (e *Engine) completePhase(wf *Workflow, p *Phase) {
	now := time.Now().UTC()
	p.Status = PhaseCompleted
	p.EndTime = &now
	wf.recomputeProgress()
	wf.appendAudit("phase_completed", p.ID, "", nil)
}

// completeWorkflow 所有阶段结算后收尾
func (e *Engine) completeWorkflow(ctx context.Context, wf *Workflow) {
	now := time.Now().UTC()
	wf.Status = WorkflowCompleted
	wf.CurrentPhase = ""
	wf.CompletedAt = &now
	wf.appendAudit("workflow_completed", "", "", nil)
	e.touchAndPersist(ctx, wf)
	metrics.WorkflowsFinishedTotal.WithLabelValues(string(WorkflowCompleted)).Inc()
	e.logger.Info("工作流完成", zap.String("workflowId", wf.ID))
}

// touchAndPersist 刷新 updatedAt 并整体落库
// 持久化失败只记录日志与指标，不回滚内存状态
func (e *Engine) touchAndPersist(ctx context.Context, wf *Workflow) {
	wf.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(wf)
	if err != nil {
		e.logger.Error("序列化工作流失败", zap.String("workflowId", wf.ID), zap.Error(err))
		metrics.PersistFailuresTotal.Inc()
		return
	}
	if err := e.store.Save(ctx, wf.ID, data); err != nil {
		e.logger.Warn("持久化工作流失败", zap.String("workflowId", wf.ID), zap.Error(err))
		metrics.PersistFailuresTotal.Inc()
	}
}

// materializePhases 从模板实例化阶段
func materializePhases(tmpl *WorkflowTemplate) []*Phase {
	phases := make([]*Phase, 0, len(tmpl.Phases))
	for _, pt := range tmpl.Phases {
		phases = append(phases, &Phase{
			ID:               pt.ID,
			Name:             pt.Name,
			Description:      pt.Description,
			Agent:            pt.Agent,
			Method:           pt.Method,
			Dependencies:     append([]string(nil), pt.Dependencies...),
			ApprovalRequired: pt.ApprovalRequired,
			AutoApprove:      pt.AutoApprove,
			Condition:        pt.Condition,
			TimeoutSeconds:   pt.TimeoutSeconds,
			MaxRetries:       pt.RetryCount,
			DefaultParams:    pt.DefaultParams,
			Status:           PhasePending,
		})
	}
	return phases
}

// mergeConfig 模板默认配置与调用方覆盖合并，调用方优先
func mergeConfig(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
