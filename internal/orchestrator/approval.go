package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"backend/internal/metrics"

	"go.uber.org/zap"
)

// 审批动作
const (
	ActionApprove = "approve"
	ActionModify  = "modify"
	ActionRetry   = "retry"
	ActionSkip    = "skip"
	ActionCancel  = "cancel"
)

var approvalOptions = []string{ActionApprove, ActionModify, ActionRetry, ActionSkip, ActionCancel}

// ApprovalContext 呈现给审批人的决策上下文快照
type ApprovalContext struct {
	WorkflowID        string                    `json:"workflow_id"`
	PhaseID           string                    `json:"phase_id"`
	PhaseName         string                    `json:"phase_name"`
	PhaseDescription  string                    `json:"phase_description,omitempty"`
	Result            map[string]any            `json:"result,omitempty"`
	Artifacts         []Artifact                `json:"artifacts,omitempty"`
	NextPhase         string                    `json:"next_phase,omitempty"`
	Options           []string                  `json:"options"`
	CompletedPhases   []string                  `json:"completed_phases,omitempty"`
	DependencyResults map[string]map[string]any `json:"dependency_results,omitempty"`
	EstimatedSeconds  int                       `json:"estimated_remaining_seconds"`
	RequestedAt       time.Time                 `json:"requested_at"`
}

// Decision 审批决定
type Decision struct {
	Action        string         `json:"action"`
	Modifications map[string]any `json:"modifications,omitempty"`
	Feedback      string         `json:"feedback,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
}

// ApprovalResult 审批处理结果
type ApprovalResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// gateRegistry 待审批门注册表，键为 workflowID/phaseID
type gateRegistry struct {
	mu    sync.RWMutex
	gates map[string]*ApprovalContext
}

func newGateRegistry() *gateRegistry {
	return &gateRegistry{gates: make(map[string]*ApprovalContext)}
}

func gateKey(workflowID, phaseID string) string {
	return workflowID + "/" + phaseID
}

func (r *gateRegistry) put(gc *ApprovalContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates[gateKey(gc.WorkflowID, gc.PhaseID)] = gc
}

func (r *gateRegistry) remove(workflowID, phaseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := gateKey(workflowID, phaseID)
	if _, ok := r.gates[key]; !ok {
		return false
	}
	delete(r.gates, key)
	return true
}

func (r *gateRegistry) list() []*ApprovalContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ApprovalContext, 0, len(r.gates))
	for _, gc := range r.gates {
		out = append(out, gc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// HandleApproval 处理审批决定
// 已知工作流与阶段的合法动作永不报错，未知 ID 是唯一失败路径。
// 无论何种动作，对应的审批门都会被移除，同一道门不会被处理两次。
func (e *Engine) HandleApproval(ctx context.Context, workflowID, phaseID string, decision *Decision) (*ApprovalResult, error) {
	entry, err := e.entry(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	wf := entry.wf

	p := wf.phase(phaseID)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotFound, phaseID)
	}

	// 先审计后变更，确保审计能反映决定本身
	details := map[string]any{"action": decision.Action}
	if decision.Feedback != "" {
		details["feedback"] = decision.Feedback
	}
	if len(decision.Modifications) > 0 {
		details["modifications"] = decision.Modifications
	}
	wf.appendAudit("approval_"+decision.Action, phaseID, decision.UserID, details)

	if e.gates.remove(workflowID, phaseID) {
		metrics.ApprovalPendingGauge.Dec()
	}
	metrics.ApprovalDecisionsTotal.WithLabelValues(decision.Action).Inc()
	e.logger.Info("收到审批决定",
		zap.String("workflowId", workflowID),
		zap.String("phaseId", phaseID),
		zap.String("action", decision.Action),
	)

	switch decision.Action {
	case ActionApprove:
		e.completePhase(wf, p)
		e.touchAndPersist(ctx, wf)
		e.advance(ctx, wf)
		return &ApprovalResult{Success: true, Message: fmt.Sprintf("阶段 %s 已通过审批", p.Name)}, nil

	case ActionModify:
		if p.Result == nil {
			p.Result = make(map[string]any)
		}
		for k, v := range decision.Modifications {
			p.Result[k] = v
		}
		e.completePhase(wf, p)
		e.touchAndPersist(ctx, wf)
		e.advance(ctx, wf)
		return &ApprovalResult{Success: true, Message: fmt.Sprintf("阶段 %s 已修正并通过", p.Name)}, nil

	case ActionRetry:
		// 人工重试重置计数，与失败重试额度互不占用
		p.Status = PhasePending
		p.Error = ""
		p.Result = nil
		p.RetryCount = 0
		p.StartTime = nil
		p.EndTime = nil
		e.touchAndPersist(ctx, wf)
		if stop := e.executePhase(ctx, wf, p); !stop {
			e.advance(ctx, wf)
		}
		return &ApprovalResult{Success: true, Message: fmt.Sprintf("阶段 %s 已重新执行", p.Name)}, nil

	case ActionSkip:
		now := time.Now().UTC()
		p.Status = PhaseSkipped
		p.EndTime = &now
		wf.recomputeProgress()
		e.touchAndPersist(ctx, wf)
		e.advance(ctx, wf)
		return &ApprovalResult{Success: true, Message: fmt.Sprintf("阶段 %s 已跳过", p.Name)}, nil

	case ActionCancel:
		now := time.Now().UTC()
		wf.Status = WorkflowCancelled
		wf.CompletedAt = &now
		e.touchAndPersist(ctx, wf)
		metrics.WorkflowsFinishedTotal.WithLabelValues(string(WorkflowCancelled)).Inc()
		return &ApprovalResult{Success: true, Message: "工作流已取消"}, nil

	default:
		return nil, fmt.Errorf("未知的审批动作: %s", decision.Action)
	}
}

// GetPendingApprovals 列出所有待审批门，按请求时间排序
func (e *Engine) GetPendingApprovals() []*ApprovalContext {
	return e.gates.list()
}

// buildApprovalContext 组装审批上下文快照
func (e *Engine) buildApprovalContext(wf *Workflow, p *Phase) *ApprovalContext {
	completed := wf.completedPhases()
	completedNames := make([]string, 0, len(completed))
	for _, cp := range completed {
		completedNames = append(completedNames, cp.Name)
	}

	depResults := make(map[string]map[string]any, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		if dp := wf.phase(dep); dp != nil && dp.Result != nil {
			depResults[dep] = cloneResult(dp.Result)
		}
	}

	return &ApprovalContext{
		WorkflowID:        wf.ID,
		PhaseID:           p.ID,
		PhaseName:         p.Name,
		PhaseDescription:  p.Description,
		Result:            cloneResult(p.Result),
		Artifacts:         wf.phaseArtifacts(p.ID),
		NextPhase:         nextPhaseNameAfter(wf, p),
		Options:           append([]string(nil), approvalOptions...),
		CompletedPhases:   completedNames,
		DependencyResults: depResults,
		EstimatedSeconds:  estimateRemaining(wf, p),
		RequestedAt:       time.Now().UTC(),
	}
}

// cloneResult 深拷贝阶段结果，审批门快照与后续的 modify 合并互不共享
func cloneResult(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var cp map[string]any
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	return cp
}

// nextPhaseNameAfter 假设 p 通过后，下一个就绪阶段的名称
func nextPhaseNameAfter(wf *Workflow, p *Phase) string {
	for _, candidate := range wf.Phases {
		if candidate.Status != PhasePending {
			continue
		}
		ready := true
		for _, dep := range candidate.Dependencies {
			if dep == p.ID {
				continue
			}
			depPhase := wf.phase(dep)
			if depPhase == nil || depPhase.Status != PhaseCompleted {
				ready = false
				break
			}
		}
		if ready {
			return candidate.Name
		}
	}
	return ""
}

// estimateRemaining 粗略估算剩余耗时
// 有已完成阶段时取其平均耗时，否则按每阶段两分钟估算
func estimateRemaining(wf *Workflow, current *Phase) int {
	remaining := 0
	for _, p := range wf.Phases {
		if p.ID != current.ID && !p.Settled() {
			remaining++
		}
	}
	if remaining == 0 {
		return 0
	}

	perPhase := 120.0
	var total float64
	counted := 0
	for _, p := range wf.Phases {
		if p.Status == PhaseCompleted && p.StartTime != nil && p.EndTime != nil {
			total += p.EndTime.Sub(*p.StartTime).Seconds()
			counted++
		}
	}
	if counted > 0 {
		perPhase = total / float64(counted)
	}
	return int(perPhase * float64(remaining))
}
