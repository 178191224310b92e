package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus 工作流状态
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal 是否为终态（completed、failed、cancelled）
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// PhaseStatus 阶段状态
type PhaseStatus string

const (
	PhasePending         PhaseStatus = "pending"
	PhaseRunning         PhaseStatus = "running"
	PhaseCompleted       PhaseStatus = "completed"
	PhaseFailed          PhaseStatus = "failed"
	PhaseWaitingApproval PhaseStatus = "waiting_approval"
	PhaseSkipped         PhaseStatus = "skipped"
)

// ApprovalMode 审批模式
type ApprovalMode string

const (
	ApprovalInteractive ApprovalMode = "interactive"
	ApprovalAuto        ApprovalMode = "auto_approve"
	ApprovalBatch       ApprovalMode = "batch"
)

// ArtifactType 产物类型
type ArtifactType string

const (
	ArtifactFile          ArtifactType = "file"
	ArtifactSpecification ArtifactType = "specification"
	ArtifactReport        ArtifactType = "report"
	ArtifactConfiguration ArtifactType = "configuration"
)

// Progress 工作流进度
// 在阶段进入 completed 或 skipped 后重新计算
type Progress struct {
	TotalPhases     int     `json:"total_phases"`
	CompletedPhases int     `json:"completed_phases"`
	Percentage      float64 `json:"percentage"`
}

// Artifact 阶段产物记录（不可变）
type Artifact struct {
	ID        string         `json:"id"`
	Type      ArtifactType   `json:"type"`
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	PhaseID   string         `json:"phase_id"`
	Size      int64          `json:"size"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditEntry 审计日志条目（只追加，不删除不改写）
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	PhaseID   string         `json:"phase_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Phase 工作流阶段实例
// 身份与配置在创建时从 PhaseTemplate 拷贝，此后仅可变字段发生变化
type Phase struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Agent            string         `json:"agent"`
	Method           string         `json:"method"`
	Dependencies     []string       `json:"dependencies,omitempty"`
	ApprovalRequired bool           `json:"approval_required"`
	AutoApprove      string         `json:"auto_approve,omitempty"`
	Condition        string         `json:"condition,omitempty"`
	TimeoutSeconds   int            `json:"timeout_seconds,omitempty"`
	MaxRetries       int            `json:"max_retries"`
	DefaultParams    map[string]any `json:"default_params,omitempty"`

	Status     PhaseStatus    `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`
	StartTime  *time.Time     `json:"start_time,omitempty"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
}

// Settled 阶段是否已结算（completed 或 skipped）
func (p *Phase) Settled() bool {
	return p.Status == PhaseCompleted || p.Status == PhaseSkipped
}

// Workflow 工作流聚合根，生命周期内由引擎独占持有
type Workflow struct {
	ID           string         `json:"id"`
	TemplateID   string         `json:"template_id"`
	Technology   string         `json:"technology"`
	Requirements string         `json:"requirements"`
	OutputPath   string         `json:"output_path"`
	ProjectName  string         `json:"project_name,omitempty"`
	ApprovalMode ApprovalMode   `json:"approval_mode"`
	Status       WorkflowStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	CurrentPhase string         `json:"current_phase,omitempty"`
	Phases       []*Phase       `json:"phases"`
	Progress     Progress       `json:"progress"`
	Artifacts    []Artifact     `json:"artifacts"`
	AuditLog     []AuditEntry   `json:"audit_log"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// phase 按 ID 查找阶段
func (w *Workflow) phase(phaseID string) *Phase {
	for _, p := range w.Phases {
		if p.ID == phaseID {
			return p
		}
	}
	return nil
}

// appendAudit 追加审计条目
func (w *Workflow) appendAudit(action, phaseID, userID string, details map[string]any) {
	w.AuditLog = append(w.AuditLog, AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		PhaseID:   phaseID,
		UserID:    userID,
		Details:   details,
	})
}

// recomputeProgress 重新计算进度
func (w *Workflow) recomputeProgress() {
	settled := 0
	for _, p := range w.Phases {
		if p.Settled() {
			settled++
		}
	}
	w.Progress.TotalPhases = len(w.Phases)
	w.Progress.CompletedPhases = settled
	if len(w.Phases) > 0 {
		w.Progress.Percentage = float64(settled) / float64(len(w.Phases)) * 100
	}
}

// hasActivePhase 是否存在 running 或 waiting_approval 的阶段
// 不变量: 任意时刻每个工作流至多一个活跃阶段
func (w *Workflow) hasActivePhase() bool {
	for _, p := range w.Phases {
		if p.Status == PhaseRunning || p.Status == PhaseWaitingApproval {
			return true
		}
	}
	return false
}

// allSettled 是否所有阶段都已结算
func (w *Workflow) allSettled() bool {
	for _, p := range w.Phases {
		if !p.Settled() {
			return false
		}
	}
	return true
}

// dependenciesSatisfied 阶段依赖是否全部 completed
// skipped 不满足依赖（与现有行为保持一致，见 HandleApproval 的 skip 说明）
func (w *Workflow) dependenciesSatisfied(p *Phase) bool {
	for _, dep := range p.Dependencies {
		depPhase := w.phase(dep)
		if depPhase == nil || depPhase.Status != PhaseCompleted {
			return false
		}
	}
	return true
}

// completedPhases 已完成阶段列表（按模板顺序）
func (w *Workflow) completedPhases() []*Phase {
	var out []*Phase
	for _, p := range w.Phases {
		if p.Status == PhaseCompleted {
			out = append(out, p)
		}
	}
	return out
}

// phaseArtifacts 指定阶段产出的产物
func (w *Workflow) phaseArtifacts(phaseID string) []Artifact {
	var out []Artifact
	for _, a := range w.Artifacts {
		if a.PhaseID == phaseID {
			out = append(out, a)
		}
	}
	return out
}
