package pipelines

import (
	"time"

	"backend/internal/orchestrator"
)

// StartPipelineRequest 启动流水线请求
type StartPipelineRequest struct {
	Requirements string         `json:"requirements" binding:"required"`
	Technology   string         `json:"technology"`
	OutputPath   string         `json:"output_path" binding:"required"`
	ProjectName  string         `json:"project_name"`
	ApprovalMode string         `json:"approval_mode"`
	TemplateID   string         `json:"template_id"`
	Config       map[string]any `json:"config"`
}

// ApprovalRequest 审批决定请求
type ApprovalRequest struct {
	Action        string         `json:"action" binding:"required"`
	Modifications map[string]any `json:"modifications"`
	Feedback      string         `json:"feedback"`
}

// PhaseView 阶段视图
type PhaseView struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	Agent      string                   `json:"agent"`
	Status     orchestrator.PhaseStatus `json:"status"`
	Error      string                   `json:"error,omitempty"`
	RetryCount int                      `json:"retry_count"`
	StartTime  *time.Time               `json:"start_time,omitempty"`
	EndTime    *time.Time               `json:"end_time,omitempty"`
}

// PipelineView 工作流状态视图
type PipelineView struct {
	ID           string                      `json:"id"`
	TemplateID   string                      `json:"template_id"`
	Technology   string                      `json:"technology"`
	Status       orchestrator.WorkflowStatus `json:"status"`
	ApprovalMode orchestrator.ApprovalMode   `json:"approval_mode"`
	CurrentPhase string                      `json:"current_phase,omitempty"`
	Error        string                      `json:"error,omitempty"`
	Progress     orchestrator.Progress       `json:"progress"`
	Phases       []PhaseView                 `json:"phases"`
	Artifacts    []orchestrator.Artifact     `json:"artifacts"`
	AuditLog     []orchestrator.AuditEntry   `json:"audit_log"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	CompletedAt  *time.Time                  `json:"completed_at,omitempty"`
}

func newPipelineView(wf *orchestrator.Workflow) PipelineView {
	phases := make([]PhaseView, 0, len(wf.Phases))
	for _, p := range wf.Phases {
		phases = append(phases, PhaseView{
			ID:         p.ID,
			Name:       p.Name,
			Agent:      p.Agent,
			Status:     p.Status,
			Error:      p.Error,
			RetryCount: p.RetryCount,
			StartTime:  p.StartTime,
			EndTime:    p.EndTime,
		})
	}
	return PipelineView{
		ID:           wf.ID,
		TemplateID:   wf.TemplateID,
		Technology:   wf.Technology,
		Status:       wf.Status,
		ApprovalMode: wf.ApprovalMode,
		CurrentPhase: wf.CurrentPhase,
		Error:        wf.Error,
		Progress:     wf.Progress,
		Phases:       phases,
		Artifacts:    wf.Artifacts,
		AuditLog:     wf.AuditLog,
		CreatedAt:    wf.CreatedAt,
		UpdatedAt:    wf.UpdatedAt,
		CompletedAt:  wf.CompletedAt,
	}
}
