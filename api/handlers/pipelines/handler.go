package pipelines

import (
	"errors"
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// Handler 流水线编排 Handler
type Handler struct {
	engine *orchestrator.Engine
}

// NewHandler 创建流水线 Handler
func NewHandler(engine *orchestrator.Engine) *Handler {
	return &Handler{engine: engine}
}

// StartPipeline 启动流水线
// POST /api/pipelines
func (h *Handler) StartPipeline(c *gin.Context) {
	var req StartPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	wf, err := h.engine.StartWorkflow(c.Request.Context(), &orchestrator.StartRequest{
		Requirements: req.Requirements,
		Technology:   req.Technology,
		OutputPath:   req.OutputPath,
		ProjectName:  req.ProjectName,
		ApprovalMode: orchestrator.ApprovalMode(req.ApprovalMode),
		TemplateID:   req.TemplateID,
		Config:       req.Config,
		UserID:       c.GetString("user_id"),
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Code: "template_not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: newPipelineView(wf)})
}

// GetPipeline 查询流水线状态
// GET /api/pipelines/:id
func (h *Handler) GetPipeline(c *gin.Context) {
	wf, err := h.engine.GetWorkflowStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Code: "workflow_not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: newPipelineView(wf)})
}

// HandleApproval 提交审批决定
// POST /api/pipelines/:id/phases/:phaseId/approval
func (h *Handler) HandleApproval(c *gin.Context) {
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	result, err := h.engine.HandleApproval(c.Request.Context(), c.Param("id"), c.Param("phaseId"), &orchestrator.Decision{
		Action:        req.Action,
		Modifications: req.Modifications,
		Feedback:      req.Feedback,
		UserID:        c.GetString("user_id"),
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrWorkflowNotFound):
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Code: "workflow_not_found", Message: err.Error()})
		case errors.Is(err, orchestrator.ErrPhaseNotFound):
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Code: "phase_not_found", Message: err.Error()})
		default:
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{Success: result.Success, Message: result.Message})
}

// ListPendingApprovals 列出待审批门
// GET /api/approvals
func (h *Handler) ListPendingApprovals(c *gin.Context) {
	pending := h.engine.GetPendingApprovals()
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{
		"approvals": pending,
		"count":     len(pending),
	}})
}

// ListTemplates 列出流水线模板
// GET /api/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	templates := h.engine.GetWorkflowTemplates()
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{
		"templates": templates,
		"count":     len(templates),
	}})
}
