package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// PipelineAdvancer 流水线推进抽象，便于注入 mock
type PipelineAdvancer interface {
	Advance(ctx context.Context, workflowID string) error
}

type PipelineHandler struct {
	engine PipelineAdvancer
	logger *zap.Logger
}

func NewPipelineHandler(engine PipelineAdvancer, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{
		engine: engine,
		logger: logger,
	}
}

func (h *PipelineHandler) HandleAdvancePipeline(ctx context.Context, t *asynq.Task) error {
	var p tasks.AdvancePipelinePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始推进流水线", zap.String("workflow_id", p.WorkflowID))

	if err := h.engine.Advance(ctx, p.WorkflowID); err != nil {
		h.logger.Error("流水线推进失败",
			zap.String("workflow_id", p.WorkflowID),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("流水线推进完成", zap.String("workflow_id", p.WorkflowID))
	return nil
}
