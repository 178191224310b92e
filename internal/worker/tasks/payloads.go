package tasks

// Task Types
const (
	TypeAdvancePipeline = "pipeline:advance"
)

// AdvancePipelinePayload 流水线推进任务载荷
// 阶段失败重试通过延迟投递该任务实现
type AdvancePipelinePayload struct {
	WorkflowID string `json:"workflow_id"`
}
