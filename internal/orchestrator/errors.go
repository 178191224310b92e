package orchestrator

import "errors"

// 未找到类错误: 直接拒绝调用方操作，不重试、不改变工作流状态
var (
	ErrTemplateNotFound = errors.New("工作流模板不存在")
	ErrWorkflowNotFound = errors.New("工作流不存在")
	ErrPhaseNotFound    = errors.New("阶段不存在")
)
