package executor

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// 各执行方法的 System Prompt
var methodPrompts = map[string]string{
	"write_specification": "你是资深架构师，请根据需求编写完整的 API 规格说明（OpenAPI YAML）。",
	"generate_code":       "你是资深工程师，请根据规格说明生成目标技术栈的项目代码。",
	"review_code":         "你是代码评审专家，请审查给定代码并输出评审报告（Markdown）。",
	"write_documentation": "你是技术文档工程师，请为项目编写使用文档。",
}

// OpenAIExecutor 基于 LLM 的阶段执行器
// 将阶段输入组装为对话请求，交给模型完成规格编写、代码评审等工作
type OpenAIExecutor struct {
	client *openai.Client
	model  string
}

// NewOpenAIExecutor 创建 LLM 执行器
func NewOpenAIExecutor(apiKey, baseURL, model string) (*OpenAIExecutor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API Key 不能为空")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIExecutor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Execute 实现 PhaseExecutor 接口
func (e *OpenAIExecutor) Execute(ctx context.Context, phaseID string, input map[string]any) (*Result, error) {
	method, _ := input["method"].(string)
	system := methodPrompts[method]
	if system == "" {
		system = "你是软件交付流水线中的执行代理，请完成指定阶段的工作。"
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(phaseID, input)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("调用模型失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Result{Success: false, Error: "模型未返回内容"}, nil
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"content": resp.Choices[0].Message.Content,
			"model":   resp.Model,
			"usage": map[string]any{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
			},
		},
	}, nil
}

// buildUserPrompt 将阶段输入拼装为用户消息
func buildUserPrompt(phaseID string, input map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "阶段: %s\n", phaseID)
	if v, ok := input["requirements"].(string); ok && v != "" {
		fmt.Fprintf(&b, "需求:\n%s\n", v)
	}
	if v, ok := input["technology"].(string); ok && v != "" {
		fmt.Fprintf(&b, "技术栈: %s\n", v)
	}
	if deps, ok := input["dependencies"].(map[string]any); ok && len(deps) > 0 {
		b.WriteString("上游阶段输出:\n")
		for id, result := range deps {
			if m, ok := result.(map[string]any); ok {
				if content, ok := m["content"].(string); ok {
					fmt.Fprintf(&b, "--- %s ---\n%s\n", id, content)
					continue
				}
			}
			fmt.Fprintf(&b, "--- %s ---\n%v\n", id, result)
		}
	}
	return b.String()
}
