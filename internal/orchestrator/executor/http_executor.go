package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPExecutor 远程 Worker 阶段执行器
// 将阶段输入 POST 给远端 Worker，响应体为 Result JSON
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExecutor 创建远程执行器
func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Execute 实现 PhaseExecutor 接口
func (e *HTTPExecutor) Execute(ctx context.Context, phaseID string, input map[string]any) (*Result, error) {
	payload, err := json.Marshal(map[string]any{
		"phase_id": phaseID,
		"input":    input,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化阶段输入失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 Worker 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("Worker 返回 %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析 Worker 响应失败: %w", err)
	}
	return &result, nil
}
