package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	// ScheduleAdvance 延迟投递流水线推进任务，delay 为 0 时立即执行
	ScheduleAdvance(workflowID string, delay time.Duration) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) ScheduleAdvance(workflowID string, delay time.Duration) error {
	payload, err := json.Marshal(tasks.AdvancePipelinePayload{WorkflowID: workflowID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeAdvancePipeline, payload)

	// 引擎内部管理阶段重试，队列层不再重试
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(30 * time.Minute),
		asynq.Queue("pipeline"),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	if _, err := c.client.Enqueue(task, opts...); err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
