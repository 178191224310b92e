package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdvancer struct {
	calls []string
	err   error
}

func (f *fakeAdvancer) Advance(ctx context.Context, workflowID string) error {
	f.calls = append(f.calls, workflowID)
	return f.err
}

func advanceTask(t *testing.T, workflowID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.AdvancePipelinePayload{WorkflowID: workflowID})
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeAdvancePipeline, payload)
}

func TestHandleAdvancePipeline(t *testing.T) {
	advancer := &fakeAdvancer{}
	h := NewPipelineHandler(advancer, zap.NewNop())

	err := h.HandleAdvancePipeline(context.Background(), advanceTask(t, "wf-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-1"}, advancer.calls)
}

func TestHandleAdvancePipelineEngineError(t *testing.T) {
	advancer := &fakeAdvancer{err: errors.New("推进失败")}
	h := NewPipelineHandler(advancer, zap.NewNop())

	err := h.HandleAdvancePipeline(context.Background(), advanceTask(t, "wf-2"))
	assert.Error(t, err)
}

func TestHandleAdvancePipelineBadPayload(t *testing.T) {
	h := NewPipelineHandler(&fakeAdvancer{}, zap.NewNop())

	err := h.HandleAdvancePipeline(context.Background(), asynq.NewTask(tasks.TypeAdvancePipeline, []byte("{{")))
	assert.Error(t, err)
}
