package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"backend/internal/orchestrator/executor"
	"backend/internal/orchestrator/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore 进程内存储，用于测试持久化行为
type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) Save(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[id] = cp
	return nil
}

func (s *mapStore) Load(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

// failingStore 总是保存失败，用于验证持久化失败不影响执行
type failingStore struct{}

func (failingStore) Save(ctx context.Context, id string, data []byte) error {
	return errors.New("存储不可用")
}

func (failingStore) Load(ctx context.Context, id string) ([]byte, error) {
	return nil, store.ErrNotFound
}

func pipelineTemplate() *WorkflowTemplate {
	return &WorkflowTemplate{
		ID:         "go-api",
		Name:       "Go API 流水线",
		Technology: "go",
		Phases: []PhaseTemplate{
			{ID: "spec", Name: "规格说明", Agent: "spec-agent", Method: "write_specification"},
			{ID: "codegen", Name: "代码生成", Agent: "codegen-agent", Method: "generate_code", Dependencies: []string{"spec"}},
			{ID: "review", Name: "代码审查", Agent: "review-agent", Method: "review_code", Dependencies: []string{"codegen"}},
			{ID: "compile", Name: "编译验证", Agent: "build-agent", Method: "compile", Dependencies: []string{"codegen", "review"}},
		},
	}
}

func okExecutor() executor.PhaseExecutor {
	return executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		return &executor.Result{Success: true, Data: map[string]any{"phase": phaseID}}, nil
	})
}

func registryFor(t *testing.T, tmpl *WorkflowTemplate) *TemplateRegistry {
	t.Helper()
	reg := NewTemplateRegistry()
	require.NoError(t, reg.Register(tmpl))
	return reg
}

func executorsFor(tmpl *WorkflowTemplate, exec executor.PhaseExecutor) *executor.Registry {
	reg := executor.NewRegistry()
	for _, p := range tmpl.Phases {
		reg.Register(p.Agent, p.Method, exec)
	}
	return reg
}

func TestStartWorkflowRunsToCompletion(t *testing.T) {
	tmpl := pipelineTemplate()
	var order []string
	exec := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		order = append(order, phaseID)
		return &executor.Result{Success: true, Data: map[string]any{"phase": phaseID}}, nil
	})

	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, exec))
	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "用户管理 API",
		Technology:   "go",
		OutputPath:   "/tmp/out",
		ApprovalMode: ApprovalAuto,
	})
	require.NoError(t, err)

	assert.Equal(t, WorkflowCompleted, wf.Status)
	assert.Equal(t, []string{"spec", "codegen", "review", "compile"}, order)
	assert.Equal(t, 4, wf.Progress.CompletedPhases)
	assert.InDelta(t, 100.0, wf.Progress.Percentage, 0.001)
	assert.NotNil(t, wf.CompletedAt)
	assert.Empty(t, wf.CurrentPhase)

	for _, p := range wf.Phases {
		assert.Equal(t, PhaseCompleted, p.Status, "阶段 %s 应当完成", p.ID)
		assert.NotNil(t, p.EndTime)
	}
}

func TestStartWorkflowUnknownTemplate(t *testing.T) {
	st := newMapStore()
	engine := NewEngine(NewTemplateRegistry(), st, executor.NewRegistry())

	_, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "一个需求",
		Technology:   "cobol",
		OutputPath:   "/tmp/out",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	// 失败前不应创建任何工作流记录
	assert.Empty(t, st.data)
}

func TestPhaseRetryExhaustion(t *testing.T) {
	tmpl := &WorkflowTemplate{
		ID:         "retry-tpl",
		Technology: "go",
		Phases: []PhaseTemplate{
			{ID: "codegen", Name: "代码生成", Agent: "codegen-agent", Method: "generate_code", RetryCount: 2},
		},
	}

	calls := 0
	exec := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		calls++
		return nil, fmt.Errorf("生成失败")
	})

	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, exec), WithRetryDelay(0))
	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
	})
	require.NoError(t, err)

	// 初次执行 + 2 次重试
	assert.Equal(t, 3, calls)
	assert.Equal(t, WorkflowFailed, wf.Status)
	assert.Equal(t, "Phase 代码生成 failed: 生成失败", wf.Error)

	p := wf.Phases[0]
	assert.Equal(t, PhaseFailed, p.Status)
	assert.Equal(t, 2, p.RetryCount)
}

func TestPhaseRetrySucceedsAfterTransientFailure(t *testing.T) {
	tmpl := &WorkflowTemplate{
		ID:         "flaky-tpl",
		Technology: "go",
		Phases: []PhaseTemplate{
			{ID: "compile", Name: "编译验证", Agent: "build-agent", Method: "compile", RetryCount: 3},
		},
	}

	calls := 0
	exec := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		calls++
		if calls < 3 {
			return &executor.Result{Success: false, Error: "临时错误"}, nil
		}
		return &executor.Result{Success: true}, nil
	})

	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, exec), WithRetryDelay(0))
	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, WorkflowCompleted, wf.Status)
	assert.Equal(t, PhaseCompleted, wf.Phases[0].Status)
	assert.Equal(t, 2, wf.Phases[0].RetryCount)
}

func TestDependencyInputPropagation(t *testing.T) {
	tmpl := pipelineTemplate()
	inputs := make(map[string]map[string]any)
	exec := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		inputs[phaseID] = input
		return &executor.Result{Success: true, Data: map[string]any{"produced_by": phaseID}}, nil
	})

	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, exec))
	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "订单服务",
		Technology:   "go",
		OutputPath:   "/tmp/out",
		ProjectName:  "orders",
		ApprovalMode: ApprovalAuto,
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowCompleted, wf.Status)

	codegenInput := inputs["codegen"]
	require.NotNil(t, codegenInput)
	assert.Equal(t, wf.ID, codegenInput["workflow_id"])
	assert.Equal(t, "订单服务", codegenInput["requirements"])
	assert.Equal(t, "orders", codegenInput["project_name"])

	deps, ok := codegenInput["dependencies"].(map[string]any)
	require.True(t, ok)
	specResult, ok := deps["spec"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "spec", specResult["produced_by"])

	// compile 依赖 codegen 与 review 两者的结果
	compileDeps, ok := inputs["compile"]["dependencies"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, compileDeps, 2)
}

func TestGetWorkflowStatusReloadsFromStore(t *testing.T) {
	tmpl := pipelineTemplate()
	st := newMapStore()

	engine := NewEngine(registryFor(t, tmpl), st, executorsFor(tmpl, okExecutor()))
	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
		ApprovalMode: ApprovalAuto,
	})
	require.NoError(t, err)

	// 新引擎实例模拟进程重启，仅共享存储
	restarted := NewEngine(registryFor(t, tmpl), st, executorsFor(tmpl, okExecutor()))
	loaded, err := restarted.GetWorkflowStatus(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.Equal(t, wf.ID, loaded.ID)
	assert.Equal(t, WorkflowCompleted, loaded.Status)
	assert.Len(t, loaded.Phases, 4)
	assert.Equal(t, wf.Progress, loaded.Progress)
	assert.NotEmpty(t, loaded.AuditLog)
}

func TestGetWorkflowStatusUnknownID(t *testing.T) {
	engine := NewEngine(NewTemplateRegistry(), newMapStore(), executor.NewRegistry())
	_, err := engine.GetWorkflowStatus(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestPersistFailureDoesNotAbortExecution(t *testing.T) {
	tmpl := pipelineTemplate()
	engine := NewEngine(registryFor(t, tmpl), failingStore{}, executorsFor(tmpl, okExecutor()))

	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
		ApprovalMode: ApprovalAuto,
	})
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, wf.Status)
}

func TestAuditTrailOrdering(t *testing.T) {
	tmpl := pipelineTemplate()
	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, okExecutor()))

	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
		ApprovalMode: ApprovalAuto,
		UserID:       "u-1",
	})
	require.NoError(t, err)

	require.NotEmpty(t, wf.AuditLog)
	assert.Equal(t, "workflow_started", wf.AuditLog[0].Action)
	assert.Equal(t, "u-1", wf.AuditLog[0].UserID)
	assert.Equal(t, "workflow_completed", wf.AuditLog[len(wf.AuditLog)-1].Action)

	for i := 1; i < len(wf.AuditLog); i++ {
		assert.False(t, wf.AuditLog[i].Timestamp.Before(wf.AuditLog[i-1].Timestamp))
	}
}

func TestArtifactCollection(t *testing.T) {
	tmpl := &WorkflowTemplate{
		ID:         "artifact-tpl",
		Technology: "go",
		Phases: []PhaseTemplate{
			{ID: "spec", Name: "规格说明", Agent: "spec-agent", Method: "write_specification"},
		},
	}

	// 进程内执行器直接构造类型化切片，无 JSON 反序列化环节
	exec := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		return &executor.Result{Success: true, Data: map[string]any{
			"files": []map[string]any{
				{"path": "/out/api-spec.yaml", "size": float64(1024)},
				{"path": "/out/review-report.md"},
				{"path": "/out/main.go", "size": float64(2048)},
			},
		}}, nil
	})

	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, exec))
	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/out",
	})
	require.NoError(t, err)

	require.Len(t, wf.Artifacts, 3)
	assert.Equal(t, ArtifactSpecification, wf.Artifacts[0].Type)
	assert.Equal(t, int64(1024), wf.Artifacts[0].Size)
	assert.Equal(t, ArtifactReport, wf.Artifacts[1].Type)
	assert.Equal(t, ArtifactFile, wf.Artifacts[2].Type)
	for _, a := range wf.Artifacts {
		assert.Equal(t, "spec", a.PhaseID)
		assert.NotEmpty(t, a.ID)
	}
}

func TestStatusSnapshotIsolatedFromEngine(t *testing.T) {
	tmpl := pipelineTemplate()
	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, okExecutor()))

	started, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
		ApprovalMode: ApprovalAuto,
	})
	require.NoError(t, err)

	snap, err := engine.GetWorkflowStatus(context.Background(), started.ID)
	require.NoError(t, err)

	// 篡改快照不得影响引擎内的聚合状态
	snap.Status = WorkflowFailed
	snap.Phases[0].Status = PhaseFailed
	snap.Phases[0].Result["phase"] = "tampered"
	snap.AuditLog = nil

	fresh, err := engine.GetWorkflowStatus(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, fresh.Status)
	assert.Equal(t, PhaseCompleted, fresh.Phases[0].Status)
	assert.Equal(t, "spec", fresh.Phases[0].Result["phase"])
	assert.NotEmpty(t, fresh.AuditLog)
}

func TestConcurrentStatusReadsDuringApproval(t *testing.T) {
	tmpl := pipelineTemplate()
	tmpl.Phases[2].ApprovalRequired = true // review

	exec := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		time.Sleep(2 * time.Millisecond)
		return &executor.Result{Success: true, Data: map[string]any{"phase": phaseID}}, nil
	})
	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, exec))

	wf, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
		ApprovalMode: ApprovalInteractive,
	})
	require.NoError(t, err)
	require.Equal(t, PhaseWaitingApproval, wf.phase("review").Status)

	// 审批恢复驱动循环的同时并发查询并序列化状态
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.HandleApproval(context.Background(), wf.ID, "review", &Decision{Action: ActionApprove})
	}()

	for {
		select {
		case <-done:
			final, err := engine.GetWorkflowStatus(context.Background(), wf.ID)
			require.NoError(t, err)
			assert.Equal(t, WorkflowCompleted, final.Status)
			return
		default:
			snap, err := engine.GetWorkflowStatus(context.Background(), wf.ID)
			require.NoError(t, err)
			_, err = json.Marshal(snap)
			require.NoError(t, err)
		}
	}
}

func TestDefaultParamsDoNotOverrideStandardFields(t *testing.T) {
	tmpl := &WorkflowTemplate{
		ID:         "params-tpl",
		Technology: "go",
		Phases: []PhaseTemplate{
			{
				ID: "spec", Name: "规格说明", Agent: "spec-agent", Method: "write_specification",
				DefaultParams: map[string]any{
					"style":        "openapi",
					"requirements": "被覆盖的默认值",
				},
			},
		},
	}

	var captured map[string]any
	exec := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		captured = input
		return &executor.Result{Success: true}, nil
	})

	engine := NewEngine(registryFor(t, tmpl), newMapStore(), executorsFor(tmpl, exec))
	_, err := engine.StartWorkflow(context.Background(), &StartRequest{
		Requirements: "真实需求",
		Technology:   "go",
		OutputPath:   "/tmp/out",
	})
	require.NoError(t, err)

	assert.Equal(t, "openapi", captured["style"])
	assert.Equal(t, "真实需求", captured["requirements"])
}
