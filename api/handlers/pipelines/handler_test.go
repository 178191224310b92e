package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend/internal/orchestrator"
	"backend/internal/orchestrator/executor"
	"backend/internal/orchestrator/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	data map[string][]byte
}

func (s *memStore) Save(ctx context.Context, id string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[id] = cp
	return nil
}

func (s *memStore) Load(ctx context.Context, id string) ([]byte, error) {
	data, ok := s.data[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	templates := orchestrator.NewTemplateRegistry()
	require.NoError(t, templates.Register(&orchestrator.WorkflowTemplate{
		ID:         "go-api",
		Name:       "Go API 流水线",
		Technology: "go",
		Phases: []orchestrator.PhaseTemplate{
			{ID: "spec", Name: "规格说明", Agent: "spec-agent", Method: "write_specification", ApprovalRequired: true},
			{ID: "codegen", Name: "代码生成", Agent: "codegen-agent", Method: "generate_code", Dependencies: []string{"spec"}},
		},
	}))

	executors := executor.NewRegistry()
	ok := executor.Func(func(ctx context.Context, phaseID string, input map[string]any) (*executor.Result, error) {
		return &executor.Result{Success: true, Data: map[string]any{"phase": phaseID}}, nil
	})
	executors.Register("spec-agent", "", ok)
	executors.Register("codegen-agent", "", ok)

	engine := orchestrator.NewEngine(templates, &memStore{data: make(map[string][]byte)}, executors)

	r := gin.New()
	h := NewHandler(engine)
	r.POST("/api/pipelines", h.StartPipeline)
	r.GET("/api/pipelines/:id", h.GetPipeline)
	r.POST("/api/pipelines/:id/phases/:phaseId/approval", h.HandleApproval)
	r.GET("/api/approvals", h.ListPendingApprovals)
	r.GET("/api/templates", h.ListTemplates)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func startPipeline(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/pipelines", gin.H{
		"requirements":  "用户管理 API",
		"technology":    "go",
		"output_path":   "/tmp/out",
		"approval_mode": "interactive",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data PipelineView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.ID)
	return resp.Data.ID
}

func TestStartAndQueryPipeline(t *testing.T) {
	r := testRouter(t)
	id := startPipeline(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/pipelines/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data PipelineView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orchestrator.WorkflowRunning, resp.Data.Status)
	require.Len(t, resp.Data.Phases, 2)
	assert.Equal(t, orchestrator.PhaseWaitingApproval, resp.Data.Phases[0].Status)
}

func TestStartPipelineValidation(t *testing.T) {
	r := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/pipelines", gin.H{"technology": "go"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/pipelines", gin.H{
		"requirements": "需求",
		"technology":   "cobol",
		"output_path":  "/tmp/out",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApprovalEndpoint(t *testing.T) {
	r := testRouter(t)
	id := startPipeline(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/approvals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(t, r, http.MethodPost, "/api/pipelines/"+id+"/phases/spec/approval", gin.H{
		"action":   "approve",
		"feedback": "通过",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/pipelines/"+id, nil)
	var resp struct {
		Data PipelineView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orchestrator.WorkflowCompleted, resp.Data.Status)
}

func TestApprovalEndpointUnknownWorkflow(t *testing.T) {
	r := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/pipelines/no-such/phases/spec/approval", gin.H{"action": "approve"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTemplates(t *testing.T) {
	r := testRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go-api")
}
