package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()

	exact := Func(func(ctx context.Context, phaseID string, input map[string]any) (*Result, error) {
		return &Result{Success: true, Data: map[string]any{"kind": "exact"}}, nil
	})
	fallback := Func(func(ctx context.Context, phaseID string, input map[string]any) (*Result, error) {
		return &Result{Success: true, Data: map[string]any{"kind": "fallback"}}, nil
	})

	reg.Register("codegen-agent", "generate_code", exact)
	reg.Register("codegen-agent", "", fallback)

	t.Run("精确匹配优先", func(t *testing.T) {
		exec, err := reg.Resolve("codegen-agent", "generate_code")
		require.NoError(t, err)
		res, err := exec.Execute(context.Background(), "p1", nil)
		require.NoError(t, err)
		assert.Equal(t, "exact", res.Data["kind"])
	})

	t.Run("回退到兜底实现", func(t *testing.T) {
		exec, err := reg.Resolve("codegen-agent", "refactor_code")
		require.NoError(t, err)
		res, err := exec.Execute(context.Background(), "p1", nil)
		require.NoError(t, err)
		assert.Equal(t, "fallback", res.Data["kind"])
	})

	t.Run("未注册能力", func(t *testing.T) {
		_, err := reg.Resolve("unknown-agent", "anything")
		assert.Error(t, err)
	})
}

func TestHTTPExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "spec", body["phase_id"])

		json.NewEncoder(w).Encode(Result{
			Success: true,
			Data:    map[string]any{"echo": body["input"]},
		})
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, 5*time.Second)
	res, err := exec.Execute(context.Background(), "spec", map[string]any{"requirements": "用户管理"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	echo, ok := res.Data["echo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "用户管理", echo["requirements"])
}

func TestHTTPExecutorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, 5*time.Second)
	_, err := exec.Execute(context.Background(), "spec", nil)
	assert.Error(t, err)
}

func TestCommandExecutor(t *testing.T) {
	exec := NewCommandExecutor("echo", []string{`{"success":true,"data":{"content":"done"}}`}, "")
	res, err := exec.Execute(context.Background(), "spec", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "done", res.Data["content"])
}

func TestCommandExecutorFailure(t *testing.T) {
	// 命令非零退出不报 error，失败语义走 Result
	exec := NewCommandExecutor("false", nil, "")
	res, err := exec.Execute(context.Background(), "spec", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
