package orchestrator

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// buildPhaseInput 组装阶段执行输入
// 模板默认参数在前，标准字段可覆盖同名默认参数
func (e *Engine) buildPhaseInput(wf *Workflow, p *Phase) map[string]any {
	input := make(map[string]any, len(p.DefaultParams)+10)
	for k, v := range p.DefaultParams {
		input[k] = v
	}

	input["workflow_id"] = wf.ID
	input["phase_id"] = p.ID
	input["method"] = p.Method
	input["requirements"] = wf.Requirements
	input["technology"] = wf.Technology
	input["output_path"] = wf.OutputPath
	input["project_name"] = wf.ProjectName
	input["config"] = wf.Config

	deps := make(map[string]any, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		if dp := wf.phase(dep); dp != nil && dp.Result != nil {
			deps[dep] = dp.Result
		}
	}
	input["dependencies"] = deps

	previous := make([]map[string]any, 0)
	for _, cp := range wf.completedPhases() {
		previous = append(previous, map[string]any{
			"id":    cp.ID,
			"name":  cp.Name,
			"agent": cp.Agent,
		})
	}
	input["previous_phases"] = previous

	return input
}

// collectArtifacts 从执行结果的 files 字段提取产物记录
// 缺失或格式不符时静默跳过，不影响阶段成功
func (e *Engine) collectArtifacts(wf *Workflow, p *Phase, data map[string]any) {
	if data == nil {
		return
	}

	now := time.Now().UTC()
	for _, m := range fileEntries(data["files"]) {
		path, _ := m["path"].(string)
		if path == "" {
			continue
		}
		meta, _ := m["metadata"].(map[string]any)
		name := filepath.Base(path)
		wf.Artifacts = append(wf.Artifacts, Artifact{
			ID:        uuid.New().String(),
			Type:      inferArtifactType(name),
			Name:      name,
			Path:      path,
			PhaseID:   p.ID,
			Size:      toInt64(m["size"]),
			CreatedAt: now,
			Metadata:  meta,
		})
	}
}

// fileEntries 兼容 JSON 反序列化（[]any）与进程内执行器直接构造（[]map[string]any）的文件列表
func fileEntries(v any) []map[string]any {
	switch files := v.(type) {
	case []map[string]any:
		return files
	case []any:
		out := make([]map[string]any, 0, len(files))
		for _, f := range files {
			if m, ok := f.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// inferArtifactType 按文件名推断产物类型
func inferArtifactType(name string) ArtifactType {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "spec"), strings.Contains(n, "api"),
		strings.HasSuffix(n, ".yaml"), strings.HasSuffix(n, ".yml"):
		return ArtifactSpecification
	case strings.Contains(n, "report"), strings.Contains(n, "review"),
		strings.HasSuffix(n, ".md"):
		return ArtifactReport
	case strings.Contains(n, "config"), strings.Contains(n, "properties"),
		strings.HasSuffix(n, ".json"), strings.HasSuffix(n, ".xml"):
		return ArtifactConfiguration
	default:
		return ArtifactFile
	}
}

// toInt64 兼容 JSON 反序列化后的数字类型
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
