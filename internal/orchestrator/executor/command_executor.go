package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// CommandExecutor 子进程阶段执行器
// 输入以 JSON 写入子进程 stdin，子进程在 stdout 输出 Result JSON
// 适合封装编译、脚手架等本地工具
type CommandExecutor struct {
	command string
	args    []string
	workDir string
}

// NewCommandExecutor 创建子进程执行器
func NewCommandExecutor(command string, args []string, workDir string) *CommandExecutor {
	return &CommandExecutor{
		command: command,
		args:    args,
		workDir: workDir,
	}
}

// Execute 实现 PhaseExecutor 接口
func (e *CommandExecutor) Execute(ctx context.Context, phaseID string, input map[string]any) (*Result, error) {
	payload, err := json.Marshal(map[string]any{
		"phase_id": phaseID,
		"input":    input,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化阶段输入失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Dir = e.workDir
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("命令执行失败: %v: %s", err, stderr.String()),
		}, nil
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		// 输出不是 Result JSON 时，原样作为 content 返回
		return &Result{
			Success: true,
			Data:    map[string]any{"content": stdout.String()},
		}, nil
	}
	return &result, nil
}
