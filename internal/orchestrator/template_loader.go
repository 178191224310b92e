package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// templateCatalog 模板目录文件结构
type templateCatalog struct {
	Templates []*WorkflowTemplate `yaml:"templates"`
}

// LoadTemplatesFromFile 从 YAML 文件加载并注册模板
func (r *TemplateRegistry) LoadTemplatesFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取模板文件失败: %w", err)
	}

	var catalog templateCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("解析模板文件失败: %w", err)
	}

	for _, t := range catalog.Templates {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("注册模板 %s 失败: %w", t.ID, err)
		}
	}
	return nil
}

// LoadTemplatesFromDirectory 从目录加载所有 *.yaml 模板文件
// 单个文件加载失败不会中断其他文件
func (r *TemplateRegistry) LoadTemplatesFromDirectory(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("遍历模板目录失败: %w", err)
	}

	for _, file := range files {
		if err := r.LoadTemplatesFromFile(file); err != nil {
			continue
		}
	}
	return nil
}
