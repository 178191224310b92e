package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferArtifactType(t *testing.T) {
	cases := []struct {
		name string
		want ArtifactType
	}{
		{"api-spec.yaml", ArtifactSpecification},
		{"openapi.yml", ArtifactSpecification},
		{"user-api.txt", ArtifactSpecification},
		{"review-report.md", ArtifactReport},
		{"README.md", ArtifactReport},
		{"app-config.toml", ArtifactConfiguration},
		{"application.properties", ArtifactConfiguration},
		{"package.json", ArtifactConfiguration},
		{"pom.xml", ArtifactConfiguration},
		{"main.go", ArtifactFile},
		{"server.py", ArtifactFile},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, inferArtifactType(tc.name))
		})
	}
}

func TestFileEntries(t *testing.T) {
	t.Run("JSON 反序列化形态", func(t *testing.T) {
		entries := fileEntries([]any{
			map[string]any{"path": "/out/a.go"},
			"not-a-map",
			map[string]any{"path": "/out/b.go"},
		})
		assert.Len(t, entries, 2)
	})

	t.Run("进程内执行器直接构造", func(t *testing.T) {
		entries := fileEntries([]map[string]any{
			{"path": "/out/a.go"},
			{"path": "/out/b.go"},
		})
		assert.Len(t, entries, 2)
	})

	t.Run("缺失或类型不符", func(t *testing.T) {
		assert.Nil(t, fileEntries(nil))
		assert.Nil(t, fileEntries("files"))
		assert.Nil(t, fileEntries(map[string]any{"path": "/out/a.go"}))
	})
}

func TestToInt64(t *testing.T) {
	assert.Equal(t, int64(42), toInt64(float64(42)))
	assert.Equal(t, int64(7), toInt64(7))
	assert.Equal(t, int64(9), toInt64(int64(9)))
	assert.Equal(t, int64(0), toInt64("oops"))
	assert.Equal(t, int64(0), toInt64(nil))
}
