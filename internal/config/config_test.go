package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gemini", cfg.LLM.Backend)
	assert.Equal(t, "deepseek-chat", cfg.LLM.DeepSeekModel)
	assert.Equal(t, "python3", cfg.Execution.Python)
	assert.Equal(t, 50, cfg.Paradigm.MaxFiles)
	assert.Equal(t, 180*time.Second, cfg.GenerationTimeout())
	assert.Equal(t, 120*time.Second, cfg.JudgeTimeout())
	assert.Equal(t, 10*time.Second, cfg.ExecutionTimeout())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.GeminiModel, cfg.LLM.GeminiModel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `llm:
  backend: ollama
  ollama_model: codellama:13b
  timeout: 60s
execution:
  python: python3.12
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, "codellama:13b", cfg.LLM.OllamaModel)
	assert.Equal(t, 60*time.Second, cfg.GenerationTimeout())
	assert.Equal(t, "python3.12", cfg.Execution.Python)
	assert.Equal(t, 5*time.Second, cfg.ExecutionTimeout())

	// Untouched fields keep defaults
	assert.Equal(t, "gemini-2.0-flash-exp", cfg.LLM.GeminiModel)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EVOLAB_BACKEND", "deepseek")
	t.Setenv("EVOLAB_DB", "/tmp/custom.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "deepseek", cfg.LLM.Backend)
	assert.Equal(t, "/tmp/custom.db", cfg.Archive.DatabasePath)
}

func TestInvalidTimeoutFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "not-a-duration"
	assert.Equal(t, 180*time.Second, cfg.GenerationTimeout())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Backend = "ollama"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", loaded.LLM.Backend)
}
