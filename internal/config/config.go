package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all evolab configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM backends
	LLM LLMConfig `yaml:"llm"`

	// Paradigm extraction
	Paradigm ParadigmConfig `yaml:"paradigm"`

	// Candidate execution
	Execution ExecutionConfig `yaml:"execution"`

	// Archival store
	Archive ArchiveConfig `yaml:"archive"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation and judge backends.
type LLMConfig struct {
	// Backend selects the generation provider: gemini, deepseek, ollama
	Backend string `yaml:"backend"`

	// Model names per provider
	GeminiModel   string `yaml:"gemini_model"`
	DeepSeekModel string `yaml:"deepseek_model"`
	OllamaModel   string `yaml:"ollama_model"`

	// Small local model used for task decomposition
	DecomposeModel string `yaml:"decompose_model"`

	// Judge model routed through OpenRouter. Opaque provider/model string.
	JudgeModel string `yaml:"judge_model"`

	// Base URLs
	GeminiBaseURL     string `yaml:"gemini_base_url"`
	DeepSeekBaseURL   string `yaml:"deepseek_base_url"`
	OllamaBaseURL     string `yaml:"ollama_base_url"`
	OpenRouterBaseURL string `yaml:"openrouter_base_url"`

	// Timeouts as duration strings
	Timeout      string `yaml:"timeout"`
	JudgeTimeout string `yaml:"judge_timeout"`

	// Generation limits
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// ParadigmConfig configures paradigm extraction from source files.
type ParadigmConfig struct {
	// MaxFiles caps the number of source files scanned per run
	MaxFiles int `yaml:"max_files"`

	// MaxExamples caps the example snippets carried into the context
	MaxExamples int `yaml:"max_examples"`
}

// ExecutionConfig configures subprocess execution of candidate code.
type ExecutionConfig struct {
	// Python interpreter used to run candidates
	Python string `yaml:"python"`

	// Timeout for a single candidate run
	Timeout string `yaml:"timeout"`
}

// ArchiveConfig configures the archival store.
type ArchiveConfig struct {
	// Root directory for run artifacts
	Root string `yaml:"root"`

	// SQLite database path
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "evolab",
		Version: "1.0.0",

		LLM: LLMConfig{
			Backend:           "gemini",
			GeminiModel:       "gemini-2.0-flash-exp",
			DeepSeekModel:     "deepseek-chat",
			OllamaModel:       "qwen2.5-coder:7b",
			DecomposeModel:    "gemma3:4b",
			JudgeModel:        "x-ai/grok-4-fast:free",
			GeminiBaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			DeepSeekBaseURL:   "https://api.deepseek.com/v1",
			OllamaBaseURL:     "http://localhost:11434",
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
			Timeout:           "180s",
			JudgeTimeout:      "120s",
			MaxOutputTokens:   4000,
		},

		Paradigm: ParadigmConfig{
			MaxFiles:    50,
			MaxExamples: 5,
		},

		Execution: ExecutionConfig{
			Python:  "python3",
			Timeout: "10s",
		},

		Archive: ArchiveConfig{
			Root:         "tachyonic",
			DatabasePath: filepath.Join("tachyonic", "archive", "archive_index.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the standard config location for a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".evolab", "evolab.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file, defaults plus environment
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// API keys are deliberately NOT stored in the config; backends read
// them from the environment at first use.
func (c *Config) applyEnvOverrides() {
	if backend := os.Getenv("EVOLAB_BACKEND"); backend != "" {
		c.LLM.Backend = backend
	}
	if url := os.Getenv("OLLAMA_HOST"); url != "" {
		c.LLM.OllamaBaseURL = url
	}
	if path := os.Getenv("EVOLAB_DB"); path != "" {
		c.Archive.DatabasePath = path
	}
	if root := os.Getenv("EVOLAB_ROOT"); root != "" {
		c.Archive.Root = root
	}
}

// GenerationTimeout returns the generation timeout as a duration.
func (c *Config) GenerationTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 180 * time.Second
	}
	return d
}

// JudgeTimeout returns the judge timeout as a duration.
func (c *Config) JudgeTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.JudgeTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// ExecutionTimeout returns the candidate execution timeout as a duration.
func (c *Config) ExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
