package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"evolab/internal/logging"
)

// OllamaConfig holds configuration for the local Ollama client.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	NumPredict int
	Timeout    time.Duration
}

// DefaultOllamaConfig returns a config pointing at a local daemon.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:    "http://localhost:11434",
		Model:      "qwen2.5-coder:7b",
		NumPredict: 4000,
		Timeout:    180 * time.Second,
	}
}

// OllamaClient calls a local Ollama daemon. No credentials; failure to
// reach the daemon is reported as a BackendError, never a panic.
type OllamaClient struct {
	config     OllamaConfig
	httpClient *http.Client
}

// NewOllamaClient creates an Ollama client with default configuration.
func NewOllamaClient() *OllamaClient {
	return NewOllamaClientWithConfig(DefaultOllamaConfig())
}

// NewOllamaClientWithConfig creates an Ollama client with custom configuration.
func NewOllamaClientWithConfig(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaConfig().BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaConfig().Model
	}
	if cfg.NumPredict == 0 {
		cfg.NumPredict = DefaultOllamaConfig().NumPredict
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaConfig().Timeout
	}
	return &OllamaClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the model identifier.
func (c *OllamaClient) Model() string {
	return c.config.Model
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate implements Client.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	ctx, cancel := withDeadline(ctx, c.config.Timeout)
	defer cancel()

	reqBody := ollamaRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: temperature,
			NumPredict:  c.config.NumPredict,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &BackendError{Backend: "ollama", Err: fmt.Errorf("marshal request: %w", err)}
	}

	timer := logging.StartTimer(logging.CategoryAPI, "ollama generate")
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", &BackendError{Backend: "ollama", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &BackendError{Backend: "ollama", Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendError{Backend: "ollama", Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{Backend: "ollama", Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 500))}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &BackendError{Backend: "ollama", Err: fmt.Errorf("parse response: %w", err)}
	}

	if parsed.Error != "" {
		return "", &BackendError{Backend: "ollama", Err: fmt.Errorf("api error: %s", parsed.Error)}
	}

	return parsed.Response, nil
}
