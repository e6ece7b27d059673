package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"evolab/internal/logging"
)

// Judge temperature is fixed low so verdicts stay stable across runs.
const (
	judgeTemperature = 0.3
	judgeMaxTokens   = 2000
)

// OpenRouterConfig holds configuration for the OpenRouter judge client.
type OpenRouterConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int

	// Attribution headers recommended by OpenRouter
	Referer string
	Title   string
}

// DefaultOpenRouterConfig returns a config with sane defaults. The
// model is an opaque provider/model string passed through unchanged.
func DefaultOpenRouterConfig() OpenRouterConfig {
	return OpenRouterConfig{
		BaseURL:    "https://openrouter.ai/api/v1",
		Model:      "x-ai/grok-4-fast:free",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		Referer:    "https://github.com/evolab/evolab",
		Title:      "evolab",
	}
}

// OpenRouterClient calls the OpenRouter chat completions endpoint for
// judge validation. Auth comes from OPENROUTER_API_KEY at call time.
type OpenRouterClient struct {
	config     OpenRouterConfig
	httpClient *http.Client
	limiter    rateLimiter
}

// NewOpenRouterClient creates an OpenRouter client with default configuration.
func NewOpenRouterClient() *OpenRouterClient {
	return NewOpenRouterClientWithConfig(DefaultOpenRouterConfig())
}

// NewOpenRouterClientWithConfig creates an OpenRouter client with custom configuration.
func NewOpenRouterClientWithConfig(cfg OpenRouterConfig) *OpenRouterClient {
	def := DefaultOpenRouterConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Referer == "" {
		cfg.Referer = def.Referer
	}
	if cfg.Title == "" {
		cfg.Title = def.Title
	}
	return &OpenRouterClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rateLimiter{minInterval: time.Second},
	}
}

// Model returns the model identifier.
func (c *OpenRouterClient) Model() string {
	return c.config.Model
}

// Complete sends the prompt at the fixed judge temperature and returns
// the raw completion text.
func (c *OpenRouterClient) Complete(ctx context.Context, prompt string) (string, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return "", &BackendError{Backend: "openrouter", Err: ErrMissingAPIKey}
	}

	ctx, cancel := withDeadline(ctx, c.config.Timeout)
	defer cancel()

	reqBody := chatRequest{
		Model:       c.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: judgeTemperature,
		MaxTokens:   judgeMaxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &BackendError{Backend: "openrouter", Err: fmt.Errorf("marshal request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := retryBackoff(ctx, attempt); err != nil {
				return "", &BackendError{Backend: "openrouter", Err: err}
			}
		}

		c.limiter.wait()

		text, err := c.doRequest(ctx, apiKey, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		logging.APIWarn("openrouter request failed (attempt %d/%d): %v", attempt+1, c.config.MaxRetries+1, err)

		if ctx.Err() != nil {
			break
		}
	}

	return "", &BackendError{Backend: "openrouter", Err: lastErr}
}

func (c *OpenRouterClient) doRequest(ctx context.Context, apiKey string, payload []byte) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "openrouter chat completion")
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("HTTP-Referer", c.config.Referer)
	req.Header.Set("X-Title", c.config.Title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("api error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return parsed.Choices[0].Message.Content, nil
}
