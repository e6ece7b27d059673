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

// DeepSeekConfig holds configuration for the DeepSeek client.
type DeepSeekConfig struct {
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// DefaultDeepSeekConfig returns a config with sane defaults.
func DefaultDeepSeekConfig() DeepSeekConfig {
	return DeepSeekConfig{
		BaseURL:    "https://api.deepseek.com/v1",
		Model:      "deepseek-chat",
		MaxTokens:  4000,
		Timeout:    180 * time.Second,
		MaxRetries: 3,
	}
}

// DeepSeekClient calls the DeepSeek chat completions endpoint. The wire
// format is OpenAI-compatible with bearer auth from DEEPSEEK_API_KEY.
type DeepSeekClient struct {
	config     DeepSeekConfig
	httpClient *http.Client
	limiter    rateLimiter
}

// NewDeepSeekClient creates a DeepSeek client with default configuration.
func NewDeepSeekClient() *DeepSeekClient {
	return NewDeepSeekClientWithConfig(DefaultDeepSeekConfig())
}

// NewDeepSeekClientWithConfig creates a DeepSeek client with custom configuration.
func NewDeepSeekClientWithConfig(cfg DeepSeekConfig) *DeepSeekClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDeepSeekConfig().BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepSeekConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultDeepSeekConfig().MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultDeepSeekConfig().Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultDeepSeekConfig().MaxRetries
	}
	return &DeepSeekClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rateLimiter{minInterval: 500 * time.Millisecond},
	}
}

// Model returns the model identifier.
func (c *DeepSeekClient) Model() string {
	return c.config.Model
}

// OpenAI-compatible wire format

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate implements Client.
func (c *DeepSeekClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	apiKey := os.Getenv("DEEPSEEK_API_KEY")
	if apiKey == "" {
		return "", &BackendError{Backend: "deepseek", Err: ErrMissingAPIKey}
	}

	ctx, cancel := withDeadline(ctx, c.config.Timeout)
	defer cancel()

	reqBody := chatRequest{
		Model:       c.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &BackendError{Backend: "deepseek", Err: fmt.Errorf("marshal request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := retryBackoff(ctx, attempt); err != nil {
				return "", &BackendError{Backend: "deepseek", Err: err}
			}
		}

		c.limiter.wait()

		text, err := c.doRequest(ctx, apiKey, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		logging.APIWarn("deepseek request failed (attempt %d/%d): %v", attempt+1, c.config.MaxRetries+1, err)

		if ctx.Err() != nil {
			break
		}
	}

	return "", &BackendError{Backend: "deepseek", Err: lastErr}
}

func (c *DeepSeekClient) doRequest(ctx context.Context, apiKey string, payload []byte) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "deepseek chat completion")
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

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
