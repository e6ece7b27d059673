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

// GeminiConfig holds configuration for the Gemini REST client.
type GeminiConfig struct {
	BaseURL         string
	Model           string
	MaxOutputTokens int
	Timeout         time.Duration
	MaxRetries      int
}

// DefaultGeminiConfig returns a config with sane defaults.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Model:           "gemini-2.0-flash-exp",
		MaxOutputTokens: 4000,
		Timeout:         180 * time.Second,
		MaxRetries:      3,
	}
}

// GeminiClient calls the Gemini generateContent REST endpoint directly.
// The API key is read from GEMINI_API_KEY on each call so a missing key
// only fails the paths that actually need generation.
type GeminiClient struct {
	config     GeminiConfig
	httpClient *http.Client
	limiter    rateLimiter
}

// NewGeminiClient creates a Gemini client with default configuration.
func NewGeminiClient() *GeminiClient {
	return NewGeminiClientWithConfig(DefaultGeminiConfig())
}

// NewGeminiClientWithConfig creates a Gemini client with custom configuration.
func NewGeminiClientWithConfig(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiConfig().BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiConfig().Model
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultGeminiConfig().MaxOutputTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultGeminiConfig().Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultGeminiConfig().MaxRetries
	}
	return &GeminiClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rateLimiter{minInterval: 500 * time.Millisecond},
	}
}

// Model returns the model identifier.
func (c *GeminiClient) Model() string {
	return c.config.Model
}

// Gemini wire format

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return "", &BackendError{Backend: "gemini", Err: ErrMissingAPIKey}
	}

	ctx, cancel := withDeadline(ctx, c.config.Timeout)
	defer cancel()

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: c.config.MaxOutputTokens,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &BackendError{Backend: "gemini", Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.config.BaseURL, c.config.Model, apiKey)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := retryBackoff(ctx, attempt); err != nil {
				return "", &BackendError{Backend: "gemini", Err: err}
			}
		}

		c.limiter.wait()

		text, err := c.doRequest(ctx, url, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		logging.APIWarn("gemini request failed (attempt %d/%d): %v", attempt+1, c.config.MaxRetries+1, err)

		if ctx.Err() != nil {
			break
		}
	}

	return "", &BackendError{Backend: "gemini", Err: lastErr}
}

func (c *GeminiClient) doRequest(ctx context.Context, url string, payload []byte) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini generateContent")
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("api error %d (%s): %s", parsed.Error.Code, parsed.Error.Status, parsed.Error.Message)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
