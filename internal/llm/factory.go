package llm

import (
	"fmt"

	"evolab/internal/config"
)

// NewGenerationClient builds the generation backend selected by config.
func NewGenerationClient(cfg *config.Config) (Client, error) {
	switch cfg.LLM.Backend {
	case "gemini":
		return NewGeminiClientWithConfig(GeminiConfig{
			BaseURL:         cfg.LLM.GeminiBaseURL,
			Model:           cfg.LLM.GeminiModel,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Timeout:         cfg.GenerationTimeout(),
		}), nil
	case "deepseek":
		return NewDeepSeekClientWithConfig(DeepSeekConfig{
			BaseURL:   cfg.LLM.DeepSeekBaseURL,
			Model:     cfg.LLM.DeepSeekModel,
			MaxTokens: cfg.LLM.MaxOutputTokens,
			Timeout:   cfg.GenerationTimeout(),
		}), nil
	case "ollama":
		return NewOllamaClientWithConfig(OllamaConfig{
			BaseURL:    cfg.LLM.OllamaBaseURL,
			Model:      cfg.LLM.OllamaModel,
			NumPredict: cfg.LLM.MaxOutputTokens,
			Timeout:    cfg.GenerationTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm backend: %q", cfg.LLM.Backend)
	}
}

// NewDecomposeClient builds the small local model used for task
// decomposition. Always Ollama; decomposition degrades gracefully when
// the daemon is unreachable.
func NewDecomposeClient(cfg *config.Config) Client {
	return NewOllamaClientWithConfig(OllamaConfig{
		BaseURL: cfg.LLM.OllamaBaseURL,
		Model:   cfg.LLM.DecomposeModel,
		Timeout: cfg.GenerationTimeout(),
	})
}

// NewJudgeClient builds the OpenRouter judge from config.
func NewJudgeClient(cfg *config.Config) *OpenRouterClient {
	return NewOpenRouterClientWithConfig(OpenRouterConfig{
		BaseURL: cfg.LLM.OpenRouterBaseURL,
		Model:   cfg.LLM.JudgeModel,
		Timeout: cfg.JudgeTimeout(),
	})
}
