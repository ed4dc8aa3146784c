package ai

import (
	"fmt"

	"github.com/kiranshivaraju/copyforge/internal/ai/anthropic"
	"github.com/kiranshivaraju/copyforge/internal/ai/mock"
	"github.com/kiranshivaraju/copyforge/internal/ai/ollama"
	"github.com/kiranshivaraju/copyforge/internal/ai/openai"
	"github.com/kiranshivaraju/copyforge/internal/ai/transport"
	"github.com/kiranshivaraju/copyforge/internal/ai/vllm"
	"github.com/kiranshivaraju/copyforge/internal/config"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	client := transport.NewClient(cfg.InferenceTimeout)
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama).WithClient(client), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM).WithClient(client), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI).WithClient(client), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic).WithClient(client), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, mock", cfg.Provider)
	}
}
