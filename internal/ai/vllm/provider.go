package vllm

import (
	"github.com/kiranshivaraju/copyforge/internal/ai/openai"
	"github.com/kiranshivaraju/copyforge/internal/config"
)

// NewProvider returns a client for a vLLM server's OpenAI-compatible API.
func NewProvider(cfg config.VLLMConfig) *openai.ChatClient {
	return openai.NewChatClient(openai.Options{
		Name:    "vllm",
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
}
