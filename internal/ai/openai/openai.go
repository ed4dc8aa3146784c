package openai

import "github.com/kiranshivaraju/copyforge/internal/config"

// NewProvider returns a client for the hosted OpenAI API.
func NewProvider(cfg config.OpenAIConfig) *ChatClient {
	return NewChatClient(Options{
		Name:    "openai",
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
}
