package models

import "context"

// CompletionRequest is one prompt sent to an LLM backend.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the text an LLM backend returned.
type Completion struct {
	Text  string
	Model string
}

// AIProvider is the interface all LLM backends implement.
type AIProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
