package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/copyforge/internal/ai/transport"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// Options configures a chat-completions client.
type Options struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// ChatClient speaks the OpenAI chat-completions protocol. vLLM serves the
// same protocol, so both providers are built on it.
type ChatClient struct {
	opts   Options
	client *http.Client
}

func NewChatClient(opts Options) *ChatClient {
	return &ChatClient{opts: opts, client: http.DefaultClient}
}

// WithClient replaces the HTTP client.
func (c *ChatClient) WithClient(hc *http.Client) *ChatClient {
	c.client = hc
	return c
}

func (c *ChatClient) Name() string { return c.opts.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	in := chatRequest{
		Model:       c.opts.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		in.Messages = append(in.Messages, chatMessage{Role: "system", Content: req.System})
	}
	in.Messages = append(in.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var headers map[string]string
	if c.opts.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.opts.APIKey}
	}

	var out chatResponse
	endpoint := transport.JoinURL(c.opts.BaseURL, "/v1/chat/completions")
	if err := transport.PostJSON(ctx, c.client, c.Name(), endpoint, headers, in, &out); err != nil {
		return models.Completion{}, err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return models.Completion{}, fmt.Errorf("%w: %s returned no choices", transport.ErrInvalidResponse, c.Name())
	}
	return models.Completion{Text: strings.TrimSpace(out.Choices[0].Message.Content), Model: out.Model}, nil
}

var _ models.AIProvider = (*ChatClient)(nil)
