package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/copyforge/internal/ai/transport"
	"github.com/kiranshivaraju/copyforge/internal/config"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{cfg: cfg, client: http.DefaultClient}
}

// WithClient replaces the HTTP client.
func (p *Provider) WithClient(c *http.Client) *Provider {
	p.client = c
	return p
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	in := messagesRequest{
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	var out messagesResponse
	endpoint := transport.JoinURL(p.cfg.BaseURL, "/v1/messages")
	if err := transport.PostJSON(ctx, p.client, p.Name(), endpoint, headers, in, &out); err != nil {
		return models.Completion{}, err
	}

	var b strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return models.Completion{}, fmt.Errorf("%w: anthropic returned no text content", transport.ErrInvalidResponse)
	}
	return models.Completion{Text: text, Model: out.Model}, nil
}

var _ models.AIProvider = (*Provider)(nil)
