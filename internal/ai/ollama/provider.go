package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/copyforge/internal/ai/transport"
	"github.com/kiranshivaraju/copyforge/internal/config"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// Provider implements models.AIProvider using Ollama's /api/generate endpoint.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{cfg: cfg, client: http.DefaultClient}
}

// WithClient replaces the HTTP client.
func (p *Provider) WithClient(c *http.Client) *Provider {
	p.client = c
	return p
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	in := generateRequest{
		Model:  p.cfg.Model,
		Prompt: req.Prompt,
		System: req.System,
	}
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		in.Options = opts
	}

	var out generateResponse
	if err := transport.PostJSON(ctx, p.client, p.Name(), transport.JoinURL(p.cfg.BaseURL, "/api/generate"), nil, in, &out); err != nil {
		return models.Completion{}, err
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return models.Completion{}, fmt.Errorf("%w: ollama returned empty response", transport.ErrInvalidResponse)
	}
	return models.Completion{Text: text, Model: out.Model}, nil
}

var _ models.AIProvider = (*Provider)(nil)
