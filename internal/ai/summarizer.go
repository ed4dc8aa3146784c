package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/copyforge/internal/learning"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const summarySystemPrompt = `You condense editorial feedback from a batch of generated posts into guidance for the next posts.
Keep scores, recurring strengths and recurring weaknesses. Plain text only.`

// Summarizer compacts learnings with the configured provider.
type Summarizer struct {
	provider models.AIProvider
}

func NewSummarizer(provider models.AIProvider) *Summarizer {
	return &Summarizer{provider: provider}
}

func (s *Summarizer) Summarize(ctx context.Context, lines []string, maxBytes int) (string, error) {
	prompt := fmt.Sprintf("Condense the following notes into at most %d bytes:\n\n%s",
		maxBytes, strings.Join(lines, "\n"))
	reply, err := s.provider.Complete(ctx, models.CompletionRequest{
		System:    summarySystemPrompt,
		Prompt:    prompt,
		MaxTokens: maxBytes / 3,
	})
	if err != nil {
		return "", fmt.Errorf("summarizing learnings: %w", err)
	}
	return strings.TrimSpace(reply.Text), nil
}

var _ learning.Summarizer = (*Summarizer)(nil)
