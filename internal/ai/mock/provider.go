package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/copyforge/internal/ai/transport"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing and local runs.
type MockProvider struct {
	Name_        string
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) (models.Completion, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return models.Completion{}, nil
}

// NewMockProvider returns a MockProvider with deterministic responses.
// Grading prompts (those asking for a SCORE line) get a fixed score.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, req models.CompletionRequest) (models.Completion, error) {
			if strings.Contains(req.Prompt, "SCORE:") {
				return models.Completion{Text: "SCORE: 8.0\nClear hook, concrete detail.", Model: "mock-v1"}, nil
			}
			first := strings.SplitN(strings.TrimSpace(req.Prompt), "\n", 2)[0]
			return models.Completion{
				Text:  fmt.Sprintf("Mock draft for: %s", first),
				Model: "mock-v1",
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (models.Completion, error) {
			return models.Completion{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (models.Completion, error) {
			<-ctx.Done()
			return models.Completion{}, transport.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
