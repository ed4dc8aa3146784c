package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/internal/queue"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	draftMaxTokens   = 800
	draftTemperature = 0.7
	gradeMaxTokens   = 120
	recordTimeout    = 5 * time.Second
)

const draftSystemPrompt = `You are a senior copywriter. Write ready-to-publish copy for the requested platform.
Respect the platform's length conventions. Return only the copy, without preamble or commentary.`

const gradeSystemPrompt = `You are a strict editor grading marketing copy from 0 to 10.
Consider the hook, clarity, platform fit and concrete detail.`

var scorePattern = regexp.MustCompile(`(?i)score:\s*([0-9]+(?:\.[0-9]+)?)`)

// RecordStore persists generated copy.
type RecordStore interface {
	CreateContentRecord(ctx context.Context, rec *models.ContentRecord) error
}

// Generator drafts and grades one piece of copy per job. It implements
// models.Executor.
type Generator struct {
	provider models.AIProvider
	records  RecordStore
	baseURL  string
}

// NewGenerator creates a Generator. records may be nil, in which case
// results carry no ExternalRef. baseURL prefixes record references.
func NewGenerator(provider models.AIProvider, records RecordStore, baseURL string) *Generator {
	return &Generator{
		provider: provider,
		records:  records,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Execute produces the copy for spec. Errors carry a queue error kind.
func (g *Generator) Execute(ctx context.Context, spec models.JobSpec) (models.Result, error) {
	if err := validateSpec(spec); err != nil {
		return models.Result{}, queue.Permanent(err)
	}

	draft, err := g.provider.Complete(ctx, models.CompletionRequest{
		System:      draftSystemPrompt,
		Prompt:      buildDraftPrompt(spec),
		MaxTokens:   draftMaxTokens,
		Temperature: draftTemperature,
	})
	if err != nil {
		return models.Result{}, classify(fmt.Errorf("drafting: %w", err))
	}
	content := strings.TrimSpace(draft.Text)
	if content == "" {
		return models.Result{}, queue.Permanent(fmt.Errorf("%w: empty draft", ErrInvalidResponse))
	}

	meta := map[string]string{
		"provider": g.provider.Name(),
		"model":    draft.Model,
	}

	score, err := g.grade(ctx, spec, content)
	if err != nil {
		return models.Result{}, classify(fmt.Errorf("grading: %w", err))
	}
	if score < 0 {
		meta["grade"] = "unparsed"
		score = 0
	}

	res := models.Result{Content: content, Score: score, Metadata: meta}
	ref, err := g.store(ctx, spec, res)
	if err != nil {
		return models.Result{}, queue.Transient(fmt.Errorf("storing record: %w", err))
	}
	res.ExternalRef = ref
	return res, nil
}

// grade returns the editor score for content, or -1 when the reply has no score line.
func (g *Generator) grade(ctx context.Context, spec models.JobSpec, content string) (float64, error) {
	reply, err := g.provider.Complete(ctx, models.CompletionRequest{
		System:    gradeSystemPrompt,
		Prompt:    buildGradePrompt(spec, content),
		MaxTokens: gradeMaxTokens,
	})
	if err != nil {
		return 0, err
	}
	score, ok := ParseScore(reply.Text)
	if !ok {
		slog.Warn("grade reply had no score", "provider", g.provider.Name(), "topic", spec.Topic)
		return -1, nil
	}
	return score, nil
}

func (g *Generator) store(ctx context.Context, spec models.JobSpec, res models.Result) (string, error) {
	if g.records == nil {
		return "", nil
	}
	tenantID, err := uuid.Parse(spec.Extra[models.ExtraTenantID])
	if err != nil || tenantID == uuid.Nil {
		return "", nil
	}

	rec := &models.ContentRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Topic:     spec.Topic,
		Platform:  spec.Platform,
		Content:   res.Content,
		Score:     res.Score,
		Provider:  g.provider.Name(),
		Metadata:  res.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if batchID, err := uuid.Parse(spec.Extra[models.ExtraBatchID]); err == nil {
		rec.BatchID = &batchID
	}

	storeCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := g.records.CreateContentRecord(storeCtx, rec); err != nil {
		return "", err
	}
	return RecordRef(g.baseURL, rec.ID), nil
}

// RecordRef renders the external reference of a stored record.
func RecordRef(baseURL string, id uuid.UUID) string {
	if baseURL == "" {
		return "record:" + id.String()
	}
	return baseURL + "/records/" + id.String()
}

func validateSpec(spec models.JobSpec) error {
	if strings.TrimSpace(spec.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidSpec)
	}
	if strings.TrimSpace(spec.Platform) == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidSpec)
	}
	return nil
}

func buildDraftPrompt(spec models.JobSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s post about %s.\n", spec.Platform, spec.Topic)
	if spec.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", spec.Style)
	}

	keys := make([]string, 0, len(spec.Extra))
	for k := range spec.Extra {
		if k == models.ExtraTenantID || k == models.ExtraBatchID {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, spec.Extra[k])
	}

	if spec.Context != "" {
		b.WriteString("\n")
		b.WriteString(spec.Context)
		b.WriteString("\n")
	}
	return b.String()
}

func buildGradePrompt(spec models.JobSpec, content string) string {
	return fmt.Sprintf(`Grade this %s post about %s.

---
%s
---

Reply with a first line of the form "SCORE: <0-10>" followed by one sentence of feedback.`,
		spec.Platform, spec.Topic, content)
}

// ParseScore extracts the first "SCORE: x" value from text, clamped to 0..10.
func ParseScore(text string) (float64, bool) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return min(max(v, 0), 10), true
}

// classify maps provider failures to queue error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrRateLimited):
		return queue.Exhausted(err)
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrInferenceTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return queue.Transient(err)
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidResponse):
		return queue.Permanent(err)
	default:
		return err
	}
}

var _ models.Executor = (*Generator)(nil)
