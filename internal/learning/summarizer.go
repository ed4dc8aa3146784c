package learning

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/copyforge/pkg/models"
)

// Summarizer condenses a window of learning lines into one short paragraph
// no longer than maxBytes. Implementations may call out to an LLM.
type Summarizer interface {
	Summarize(ctx context.Context, lines []string, maxBytes int) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, lines []string, maxBytes int) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, lines []string, maxBytes int) (string, error) {
	return f(ctx, lines, maxBytes)
}

// DigestSummarizer keeps the leading fragment of every line, sharing the
// byte budget evenly. It never fails.
type DigestSummarizer struct{}

func (DigestSummarizer) Summarize(_ context.Context, lines []string, maxBytes int) (string, error) {
	if len(lines) == 0 {
		return "", nil
	}
	// Room for the "; " separators.
	per := (maxBytes - 2*(len(lines)-1)) / len(lines)
	if per < 8 {
		per = 8
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		parts = append(parts, truncateString(l, per))
	}
	return truncateString(strings.Join(parts, "; "), maxBytes), nil
}

func renderRaw(s models.JobSummary) string {
	line := fmt.Sprintf("Job %d [%s] score %.1f: %s", s.JobNum, s.Platform, s.Score, s.Excerpt)
	if s.Ref != "" {
		line += " (" + s.Ref + ")"
	}
	return line
}

func renderCompacted(c models.CompactedLearning) string {
	if c.FromJob == c.ToJob {
		return fmt.Sprintf("Job %d: %s", c.FromJob, c.SummaryText)
	}
	return fmt.Sprintf("Jobs %d-%d: %s", c.FromJob, c.ToJob, c.SummaryText)
}

// truncateString cuts s to at most maxBytes without splitting a rune.
func truncateString(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// keepTail cuts s to at most maxBytes keeping the end, starting at a line
// boundary where one exists.
func keepTail(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := len(s) - maxBytes
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	tail := s[cut:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		return tail[i+1:]
	}
	return tail
}
