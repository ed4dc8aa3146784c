// Package learning accumulates per-job summaries across a sequential batch
// and compacts them so the context fed to later jobs stays bounded.
package learning

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	DefaultCompactEvery    = 10
	DefaultMaxSummaryBytes = 600
	DefaultMaxContextBytes = 4000
	DefaultMaxExcerptBytes = 280
	recentScoreWindow      = 5
)

// Config bounds the manager. Zero values fall back to the defaults.
type Config struct {
	CompactEvery    int
	MaxSummaryBytes int
	MaxContextBytes int
	MaxExcerptBytes int
}

func (c Config) withDefaults() Config {
	if c.CompactEvery <= 0 {
		c.CompactEvery = DefaultCompactEvery
	}
	if c.MaxSummaryBytes <= 0 {
		c.MaxSummaryBytes = DefaultMaxSummaryBytes
	}
	if c.MaxContextBytes <= 0 {
		c.MaxContextBytes = DefaultMaxContextBytes
	}
	if c.MaxExcerptBytes <= 0 {
		c.MaxExcerptBytes = DefaultMaxExcerptBytes
	}
	return c
}

// Manager holds compacted learnings followed by fewer than CompactEvery raw
// summaries. Compacted entries are merged once they reach CompactEvery, so
// at most 2*CompactEvery entries are retained however long the batch runs.
type Manager struct {
	cfg        Config
	summarizer Summarizer
	fallback   Summarizer

	// addMu serializes writers so a slow summarizer does not hold mu.
	addMu sync.Mutex

	mu        sync.RWMutex
	compacted []models.CompactedLearning
	raw       []models.JobSummary
	count     int
	scoreSum  float64
	recent    []float64
}

// NewManager returns a manager that compacts with s, falling back to
// DigestSummarizer when s is nil or fails.
func NewManager(s Summarizer, cfg Config) *Manager {
	fallback := DigestSummarizer{}
	if s == nil {
		s = fallback
	}
	return &Manager{
		cfg:        cfg.withDefaults(),
		summarizer: s,
		fallback:   fallback,
	}
}

// AddResult records one job summary and compacts when the raw window is full.
func (m *Manager) AddResult(ctx context.Context, summary models.JobSummary) {
	m.addMu.Lock()
	defer m.addMu.Unlock()

	summary.Excerpt = truncateString(strings.TrimSpace(summary.Excerpt), m.cfg.MaxExcerptBytes)

	m.mu.Lock()
	m.raw = append(m.raw, summary)
	m.count++
	m.scoreSum += summary.Score
	m.recent = append(m.recent, summary.Score)
	if len(m.recent) > recentScoreWindow {
		m.recent = m.recent[len(m.recent)-recentScoreWindow:]
	}
	full := len(m.raw) >= m.cfg.CompactEvery
	window := append([]models.JobSummary(nil), m.raw...)
	m.mu.Unlock()

	if !full {
		return
	}

	lines := make([]string, len(window))
	for i, s := range window {
		lines[i] = renderRaw(s)
	}
	entry := models.CompactedLearning{
		SummaryText: m.summarize(ctx, lines),
		FromJob:     window[0].JobNum,
		ToJob:       window[len(window)-1].JobNum,
	}

	m.mu.Lock()
	m.raw = m.raw[len(window):]
	m.compacted = append(m.compacted, entry)
	merge := len(m.compacted) >= m.cfg.CompactEvery
	older := append([]models.CompactedLearning(nil), m.compacted...)
	m.mu.Unlock()

	if merge {
		m.mergeCompacted(ctx, older)
	}
}

func (m *Manager) mergeCompacted(ctx context.Context, entries []models.CompactedLearning) {
	lines := make([]string, len(entries))
	for i, c := range entries {
		lines[i] = renderCompacted(c)
	}
	merged := models.CompactedLearning{
		SummaryText: m.summarize(ctx, lines),
		FromJob:     entries[0].FromJob,
		ToJob:       entries[len(entries)-1].ToJob,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rest := m.compacted[len(entries):]
	m.compacted = append([]models.CompactedLearning{merged}, rest...)
	slog.Debug("learning history merged",
		"from_job", merged.FromJob,
		"to_job", merged.ToJob,
	)
}

func (m *Manager) summarize(ctx context.Context, lines []string) string {
	text, err := m.summarizer.Summarize(ctx, lines, m.cfg.MaxSummaryBytes)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			slog.Warn("summarizer failed, using digest", "error", err)
		}
		text, _ = m.fallback.Summarize(ctx, lines, m.cfg.MaxSummaryBytes)
	}
	return truncateString(strings.TrimSpace(text), m.cfg.MaxSummaryBytes)
}

// Context renders retained learnings, oldest first, clipped to
// MaxContextBytes keeping the newest material.
func (m *Manager) Context() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lines := make([]string, 0, len(m.compacted)+len(m.raw))
	for _, c := range m.compacted {
		lines = append(lines, renderCompacted(c))
	}
	for _, s := range m.raw {
		lines = append(lines, renderRaw(s))
	}
	return keepTail(strings.Join(lines, "\n"), m.cfg.MaxContextBytes)
}

// Stats returns score statistics over every result added so far.
func (m *Manager) Stats() models.LearningStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := models.LearningStats{
		Count:        m.count,
		RecentScores: append([]float64{}, m.recent...),
	}
	if m.count > 0 {
		st.AvgScore = m.scoreSum / float64(m.count)
	}
	return st
}

// Entries returns the retained history: compacted learnings then raw summaries.
func (m *Manager) Entries() []models.LearningEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.LearningEntry, 0, len(m.compacted)+len(m.raw))
	for i := range m.compacted {
		c := m.compacted[i]
		out = append(out, models.LearningEntry{Compacted: &c})
	}
	for i := range m.raw {
		s := m.raw[i]
		out = append(out, models.LearningEntry{Raw: &s})
	}
	return out
}
