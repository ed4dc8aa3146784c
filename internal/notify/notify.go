// Package notify holds the progress sinks a batch reports to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	defaultSendTimeout = 4 * time.Second
	jobSnapshotTTL     = 24 * time.Hour
)

// Multi fans every event out to each non-nil sink in order. A sink that
// panics is logged and skipped so the sinks after it still see the event.
type Multi []models.ProgressReporter

func (m Multi) OnStarted(job models.Job) {
	m.each("started", func(r models.ProgressReporter) { r.OnStarted(job) })
}

func (m Multi) OnCompleted(job models.Job, res models.Result) {
	m.each("completed", func(r models.ProgressReporter) { r.OnCompleted(job, res) })
}

func (m Multi) OnFailed(job models.Job, err error) {
	m.each("failed", func(r models.ProgressReporter) { r.OnFailed(job, err) })
}

func (m Multi) OnCheckpoint(stats models.CheckpointStats) {
	m.each("checkpoint", func(r models.ProgressReporter) { r.OnCheckpoint(stats) })
}

func (m Multi) each(event string, fn func(models.ProgressReporter)) {
	for i, r := range m {
		if r != nil {
			callSink(i, event, r, fn)
		}
	}
}

func callSink(i int, event string, r models.ProgressReporter, fn func(models.ProgressReporter)) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in progress sink",
				"error", rec,
				"event", event,
				"sink", fmt.Sprintf("%d:%T", i, r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(r)
}

// Sinks selects which reporters a batch gets. Nil fields are skipped.
type Sinks struct {
	Cache           JobCache
	Jobs            JobWriter
	SlackWebhookURL string
	SendTimeout     time.Duration
	HTTPClient      *http.Client
}

// Factory returns a per-batch reporter builder. Logging is always on.
func Factory(s Sinks) func(batchID uuid.UUID) models.ProgressReporter {
	return func(batchID uuid.UUID) models.ProgressReporter {
		reporters := Multi{NewLogReporter(batchID)}
		if s.Cache != nil {
			reporters = append(reporters, NewCacheReporter(s.Cache, s.SendTimeout))
		}
		if s.Jobs != nil {
			reporters = append(reporters, NewStoreReporter(batchID, s.Jobs, s.SendTimeout))
		}
		if strings.TrimSpace(s.SlackWebhookURL) != "" {
			reporters = append(reporters, NewSlackReporter(batchID, s.SlackWebhookURL, s.HTTPClient, s.SendTimeout))
		}
		return reporters
	}
}

func sendContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

var _ models.ProgressReporter = Multi(nil)
