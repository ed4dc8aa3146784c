package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const maxErrorBodyBytes = 1024

// SlackReporter posts checkpoints and permanent failures to an incoming webhook.
// Starts, completions and retryable failures are not sent.
type SlackReporter struct {
	batchID uuid.UUID
	url     string
	client  *http.Client
	timeout time.Duration
}

func NewSlackReporter(batchID uuid.UUID, webhookURL string, client *http.Client, timeout time.Duration) *SlackReporter {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackReporter{
		batchID: batchID,
		url:     strings.TrimSpace(webhookURL),
		client:  client,
		timeout: timeout,
	}
}

func (r *SlackReporter) OnStarted(models.Job) {}

func (r *SlackReporter) OnCompleted(models.Job, models.Result) {}

func (r *SlackReporter) OnFailed(job models.Job, err error) {
	if job.Status != models.JobStatusFailed {
		return
	}
	r.send(FailureText(r.batchID, job, err))
}

func (r *SlackReporter) OnCheckpoint(stats models.CheckpointStats) {
	r.send(CheckpointText(stats))
}

func (r *SlackReporter) send(text string) {
	ctx, cancel := sendContext(r.timeout)
	defer cancel()
	if err := r.post(ctx, text); err != nil {
		slog.Warn("slack notification failed", "batch_id", r.batchID, "error", err)
	}
}

func (r *SlackReporter) post(ctx context.Context, text string) error {
	if r.url == "" {
		return fmt.Errorf("slack endpoint is empty")
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("slack request failed with status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// CheckpointText renders the Slack message for a checkpoint.
func CheckpointText(stats models.CheckpointStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*CopyForge checkpoint* batch `%s`\n", stats.BatchID)
	fmt.Fprintf(&b, "Processed %d of %d, %d failed, %d pending, %d replaced\n",
		stats.Processed, stats.TotalPlanned, stats.Failed,
		stats.Conversation.Pending, stats.Conversation.Replaced)
	if stats.Learning.Count > 0 {
		fmt.Fprintf(&b, "Average score %.1f over %d results", stats.Learning.AvgScore, stats.Learning.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FailureText renders the Slack message for a permanently failed job.
func FailureText(batchID uuid.UUID, job models.Job, err error) string {
	reason := job.Error
	if reason == "" && err != nil {
		reason = err.Error()
	}
	return fmt.Sprintf("*CopyForge job failed* batch `%s`\nTopic: %s (%s)\nAttempts: %d, kind: %s\n%s",
		batchID, job.Spec.Topic, job.Spec.Platform, job.Attempts, job.ErrorKind, reason)
}

var _ models.ProgressReporter = (*SlackReporter)(nil)
