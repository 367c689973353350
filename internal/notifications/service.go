package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/ledger"
)

const userAgent = "storyreel/0.1.0"

// Service defines the notification surface exposed to the pipeline.
type Service interface {
	JobFinished(ctx context.Context, job ledger.Job, failedIndices []int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		onSuccess: cfg.NotifyOnSuccess,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	onSuccess bool
}

func (n *ntfyService) JobFinished(ctx context.Context, job ledger.Job, failedIndices []int) error {
	if job.Status == ledger.JobCompleted && !n.onSuccess {
		return nil
	}
	data, ok := jobPayload(job, failedIndices)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "storyreel - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"storyreel", "test"},
		priority: "low",
	})
}

// jobPayload renders the alert for a terminal job. ok is false for jobs
// that have not finished.
func jobPayload(job ledger.Job, failedIndices []int) (payload, bool) {
	name := strings.TrimSpace(job.Title)
	if name == "" {
		name = job.ID
	}
	costLine := fmt.Sprintf("Cost: $%.2f (estimated $%.2f)", job.CostActual, job.CostEstimated)
	if job.CostVarianceFlagged {
		costLine += " ⚠️ variance"
	}

	switch job.Status {
	case ledger.JobCompleted:
		return payload{
			title:   "storyreel - Complete",
			message: fmt.Sprintf("✅ %s is ready\n%s", name, costLine),
			tags:    []string{"storyreel", "job", "completed"},
		}, true
	case ledger.JobPartiallyCompleted:
		return payload{
			title:   "storyreel - Partially Complete",
			message: fmt.Sprintf("⚠️ %s delivered without pair(s) %s\n%s", name, joinInts(failedIndices), costLine),
			tags:    []string{"storyreel", "job", "partial"},
		}, true
	case ledger.JobFailed:
		reason := strings.TrimSpace(job.ErrorMessage)
		if reason == "" {
			reason = "unknown"
		}
		return payload{
			title:    "storyreel - Failed",
			message:  fmt.Sprintf("❌ %s failed: %s\n%s", name, reason, costLine),
			tags:     []string{"storyreel", "job", "failed"},
			priority: "high",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

type noopService struct{}

func (noopService) JobFinished(context.Context, ledger.Job, []int) error { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }
