package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rchub/internal/config"
	"rchub/internal/jobs"
)

const userAgent = "Rchub-Go/0.1.0"

// Service defines the notification surface exposed to daemon components.
// Per-category toggles in the configuration decide which calls actually send.
type Service interface {
	NotifyJobCompleted(ctx context.Context, job jobs.Job) error
	NotifyJobFailed(ctx context.Context, job jobs.Job) error
	NotifyEngineFailure(ctx context.Context, message string) error
	NotifyBackendFallback(ctx context.Context, backend string) error
	NotifyTaskFailed(ctx context.Context, taskID, errMsg string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		jobs:      cfg.Notifications.Jobs,
		engine:    cfg.Notifications.Engine,
		scheduler: cfg.Notifications.Scheduler,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	jobs      bool
	engine    bool
	scheduler bool
	errors    bool
}

func jobLabel(job jobs.Job) string {
	label := strings.TrimSpace(job.Kind)
	if job.Remote != "" {
		label = fmt.Sprintf("%s %s", job.Remote, label)
	}
	return label
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job jobs.Job) error {
	if !n.jobs {
		return nil
	}
	data := payload{
		title:   "Rchub - Job Complete",
		message: fmt.Sprintf("✅ %s finished: %s → %s", jobLabel(job), job.Source, job.Destination),
		tags:    []string{"rchub", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job jobs.Job) error {
	if !n.jobs {
		return nil
	}
	message := fmt.Sprintf("❌ %s failed: %s → %s", jobLabel(job), job.Source, job.Destination)
	if errMsg := strings.TrimSpace(job.Error); errMsg != "" {
		message = fmt.Sprintf("%s\n%s", message, errMsg)
	}
	data := payload{
		title:    "Rchub - Job Failed",
		message:  message,
		tags:     []string{"rchub", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyEngineFailure(ctx context.Context, message string) error {
	if !n.engine {
		return nil
	}
	data := payload{
		title:    "Rchub - Engine Failure",
		message:  "Engine problem: " + strings.TrimSpace(message),
		tags:     []string{"rchub", "engine", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBackendFallback(ctx context.Context, backend string) error {
	if !n.engine {
		return nil
	}
	backend = strings.TrimSpace(backend)
	data := payload{
		title:    "Rchub - Backend Fallback",
		message:  fmt.Sprintf("Backend %s unreachable, fell back to the local engine", backend),
		tags:     []string{"rchub", "backend", "fallback"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, taskID, errMsg string) error {
	if !n.scheduler {
		return nil
	}
	message := fmt.Sprintf("Scheduled task failed: %s", strings.TrimSpace(taskID))
	if errMsg = strings.TrimSpace(errMsg); errMsg != "" {
		message = fmt.Sprintf("%s\n%s", message, errMsg)
	}
	data := payload{
		title:   "Rchub - Task Failed",
		message: message,
		tags:    []string{"rchub", "scheduler", "failed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Rchub - Error",
		message:  builder.String(),
		tags:     []string{"rchub", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Rchub - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"rchub", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, jobs.Job) error      { return nil }
func (noopService) NotifyJobFailed(context.Context, jobs.Job) error         { return nil }
func (noopService) NotifyEngineFailure(context.Context, string) error       { return nil }
func (noopService) NotifyBackendFallback(context.Context, string) error     { return nil }
func (noopService) NotifyTaskFailed(context.Context, string, string) error  { return nil }
func (noopService) NotifyError(context.Context, error, string) error        { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
