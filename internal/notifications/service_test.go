package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"rchub/internal/config"
	"rchub/internal/jobs"
	"rchub/internal/notifications"
)

type capture struct {
	mu       sync.Mutex
	count    int
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, *capture) {
	t.Helper()
	captured := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		captured.mu.Lock()
		captured.count++
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		captured.body = string(body)
		captured.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func serviceConfig(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Jobs = true
	cfg.Notifications.Engine = true
	cfg.Notifications.Scheduler = true
	cfg.Notifications.Errors = true
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyEngineFailure(context.Background(), "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestJobNotificationsFormatPayloads(t *testing.T) {
	server, captured := newCaptureServer(t)
	svc := notifications.NewService(serviceConfig(server.URL))

	job := jobs.Job{
		Kind:        "sync",
		Remote:      "gdrive",
		Source:      "gdrive:docs",
		Destination: "/srv/docs",
	}
	if err := svc.NotifyJobCompleted(context.Background(), job); err != nil {
		t.Fatalf("NotifyJobCompleted: %v", err)
	}
	if captured.title != "Rchub - Job Complete" {
		t.Fatalf("title = %q", captured.title)
	}
	if captured.tags != "rchub,job,completed" {
		t.Fatalf("tags = %q", captured.tags)
	}
	if captured.body != "✅ gdrive sync finished: gdrive:docs → /srv/docs" {
		t.Fatalf("body = %q", captured.body)
	}

	job.Error = "quota exceeded"
	if err := svc.NotifyJobFailed(context.Background(), job); err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}
	if captured.priority != "high" {
		t.Fatalf("priority = %q", captured.priority)
	}
	if captured.body != "❌ gdrive sync failed: gdrive:docs → /srv/docs\nquota exceeded" {
		t.Fatalf("body = %q", captured.body)
	}
}

func TestEngineAndSchedulerNotifications(t *testing.T) {
	server, captured := newCaptureServer(t)
	svc := notifications.NewService(serviceConfig(server.URL))

	if err := svc.NotifyBackendFallback(context.Background(), "nas"); err != nil {
		t.Fatalf("NotifyBackendFallback: %v", err)
	}
	if captured.body != "Backend nas unreachable, fell back to the local engine" {
		t.Fatalf("body = %q", captured.body)
	}

	if err := svc.NotifyTaskFailed(context.Background(), "gdrive-sync", "quota exceeded"); err != nil {
		t.Fatalf("NotifyTaskFailed: %v", err)
	}
	if captured.title != "Rchub - Task Failed" {
		t.Fatalf("title = %q", captured.title)
	}
	if captured.body != "Scheduled task failed: gdrive-sync\nquota exceeded" {
		t.Fatalf("body = %q", captured.body)
	}
}

func TestCategoryTogglesSuppressSends(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected send for suppressed category: %s", r.Header.Get("Title"))
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Jobs = false
	cfg.Notifications.Engine = false
	cfg.Notifications.Scheduler = false
	cfg.Notifications.Errors = false
	svc := notifications.NewService(&cfg)

	ctx := context.Background()
	if err := svc.NotifyJobCompleted(ctx, jobs.Job{Kind: "sync"}); err != nil {
		t.Fatalf("NotifyJobCompleted: %v", err)
	}
	if err := svc.NotifyJobFailed(ctx, jobs.Job{Kind: "sync"}); err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}
	if err := svc.NotifyEngineFailure(ctx, "boom"); err != nil {
		t.Fatalf("NotifyEngineFailure: %v", err)
	}
	if err := svc.NotifyBackendFallback(ctx, "nas"); err != nil {
		t.Fatalf("NotifyBackendFallback: %v", err)
	}
	if err := svc.NotifyTaskFailed(ctx, "gdrive-sync", ""); err != nil {
		t.Fatalf("NotifyTaskFailed: %v", err)
	}
	if err := svc.NotifyError(ctx, nil, "refresh"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}
}

func TestNtfyErrorStatusSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	svc := notifications.NewService(serviceConfig(server.URL))
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}
