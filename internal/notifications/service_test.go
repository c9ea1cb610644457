package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"reelswap/internal/config"
	"reelswap/internal/notifications"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
	click    string
}

func newTopic(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			click:    r.Header.Get("Click"),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"job_id": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestPublishFormatsEvents(t *testing.T) {
	server, got := newTopic(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobFinished = true
	cfg.Notifications.JobFailed = true
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.Publish(ctx, notifications.EventJobFinished, notifications.Payload{
		"job_id":    "0123456789abcdef",
		"final_url": "https://cdn.example/jobs/0123/final.mp4",
		"clips":     3,
		"replaced":  2,
	}); err != nil {
		t.Fatalf("Publish finished: %v", err)
	}
	if err := svc.Publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"job_id": "0123456789abcdef",
		"error":  errors.New("split: no video stream"),
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(*got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(*got))
	}
	finished := (*got)[0]
	if finished.title != "reelswap - Job Finished" || finished.tags != "reelswap,job,finished" {
		t.Fatalf("unexpected finished headers: %+v", finished)
	}
	if finished.body != "Job 01234567 finished: 2 of 3 clips replaced\nhttps://cdn.example/jobs/0123/final.mp4" {
		t.Fatalf("unexpected finished body %q", finished.body)
	}
	if finished.click != "https://cdn.example/jobs/0123/final.mp4" {
		t.Fatalf("expected click URL, got %q", finished.click)
	}
	failed := (*got)[1]
	if failed.body != "Job 01234567 failed: split: no video stream" || failed.priority != "high" {
		t.Fatalf("unexpected failed message: %+v", failed)
	}
}

func TestDisabledEventsAreSkipped(t *testing.T) {
	server, got := newTopic(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobFinished = false
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobFinished, notifications.Payload{"job_id": "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := svc.Publish(context.Background(), notifications.Event("unknown"), nil); err != nil {
		t.Fatalf("Publish unknown: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("expected no requests, got %d", len(*got))
	}
}

func TestPublishReportsHTTPErrors(t *testing.T) {
	server, _ := newTopic(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
