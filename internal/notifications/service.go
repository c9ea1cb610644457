package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelswap/internal/config"
)

const userAgent = "reelswap/0.1"

// Event names a lifecycle milestone.
type Event string

const (
	EventJobFinished Event = "job_finished"
	EventJobFailed   Event = "job_failed"
	EventTest        Event = "test"
)

// Payload carries event fields: job_id, final_url, error, clips, replaced.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op without a topic.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobFinished: cfg.Notifications.JobFinished,
			EventJobFailed:   cfg.Notifications.JobFailed,
			EventTest:        true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
	click    string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	jobID := shortID(payload.string("job_id"))
	switch event {
	case EventJobFinished:
		body := fmt.Sprintf("Job %s finished", jobID)
		if clips := payload.int("clips"); clips > 0 {
			body = fmt.Sprintf("%s: %d of %d clips replaced", body, payload.int("replaced"), clips)
		}
		url := payload.string("final_url")
		if url != "" {
			body += "\n" + url
		}
		return message{
			title: "reelswap - Job Finished",
			body:  body,
			tags:  []string{"reelswap", "job", "finished"},
			click: url,
		}, true
	case EventJobFailed:
		body := fmt.Sprintf("Job %s failed", jobID)
		if reason := payload.string("error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "reelswap - Job Failed",
			body:     body,
			tags:     []string{"reelswap", "job", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "reelswap - Test",
			body:     "Notification system test",
			tags:     []string{"reelswap", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}
	if msg.click != "" {
		req.Header.Set("Click", msg.click)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) string(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) int(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
