package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediaforge/internal/config"
)

const userAgent = "MediaForge-Go/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventJobFailed     Event = "job_failed"
	EventJobsLost      Event = "jobs_lost"
	EventEngineStopped Event = "engine_stopped"
	EventTest          Event = "test"
)

// Payload carries the event fields used to build the message.
type Payload map[string]string

// Service publishes engine events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when a topic is
// configured and a no-op otherwise.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobFailed:     cfg.Notifications.JobFailures,
			EventJobsLost:      cfg.Notifications.JobFailures,
			EventEngineStopped: cfg.Notifications.EngineErrors,
			EventTest:          true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	switch event {
	case EventJobFailed:
		target := p["target"]
		if target == "" {
			target = "unknown target"
		}
		body := fmt.Sprintf("%s job failed for %s", fallback(p["jobType"], "Unknown"), target)
		if reason := strings.TrimSpace(p["error"]); reason != "" {
			body += "\n" + reason
		}
		return message{
			title:    "MediaForge - Job Failed",
			body:     body,
			tags:     []string{"mediaforge", "job", "failed"},
			priority: "high",
		}, true
	case EventJobsLost:
		return message{
			title:    "MediaForge - Jobs Lost",
			body:     fmt.Sprintf("%s job(s) failed after %s lost-worker retries", fallback(p["count"], "0"), fallback(p["retryLimit"], "?")),
			tags:     []string{"mediaforge", "sweeper", "lost"},
			priority: "high",
		}, true
	case EventEngineStopped:
		return message{
			title:    "MediaForge - Engine Stopped",
			body:     "Job store failure: " + fallback(p["error"], "unknown"),
			tags:     []string{"mediaforge", "error", "alert"},
			priority: "urgent",
		}, true
	case EventTest:
		return message{
			title:    "MediaForge - Test",
			body:     "Notification system test",
			tags:     []string{"mediaforge", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
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
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
