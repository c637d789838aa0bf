package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
)

const userAgent = "YanheKt-Go/0.1.0"

// Event names a notification-worthy milestone.
type Event string

const (
	EventIngestCompleted  Event = "ingest_completed"
	EventIngestFailed     Event = "ingest_failed"
	EventInsightCompleted Event = "insight_completed"
	EventInsightFailed    Event = "insight_failed"
	EventTest             Event = "test"
)

// Payload carries event fields such as objectId, title or error.
type Payload map[string]any

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
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
		settings: cfg.Notifications,
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
	settings config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := buildMessage(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventIngestCompleted:
		return n.settings.Ingest
	case EventInsightCompleted:
		return n.settings.Insights
	case EventIngestFailed, EventInsightFailed:
		return n.settings.Errors
	case EventTest:
		return true
	default:
		return false
	}
}

func buildMessage(event Event, payload Payload) (message, bool) {
	label := describe(payload)
	switch event {
	case EventIngestCompleted:
		body := fmt.Sprintf("📼 Upload merged: %s", label)
		if url := payload.text("downloadUrl"); url != "" {
			body += "\nDownload: " + url
		}
		return message{
			title: "YanheKt - Upload Ready",
			body:  body,
			tags:  []string{"yanhekt", "ingest", "completed"},
		}, true
	case EventIngestFailed:
		return message{
			title:    "YanheKt - Upload Failed",
			body:     fmt.Sprintf("❌ Merge failed for %s: %s", label, fallback(payload.text("error"), "unknown")),
			tags:     []string{"yanhekt", "ingest", "error"},
			priority: "high",
		}, true
	case EventInsightCompleted:
		return message{
			title: "YanheKt - Insight Ready",
			body:  fmt.Sprintf("✅ Transcript and slides ready: %s", label),
			tags:  []string{"yanhekt", "insight", "completed"},
		}, true
	case EventInsightFailed:
		body := fmt.Sprintf("❌ Insight failed for %s", label)
		if stage := payload.text("stage"); stage != "" {
			body += " during " + stage
		}
		body += ": " + fallback(payload.text("error"), "unknown")
		return message{
			title:    "YanheKt - Insight Failed",
			body:     body,
			tags:     []string{"yanhekt", "insight", "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "YanheKt - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"yanhekt", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func describe(payload Payload) string {
	title := payload.text("title")
	id := payload.text("objectId")
	switch {
	case title != "" && id != "":
		return fmt.Sprintf("%s (%s)", title, id)
	case title != "":
		return title
	case id != "":
		return id
	default:
		return "unknown"
	}
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

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
