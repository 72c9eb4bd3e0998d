package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/azmonbridge/azmonbridge/agent/internal/config"
)

// State is the health state an Event reports.
type State string

const (
	Unhealthy State = "unhealthy"
	Recovered State = "recovered"
)

// Event is one health transition.
type Event struct {
	State               State     `json:"state"`
	Target              string    `json:"target,omitempty"`
	Stage               string    `json:"stage,omitempty"`
	ErrorKind           string    `json:"error_kind,omitempty"`
	Message             string    `json:"message"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	At                  time.Time `json:"at"`
}

// Notifier delivers Events to the configured webhooks.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
}

// New returns a Notifier. A Notifier with no webhooks is a no-op.
func New(webhooks []config.WebhookConfig) *Notifier {
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether any webhook is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.webhooks) > 0 }

// Notify sends ev to every webhook with a resolvable URL. Errors are logged
// and returned joined.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if n == nil {
		return nil
	}
	var errs []error
	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(ctx, url, ev)
		case "teams":
			err = n.sendTeams(ctx, url, ev)
		case "http":
			err = n.sendHTTP(ctx, url, ev)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed", "type", wh.Type, "state", ev.State, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", wh.Type, err))
		} else {
			slog.Debug("notify: webhook delivered", "type", wh.Type, "state", ev.State)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) sendSlack(ctx context.Context, url string, ev Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", stateLabel(ev.State), summary(ev)),
	})
	return n.post(ctx, url, body)
}

func (n *Notifier) sendTeams(ctx context.Context, url string, ev Event) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": stateColor(ev.State),
		"summary":    "nginx metrics agent " + string(ev.State),
		"title":      fmt.Sprintf("nginx metrics agent %s", ev.State),
		"text":       summary(ev),
	}
	body, _ := json.Marshal(payload)
	return n.post(ctx, url, body)
}

func (n *Notifier) sendHTTP(ctx context.Context, url string, ev Event) error {
	body, _ := json.Marshal(map[string]interface{}{"event": ev})
	return n.post(ctx, url, body)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func summary(ev Event) string {
	if ev.State == Recovered {
		return fmt.Sprintf("delivery to %s recovered: %s", orUnknown(ev.Target), ev.Message)
	}
	return fmt.Sprintf("delivery to %s failing at %s (%d consecutive failures): %s",
		orUnknown(ev.Target), ev.Stage, ev.ConsecutiveFailures, ev.Message)
}

func orUnknown(s string) string {
	if s == "" {
		return "unresolved target"
	}
	return s
}

func stateLabel(s State) string {
	if s == Recovered {
		return "[RECOVERED]"
	}
	return "[UNHEALTHY]"
}

func stateColor(s State) string {
	if s == Recovered {
		return "2EB886"
	}
	return "FF4F6A"
}
