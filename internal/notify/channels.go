// Package notify fans alert notifications out to configured channels.
// Delivery is best-effort per channel; a failing channel never blocks alert
// processing or the other channels.
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

	"sentinel-ir/internal/alerting"
	"sentinel-ir/internal/logging"
	"sentinel-ir/internal/schema"
)

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *alerting.Alert) error
}

// WebhookChannel sends alerts via HTTP webhook.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	payload, err := json.Marshal(sanitizeAlert(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SlackChannel sends alerts to Slack.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color": severityColor(alert.Severity),
				"title": fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
				"text":  alert.Description,
				"fields": []map[string]interface{}{
					{"title": "Status", "value": string(alert.Status), "short": true},
					{"title": "Priority", "value": fmt.Sprintf("%d", alert.Priority), "short": true},
					{"title": "Confidence", "value": fmt.Sprintf("%.1f", alert.Confidence), "short": true},
					{"title": "Events", "value": fmt.Sprintf("%d", len(alert.Events)), "short": true},
				},
				"footer": fmt.Sprintf("Alert ID: %s | Rule: %s", alert.ID.String()[:8], alert.RuleID),
				"ts":     alert.CreatedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// sanitizeAlert returns a copy of the alert whose event metadata has
// credential-bearing fields masked. Alerts leave the process here, so the
// outbound payload must never carry raw secrets.
func sanitizeAlert(alert *alerting.Alert) *alerting.Alert {
	clean := *alert
	clean.Events = make([]*schema.Event, len(alert.Events))
	for i, ev := range alert.Events {
		e := *ev
		e.Metadata = logging.MaskMetadata(ev.Metadata)
		clean.Events[i] = &e
	}
	return &clean
}

func severityColor(sev schema.Severity) string {
	switch sev {
	case schema.SeverityCritical:
		return "#FF0000"
	case schema.SeverityHigh:
		return "#FF8C00"
	case schema.SeverityMedium:
		return "#FFD700"
	case schema.SeverityLow:
		return "#32CD32"
	default:
		return "#808080"
	}
}

// LogChannel writes alerts to the structured log. Useful as an always-on
// fallback channel.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel() *LogChannel {
	return &LogChannel{logger: slog.Default().With("component", "notify")}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	l.logger.Warn("security alert",
		"alert_id", alert.ID.String(),
		"title", alert.Title,
		"severity", string(alert.Severity),
		"priority", alert.Priority,
		"confidence", alert.Confidence,
		"events", len(alert.Events))
	return nil
}
