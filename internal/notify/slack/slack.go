// Package slack delivers alert notifications to Slack via incoming webhooks.
// The notifier subscribes to the event broker and posts a message for every
// alert-notification event.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/notify"
)

const (
	maxDescriptionLen = 3000
	httpTimeout       = 10 * time.Second
	subscribeBuffer   = 64
)

// Notifier posts alert notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Run subscribes to the broker and posts a message for every
// alert-notification event until ctx is canceled.
func (n *Notifier) Run(ctx context.Context, broker *events.Broker) {
	sub := broker.Subscribe(subscribeBuffer)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.C:
			if ev.Name != events.AlertNotification {
				continue
			}
			note, ok := ev.Payload.(*notify.Notification)
			if !ok {
				continue
			}
			if err := n.Send(ctx, note); err != nil {
				n.logger.Error(ctx, err, "slack notification failed",
					"integration", note.Integration)
			}
		}
	}
}

// Send posts one notification to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, note *notify.Notification) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(note)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(note *notify.Notification) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(note.Alert),
			{"type": "divider"},
			fieldsBlock(note),
			{"type": "divider"},
			descriptionBlock(note.Alert),
			{"type": "divider"},
			contextBlock(note.Alert),
		},
	}
}

func headerBlock(a *alert.Alert) map[string]any {
	text := fmt.Sprintf("%s Security Alert: %s", severityEmoji(a.Severity), a.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(note *notify.Notification) map[string]any {
	a := note.Alert
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", a.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %d/10", a.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source:* %s", a.Source),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", a.Category),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Integration:* %s", note.Integration),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Asset:* %s", assetName(a)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func descriptionBlock(a *alert.Alert) map[string]any {
	text := truncate(a.Description, maxDescriptionLen)
	if text == "" {
		text = "_No description available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Description*\n\n%s", text),
		},
	}
}

func contextBlock(a *alert.Alert) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("aegis • %s • %s", a.ExternalID, a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func severityEmoji(severity alert.Severity) string {
	switch severity {
	case alert.SeverityCritical:
		return "\U0001f534" // red circle
	case alert.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case alert.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func assetName(a *alert.Alert) string {
	if a.Asset != nil && a.Asset.Name != "" {
		return a.Asset.Name
	}
	return "unknown"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit-3]) + "..."
}
