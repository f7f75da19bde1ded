package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/notify"
)

func testNotification() *notify.Notification {
	return &notify.Notification{
		Alert: &alert.Alert{
			ExternalID:  "tenable_1",
			Source:      alert.SourceTenable,
			Title:       "SSL certificate expired",
			Description: "The certificate on web-1 expired yesterday.",
			Severity:    alert.SeverityCritical,
			Priority:    10,
			Category:    alert.CategoryVulnerability,
			Asset:       &alert.Asset{Name: "web-1"},
			CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Integration: "tenable-prod",
		Severity:    alert.SeverityCritical,
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	if err := n.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var msg struct {
		Blocks []json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("webhook body not JSON: %v", err)
	}
	if len(msg.Blocks) == 0 {
		t.Fatal("message has no blocks")
	}

	payload := string(body)
	for _, want := range []string{
		"Security Alert: SSL certificate expired",
		"*Severity:* critical",
		"*Priority:* 10/10",
		"*Source:* tenable",
		"*Integration:* tenable-prod",
		"*Asset:* web-1",
		"The certificate on web-1 expired yesterday.",
		"tenable_1",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("webhook payload missing %q", want)
		}
	}
}

func TestSend_NoWebhook(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Send(context.Background(), testNotification()); err != nil {
		t.Errorf("Send() with empty webhook should be a no-op, got %v", err)
	}
}

func TestSend_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	err := n.Send(context.Background(), testNotification())
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("Send() err = %v, want webhook status error", err)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	received := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	broker := events.NewBroker(nil, nil)
	n := New(srv.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		n.Run(ctx, broker)
		close(done)
	}()

	// Wait for the notifier's subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notifier never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Non-notification events and foreign payloads are ignored.
	broker.Publish(ctx, events.AlertCreated, testNotification().Alert)
	broker.Publish(ctx, events.AlertNotification, "not a notification")
	broker.Publish(ctx, events.AlertNotification, testNotification())

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called")
	}
	select {
	case <-received:
		t.Fatal("webhook called for an ignored event")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", maxDescriptionLen+100)
	got := truncate(long, maxDescriptionLen)
	if len(got) > maxDescriptionLen {
		t.Errorf("len = %d, want <= %d", len(got), maxDescriptionLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated text should end with ellipsis")
	}
	if truncate("short", maxDescriptionLen) != "short" {
		t.Error("short text should pass through")
	}
}

func TestSeverityEmoji(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, s := range []alert.Severity{
		alert.SeverityCritical, alert.SeverityHigh, alert.SeverityMedium, alert.SeverityLow,
	} {
		seen[severityEmoji(s)] = true
	}
	if len(seen) != 4 {
		t.Errorf("severity emojis not distinct: %v", seen)
	}
}
