package alertapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/store/memstore"
)

func TestEventsEndpoint_Stream(t *testing.T) {
	t.Parallel()

	broker := events.NewBroker(nil, nil)
	api := New(nil, memstore.New(), nil, &stubSyncService{}, broker)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	// The subscription registers before the 200 reaches us only after the
	// handler flushes; wait for the broker to see it before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	broker.Publish(context.Background(), events.AlertCreated, map[string]string{"external_id": "tenable_1"})

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	if len(lines) < 3 {
		t.Fatalf("frame = %v, want event/id/data lines", lines)
	}
	if lines[0] != "event: "+events.AlertCreated {
		t.Errorf("event line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "id: ") {
		t.Errorf("id line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "data: ") || !strings.Contains(lines[2], "tenable_1") {
		t.Errorf("data line = %q", lines[2])
	}

	cancel()
}
