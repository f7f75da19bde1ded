package alertapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	sseBuffer    = 64
	sseHeartbeat = 30 * time.Second
)

// handleEvents streams domain events as server-sent events. The stream is
// best-effort: events published while the client is slow are dropped by the
// broker, not queued.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		http.Error(w, `{"error":"event stream unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := a.broker.Subscribe(sseBuffer)
	defer sub.Close()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev := <-sub.C:
			data, err := json.Marshal(ev)
			if err != nil {
				a.logger.Warn(ctx, "unencodable event", "event", ev.Name, "error", err.Error())
				continue
			}
			fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", ev.Name, ev.ID, data)
			flusher.Flush()
		}
	}
}
