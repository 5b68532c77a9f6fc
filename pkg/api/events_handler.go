package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tributo-labs/defensor/pkg/stream"
)

// EventsHandler serves GET /v1/projects/{id}/events as an SSE feed over
// the stream hub. Each event is forwarded as `event: <status>` with the
// JSON record in the data line; pings keep idle connections alive.
type EventsHandler struct {
	hub *stream.Hub
}

func NewEventsHandler(hub *stream.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		WriteBadRequest(w, "project id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteBadRequest(w, "streaming is not supported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe(projectID)
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Status, payload)
			flusher.Flush()
		}
	}
}
