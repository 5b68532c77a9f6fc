package api

import (
	"log/slog"
	"net/http"

	"github.com/tributo-labs/defensor/pkg/scoring"
	"github.com/tributo-labs/defensor/pkg/stream"
)

// NewMux wires the engine's HTTP surface.
func NewMux(limits scoring.Limits, hub *stream.Hub, advancer Advancer, archivist Archivist, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/risk-score", NewScoreHandler(limits))
	mux.Handle("GET /v1/projects/{id}/events", NewEventsHandler(hub))
	mux.Handle("POST /v1/projects/{id}/advance", NewAdvanceHandler(advancer, logger))
	files := NewDefenseFileHandler(archivist, logger)
	mux.HandleFunc("GET /v1/projects/{id}/defense-file", files.Snapshot)
	mux.HandleFunc("POST /v1/projects/{id}/defense-file/export", files.Export)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}
