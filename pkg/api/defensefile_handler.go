package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tributo-labs/defensor/pkg/defensefile"
)

// ErrExportNotConfigured is returned by an Archivist when no external
// archive bucket is configured.
var ErrExportNotConfigured = errors.New("no export archive configured")

// Archivist builds verified defense-file snapshots and ships them to
// the audit archive.
type Archivist interface {
	DefenseFile(ctx context.Context, projectID string) (*defensefile.Snapshot, error)
	ExportDefenseFile(ctx context.Context, projectID string) (location string, err error)
}

// DefenseFileHandler serves GET /v1/projects/{id}/defense-file and
// POST /v1/projects/{id}/defense-file/export.
type DefenseFileHandler struct {
	archivist Archivist
	logger    *slog.Logger
}

func NewDefenseFileHandler(archivist Archivist, logger *slog.Logger) *DefenseFileHandler {
	return &DefenseFileHandler{archivist: archivist, logger: logger}
}

func (h *DefenseFileHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	snap, err := h.archivist.DefenseFile(r.Context(), projectID)
	if err != nil {
		h.writeError(w, projectID, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *DefenseFileHandler) Export(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	location, err := h.archivist.ExportDefenseFile(r.Context(), projectID)
	if err != nil {
		h.writeError(w, projectID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": location})
}

func (h *DefenseFileHandler) writeError(w http.ResponseWriter, projectID string, err error) {
	var tamper *defensefile.TamperError
	switch {
	case errors.Is(err, ErrProjectNotFound):
		WriteNotFound(w, "project "+projectID+" not found")
	case errors.Is(err, ErrExportNotConfigured):
		WriteUnavailable(w, "defense file export archive is not configured")
	case errors.As(err, &tamper):
		WriteInternal(w, h.logger.With(slog.String("project_id", projectID)), err)
	default:
		WriteUnavailable(w, "defense file storage is unavailable")
	}
}
