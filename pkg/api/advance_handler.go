package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/lifecycle"
)

// ErrProjectNotFound is returned by an Advancer for an unknown project.
var ErrProjectNotFound = errors.New("project not found")

// Advancer performs a phase advance on a stored project. The wiring
// layer resolves the project, builds the lock input and delegates to
// the state machine.
type Advancer interface {
	AdvancePhase(ctx context.Context, projectID string, to contracts.Phase, actor string) (*lifecycle.Result, error)
}

type advanceRequest struct {
	ToPhase string `json:"to_phase"`
	Actor   string `json:"actor"`
}

// lockBlockedResponse is the 403 body frontends render when a hard lock
// holds. Field names are part of the external contract.
type lockBlockedResponse struct {
	Fase               string   `json:"fase"`
	Bloqueos           []string `json:"bloqueos"`
	AccionesRequeridas []string `json:"acciones_requeridas"`
}

// AdvanceHandler serves POST /v1/projects/{id}/advance.
type AdvanceHandler struct {
	advancer Advancer
	logger   *slog.Logger
}

func NewAdvanceHandler(advancer Advancer, logger *slog.Logger) *AdvanceHandler {
	return &AdvanceHandler{advancer: advancer, logger: logger}
}

func (h *AdvanceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		WriteBadRequest(w, "project id is required")
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return
	}
	phase, err := contracts.ParsePhase(req.ToPhase)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	res, err := h.advancer.AdvancePhase(r.Context(), projectID, phase, req.Actor)
	switch {
	case err == nil:
	case errors.Is(err, ErrProjectNotFound):
		WriteNotFound(w, "project "+projectID+" not found")
		return
	case errors.Is(err, contracts.ErrStorageFailure):
		WriteUnavailable(w, "defense file storage is unavailable")
		return
	case errors.Is(err, contracts.ErrTimeout):
		WriteGatewayTimeout(w, "phase advance timed out")
		return
	default:
		WriteBadRequest(w, err.Error())
		return
	}

	if !res.Accepted {
		blocked := lockBlockedResponse{
			Fase:     string(res.Lock.Phase),
			Bloqueos: res.Lock.Blockers,
		}
		for _, a := range res.Actions {
			blocked.AccionesRequeridas = append(blocked.AccionesRequeridas, a.ActionES)
		}
		writeJSON(w, http.StatusForbidden, blocked)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
