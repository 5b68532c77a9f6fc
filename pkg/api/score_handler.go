package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/scoring"
)

// scoreRequest is the evaluation POST body: the four pillar blocks plus
// the optional project context the review rules inspect.
type scoreRequest struct {
	BusinessReason  map[string]int `json:"business_reason"`
	EconomicBenefit map[string]int `json:"economic_benefit"`
	Materiality     map[string]int `json:"materiality"`
	Traceability    map[string]int `json:"traceability"`

	AmountCents      contracts.Cents            `json:"amount_cents,omitempty"`
	Typology         contracts.Typology         `json:"typology,omitempty"`
	EFOSFlag         bool                       `json:"efos_flag,omitempty"`
	RelationshipType contracts.RelationshipType `json:"relationship_type,omitempty"`
}

type scoreResponse struct {
	RiskScoreTotal      int                    `json:"risk_score_total"`
	RiskScorePerPillar  contracts.PillarScores `json:"risk_score_per_pillar"`
	Level               scoring.Level          `json:"level"`
	HumanReviewRequired bool                   `json:"human_review_required"`
	HumanReviewClass    scoring.ReviewClass    `json:"human_review_class"`
}

// ScoreHandler serves POST /v1/risk-score.
type ScoreHandler struct {
	limits scoring.Limits
}

func NewScoreHandler(limits scoring.Limits) *ScoreHandler {
	return &ScoreHandler{limits: limits}
}

func (h *ScoreHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return
	}

	score, err := scoring.Evaluate(&scoring.Evaluation{
		BusinessReason:  req.BusinessReason,
		EconomicBenefit: req.EconomicBenefit,
		Materiality:     req.Materiality,
		Traceability:    req.Traceability,
	})
	if err != nil {
		var invalid *contracts.InvalidEvaluationError
		if errors.As(err, &invalid) {
			WriteBadRequest(w, invalid.Error())
			return
		}
		WriteBadRequest(w, err.Error())
		return
	}

	c := scoring.Classify(score, scoring.Subject{
		AmountCents:      req.AmountCents,
		Typology:         req.Typology,
		EFOSFlag:         req.EFOSFlag,
		RelationshipType: req.RelationshipType,
	}, h.limits)

	writeJSON(w, http.StatusOK, scoreResponse{
		RiskScoreTotal:      c.Score.Total,
		RiskScorePerPillar:  c.Score.PerPillar,
		Level:               c.Level,
		HumanReviewRequired: c.HumanReviewRequired,
		HumanReviewClass:    c.HumanReviewClass,
	})
}
