// Package scoring implements the twelve-criteria objective risk score
// and its classification into review and decision classes.
//
// Each of the four pillars (business reason, economic benefit,
// materiality, traceability) carries three sub-criteria with discrete
// allowed values. Sub-scores outside their allowed set fail the
// evaluation — they are never rounded.
package scoring

import (
	"fmt"
	"sort"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Pillar names, as they appear on the wire.
const (
	PillarBusinessReason  = "business_reason"
	PillarEconomicBenefit = "economic_benefit"
	PillarMateriality     = "materiality"
	PillarTraceability    = "traceability"
)

// criterion is one scored sub-criterion and its discrete allowed values.
type criterion struct {
	name    string
	allowed []int
}

// criteria is the full scoring matrix. Order within a pillar is the
// canonical reporting order.
var criteria = map[string][]criterion{
	PillarBusinessReason: {
		{"link_to_core_activity", []int{0, 3, 5, 10}},
		{"economic_objective", []int{0, 5, 10}},
		{"amount_coherence", []int{0, 3, 5, 10}},
	},
	PillarEconomicBenefit: {
		{"benefit_identification", []int{0, 5, 10}},
		{"roi_model", []int{0, 5, 10}},
		{"time_horizon", []int{0, 3, 5}},
	},
	PillarMateriality: {
		{"formalization", []int{0, 3, 5}},
		{"execution_evidence", []int{0, 5, 10}},
		{"document_coherence", []int{0, 5, 10}},
	},
	PillarTraceability: {
		{"preservation", []int{0, 5, 10}},
		{"integrity", []int{0, 5, 10}},
		{"timeline", []int{0, 3, 4, 5}},
	},
}

// pillarOrder is the canonical pillar iteration order.
var pillarOrder = []string{PillarBusinessReason, PillarEconomicBenefit, PillarMateriality, PillarTraceability}

const pillarCap = 25

// Evaluation is the scoring input: per pillar, a map of sub-criterion
// name to integer score.
type Evaluation struct {
	BusinessReason  map[string]int `json:"business_reason"`
	EconomicBenefit map[string]int `json:"economic_benefit"`
	Materiality     map[string]int `json:"materiality"`
	Traceability    map[string]int `json:"traceability"`
}

func (e *Evaluation) pillar(name string) map[string]int {
	switch name {
	case PillarBusinessReason:
		return e.BusinessReason
	case PillarEconomicBenefit:
		return e.EconomicBenefit
	case PillarMateriality:
		return e.Materiality
	case PillarTraceability:
		return e.Traceability
	}
	return nil
}

// Score is the computed result: total plus per-pillar breakdown, each
// pillar clamped to 0..25 and the total to 0..100.
type Score struct {
	Total     int                    `json:"risk_score_total"`
	PerPillar contracts.PillarScores `json:"risk_score_per_pillar"`
}

// Evaluate validates every sub-score against its allowed set and
// computes the clamped score.
func Evaluate(e *Evaluation) (Score, error) {
	var score Score
	sums := make(map[string]int, len(pillarOrder))

	for _, pillarName := range pillarOrder {
		block := e.pillar(pillarName)
		if block == nil {
			return Score{}, &contracts.InvalidEvaluationError{Field: pillarName, Value: 0, Allowed: nil}
		}

		sum := 0
		for _, c := range criteria[pillarName] {
			value, ok := block[c.name]
			field := pillarName + "." + c.name
			if !ok {
				return Score{}, &contracts.InvalidEvaluationError{Field: field, Value: 0, Allowed: c.allowed}
			}
			if !allowedValue(value, c.allowed) {
				return Score{}, &contracts.InvalidEvaluationError{Field: field, Value: value, Allowed: c.allowed}
			}
			sum += value
		}
		if extra := unknownFields(block, criteria[pillarName]); extra != "" {
			return Score{}, fmt.Errorf("%w: unknown sub-criterion %s.%s", contracts.ErrInvalidEvaluation, pillarName, extra)
		}
		sums[pillarName] = clamp(sum, 0, pillarCap)
	}

	score.PerPillar = contracts.PillarScores{
		BusinessReason:  sums[PillarBusinessReason],
		EconomicBenefit: sums[PillarEconomicBenefit],
		Materiality:     sums[PillarMateriality],
		Traceability:    sums[PillarTraceability],
	}
	score.Total = clamp(score.PerPillar.Total(), 0, 100)
	return score, nil
}

func allowedValue(v int, allowed []int) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func unknownFields(block map[string]int, known []criterion) string {
	names := make(map[string]bool, len(known))
	for _, c := range known {
		names[c.name] = true
	}
	var extra []string
	for k := range block {
		if !names[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	if len(extra) == 0 {
		return ""
	}
	return extra[0]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
