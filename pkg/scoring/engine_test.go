package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

func evalFromScores(s [12]int) *Evaluation {
	return &Evaluation{
		BusinessReason: map[string]int{
			"link_to_core_activity": s[0],
			"economic_objective":    s[1],
			"amount_coherence":      s[2],
		},
		EconomicBenefit: map[string]int{
			"benefit_identification": s[3],
			"roi_model":              s[4],
			"time_horizon":           s[5],
		},
		Materiality: map[string]int{
			"formalization":      s[6],
			"execution_evidence": s[7],
			"document_coherence": s[8],
		},
		Traceability: map[string]int{
			"preservation": s[9],
			"integrity":    s[10],
			"timeline":     s[11],
		},
	}
}

func TestEvaluateMediumRiskConsultingProject(t *testing.T) {
	// Scenario: amount 1.5M MXN consulting engagement.
	score, err := Evaluate(evalFromScores([12]int{3, 5, 5, 5, 5, 3, 3, 10, 5, 5, 5, 3}))
	require.NoError(t, err)

	assert.Equal(t, 57, score.Total)
	assert.Equal(t, contracts.PillarScores{
		BusinessReason:  13,
		EconomicBenefit: 13,
		Materiality:     18,
		Traceability:    13,
	}, score.PerPillar)

	c := Classify(score, Subject{
		AmountCents:      contracts.FromPesos(1_500_000),
		Typology:         contracts.TypologyConsulting,
		RelationshipType: contracts.RelationshipIndependentThird,
	}, DefaultLimits())

	assert.Equal(t, LevelMedium, c.Level)
	assert.False(t, c.HumanReviewRequired)
	assert.Equal(t, ReviewDiscretionary, c.HumanReviewClass)
}

func TestEvaluatePerfectScoreClampsPillars(t *testing.T) {
	score, err := Evaluate(evalFromScores([12]int{10, 10, 10, 10, 10, 5, 5, 10, 10, 10, 10, 5}))
	require.NoError(t, err)
	// business_reason sums to 30, clamped to 25.
	assert.Equal(t, 25, score.PerPillar.BusinessReason)
	assert.Equal(t, 100, score.Total)
}

func TestEvaluateRejectsOutOfSetScore(t *testing.T) {
	e := evalFromScores([12]int{3, 5, 5, 5, 5, 3, 3, 10, 5, 5, 5, 3})
	e.Traceability["timeline"] = 2 // allowed set is {0,3,4,5}

	_, err := Evaluate(e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrInvalidEvaluation))

	var invalid *contracts.InvalidEvaluationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "traceability.timeline", invalid.Field)
	assert.Equal(t, 2, invalid.Value)
}

func TestEvaluateRejectsMissingSubCriterion(t *testing.T) {
	e := evalFromScores([12]int{3, 5, 5, 5, 5, 3, 3, 10, 5, 5, 5, 3})
	delete(e.Materiality, "execution_evidence")

	_, err := Evaluate(e)
	require.Error(t, err)
	var invalid *contracts.InvalidEvaluationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "materiality.execution_evidence", invalid.Field)
}

func TestEvaluateRejectsUnknownSubCriterion(t *testing.T) {
	e := evalFromScores([12]int{3, 5, 5, 5, 5, 3, 3, 10, 5, 5, 5, 3})
	e.BusinessReason["made_up"] = 5

	_, err := Evaluate(e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrInvalidEvaluation))
	assert.Contains(t, err.Error(), "made_up")
}

func TestEvaluateRejectsMissingPillar(t *testing.T) {
	e := evalFromScores([12]int{3, 5, 5, 5, 5, 3, 3, 10, 5, 5, 5, 3})
	e.Traceability = nil
	_, err := Evaluate(e)
	assert.True(t, errors.Is(err, contracts.ErrInvalidEvaluation))
}

func TestClassifyReviewTriggers(t *testing.T) {
	limits := DefaultLimits()
	low, err := Evaluate(evalFromScores([12]int{3, 0, 3, 0, 5, 3, 3, 5, 0, 5, 0, 3}))
	require.NoError(t, err)
	require.Less(t, low.Total, 40)

	tests := []struct {
		name    string
		subject Subject
		want    bool
	}{
		{"baseline low risk", Subject{
			AmountCents:      contracts.FromPesos(100_000),
			Typology:         contracts.TypologyConsulting,
			RelationshipType: contracts.RelationshipIndependentThird,
		}, false},
		{"amount above 5M", Subject{
			AmountCents:      contracts.FromPesos(8_000_000),
			Typology:         contracts.TypologyConsulting,
			RelationshipType: contracts.RelationshipIndependentThird,
		}, true},
		{"intragroup management fee", Subject{
			AmountCents:      contracts.FromPesos(100_000),
			Typology:         contracts.TypologyIntragroupMgmtFee,
			RelationshipType: contracts.RelationshipIndependentThird,
		}, true},
		{"restructuring", Subject{
			AmountCents:      contracts.FromPesos(100_000),
			Typology:         contracts.TypologyRestructuring,
			RelationshipType: contracts.RelationshipIndependentThird,
		}, true},
		{"EFOS supplier", Subject{
			AmountCents:      contracts.FromPesos(100_000),
			Typology:         contracts.TypologyConsulting,
			EFOSFlag:         true,
			RelationshipType: contracts.RelationshipIndependentThird,
		}, true},
		{"related party", Subject{
			AmountCents:      contracts.FromPesos(100_000),
			Typology:         contracts.TypologyConsulting,
			RelationshipType: contracts.RelationshipRelatedPartyNational,
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(low, tc.subject, limits)
			assert.Equal(t, tc.want, c.HumanReviewRequired)
		})
	}
}

func TestClassifyLevelAndClassBoundaries(t *testing.T) {
	tests := []struct {
		total int
		level Level
		class ReviewClass
	}{
		{0, LevelLow, ReviewAutomated},
		{39, LevelLow, ReviewAutomated},
		{40, LevelMedium, ReviewDiscretionary},
		{59, LevelMedium, ReviewDiscretionary},
		{60, LevelHigh, ReviewMandatory},
		{79, LevelHigh, ReviewMandatory},
		{80, LevelCritical, ReviewMandatory},
		{100, LevelCritical, ReviewMandatory},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.level, levelFor(tc.total), "level for %d", tc.total)
		assert.Equal(t, tc.class, reviewClassFor(tc.total), "class for %d", tc.total)
	}
}
