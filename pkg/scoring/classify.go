package scoring

import "github.com/tributo-labs/defensor/pkg/contracts"

// Level buckets the total score.
type Level string

const (
	LevelLow      Level = "LOW"      // 0..39
	LevelMedium   Level = "MEDIUM"   // 40..59
	LevelHigh     Level = "HIGH"     // 60..79
	LevelCritical Level = "CRITICAL" // 80..100
)

// ReviewClass determines the approval route.
type ReviewClass string

const (
	ReviewAutomated     ReviewClass = "AUTOMATED"     // score < 40
	ReviewDiscretionary ReviewClass = "DISCRETIONARY" // 40..59
	ReviewMandatory     ReviewClass = "MANDATORY"     // score >= 60
)

// Limits holds the configurable classification thresholds.
type Limits struct {
	AmountHumanReviewThreshold contracts.Cents
	ScoreHumanReviewThreshold  int
}

// DefaultLimits mirrors the documented configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		AmountHumanReviewThreshold: contracts.FromPesos(5_000_000),
		ScoreHumanReviewThreshold:  60,
	}
}

// Subject is the project context the classification rules inspect in
// addition to the score itself.
type Subject struct {
	AmountCents      contracts.Cents
	Typology         contracts.Typology
	EFOSFlag         bool
	RelationshipType contracts.RelationshipType
}

// Classification is the full scoring verdict returned to callers.
type Classification struct {
	Score               Score       `json:"score"`
	Level               Level       `json:"level"`
	HumanReviewRequired bool        `json:"human_review_required"`
	HumanReviewClass    ReviewClass `json:"human_review_class"`
}

// alwaysReviewTypologies force human review regardless of score.
var alwaysReviewTypologies = map[contracts.Typology]bool{
	contracts.TypologyIntragroupMgmtFee: true,
	contracts.TypologyRestructuring:     true,
}

// Classify maps a computed score plus project context to the level,
// review-requirement flag and review class.
func Classify(score Score, subject Subject, limits Limits) Classification {
	return Classification{
		Score:               score,
		Level:               levelFor(score.Total),
		HumanReviewRequired: reviewRequired(score.Total, subject, limits),
		HumanReviewClass:    reviewClassFor(score.Total),
	}
}

func levelFor(total int) Level {
	switch {
	case total < 40:
		return LevelLow
	case total < 60:
		return LevelMedium
	case total < 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func reviewClassFor(total int) ReviewClass {
	switch {
	case total < 40:
		return ReviewAutomated
	case total < 60:
		return ReviewDiscretionary
	default:
		return ReviewMandatory
	}
}

func reviewRequired(total int, s Subject, limits Limits) bool {
	switch {
	case s.AmountCents > limits.AmountHumanReviewThreshold:
		return true
	case total >= limits.ScoreHumanReviewThreshold:
		return true
	case alwaysReviewTypologies[s.Typology]:
		return true
	case s.EFOSFlag:
		return true
	case s.RelationshipType.IsRelatedParty():
		return true
	}
	return false
}
