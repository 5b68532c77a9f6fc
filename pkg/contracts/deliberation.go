package contracts

import "time"

// Decision is the verdict an agent reaches for a phase.
type Decision string

const (
	DecisionApprove               Decision = "APPROVE"
	DecisionApproveWithConditions Decision = "APPROVE_WITH_CONDITIONS"
	DecisionRequestChanges        Decision = "REQUEST_CHANGES"
	DecisionReject                Decision = "REJECT"
)

// Severity orders decisions for aggregation; higher is worse.
func (d Decision) Severity() int {
	switch d {
	case DecisionApprove:
		return 0
	case DecisionApproveWithConditions:
		return 1
	case DecisionRequestChanges:
		return 2
	case DecisionReject:
		return 3
	}
	return 3
}

// IsApproval reports whether the decision counts as approval for
// blocking-agent aggregation.
func (d Decision) IsApproval() bool {
	return d == DecisionApprove || d == DecisionApproveWithConditions
}

// ValidationStatus records the outcome of schema validation on an
// agent's structured output.
type ValidationStatus string

const (
	ValidationValid     ValidationStatus = "valid"
	ValidationCorrected ValidationStatus = "corrected"
	ValidationInvalid   ValidationStatus = "invalid"
)

// Deliberation is one agent's structured opinion for one phase of one
// project. Immutable once persisted; a re-run appends a new record.
type Deliberation struct {
	ID                  string           `json:"deliberation_id"`
	ProjectID           string           `json:"project_id"`
	Phase               Phase            `json:"phase"`
	AgentID             AgentID          `json:"agent_id"`
	Decision            Decision         `json:"decision"`
	StructuredOutput    map[string]any   `json:"structured_output"`
	RiskContribution    PillarScores     `json:"risk_contribution"`
	RequiresHumanReview bool             `json:"requires_human_review"`
	CriticalApproval    CriticalApproval `json:"critical_approval,omitempty"`
	ValidationStatus    ValidationStatus `json:"validation_status"`
	CorrectionsApplied  []string         `json:"corrections_applied,omitempty"`
	ElapsedMillis       int64            `json:"elapsed_ms"`
	CreatedAt           time.Time        `json:"created_at"`
}

// PhaseVerdict is the orchestrator's aggregate result for one phase run.
type PhaseVerdict struct {
	ProjectID           string               `json:"project_id"`
	Phase               Phase                `json:"phase"`
	DecisionsByAgent    map[AgentID]Decision `json:"decisions_by_agent"`
	Deliberations       []*Deliberation      `json:"deliberations"`
	Aggregate           Decision             `json:"aggregate"`
	RequiresHumanReview bool                 `json:"required_human_review"`
	Incomplete          bool                 `json:"incomplete"`
	SkippedAgents       []AgentID            `json:"skipped_agents,omitempty"`
}

// Transition records one accepted state-machine move.
type Transition struct {
	ID            string    `json:"transition_id"`
	ProjectID     string    `json:"project_id"`
	From          State     `json:"from"`
	To            State     `json:"to"`
	Reason        string    `json:"reason"`
	Actor         string    `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
	ValidPerRules bool      `json:"valid_per_rules"`
}
