package contracts

// AgentID identifies a specialized deliberation agent.
type AgentID string

const (
	AgentSponsor     AgentID = "A1_SPONSOR"
	AgentProcurement AgentID = "A2_PROCUREMENT"
	AgentFiscal      AgentID = "A3_FISCAL"
	AgentLegal       AgentID = "A4_LEGAL"
	AgentFinance     AgentID = "A5_FINANCE"
	AgentAuditor     AgentID = "A6_AUDITOR"
	AgentDefense     AgentID = "A7_DEFENSE"
)

// Tier controls scheduling within a phase. Independent agents run
// concurrently; ordered agents run serially after all independents and
// observe their deliberations.
type Tier string

const (
	TierIndependent Tier = "independent"
	TierOrdered     Tier = "ordered"
)

// CriticalApproval names the visto-bueno a blocking agent can issue.
type CriticalApproval string

const (
	VBCFiscal CriticalApproval = "VBC_FISCAL"
	VBCLegal  CriticalApproval = "VBC_LEGAL"
)

// ContextFields splits an agent's required context field paths into
// mandatory (missing → the run fails before the LLM call) and desirable
// (included when present).
type ContextFields struct {
	Mandatory []string `yaml:"mandatory" json:"mandatory"`
	Desirable []string `yaml:"desirable" json:"desirable"`
}

// AgentConfig is the static, per-release configuration of an agent.
type AgentConfig struct {
	ID                     AgentID          `yaml:"id" json:"agent_id"`
	Role                   string           `yaml:"role" json:"role"`
	SystemPrompt           string           `yaml:"system_prompt" json:"system_prompt"`
	ParticipatingPhases    []Phase          `yaml:"participating_phases" json:"participating_phases"`
	Tier                   Tier             `yaml:"tier" json:"tier"`
	CanBlock               bool             `yaml:"can_block" json:"can_block"`
	IssuesCriticalApproval CriticalApproval `yaml:"issues_critical_approval,omitempty" json:"issues_critical_approval,omitempty"`
	OutputSchemaID         string           `yaml:"output_schema_id" json:"output_schema_id"`
	SchemaVersion          string           `yaml:"schema_version" json:"schema_version"`
	RequiredContext        ContextFields    `yaml:"required_context" json:"required_context"`
	MaxTokens              int              `yaml:"max_tokens" json:"max_tokens"`
}

// ParticipatesIn reports whether the agent deliberates in the given phase.
func (a *AgentConfig) ParticipatesIn(phase Phase) bool {
	for _, p := range a.ParticipatingPhases {
		if p == phase {
			return true
		}
	}
	return false
}
