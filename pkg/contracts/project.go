package contracts

import "time"

// Cents is a fixed-point MXN amount in centavos. All monetary comparisons
// in the engine happen in this representation; floats never enter the
// threshold logic.
type Cents int64

// FromPesos converts a whole-peso amount to Cents.
func FromPesos(pesos int64) Cents { return Cents(pesos * 100) }

// Pesos returns the whole-peso part of the amount.
func (c Cents) Pesos() int64 { return int64(c) / 100 }

// Typology enumerates the supported service typologies.
type Typology string

const (
	TypologyConsulting          Typology = "CONSULTING"
	TypologyIntragroupMgmtFee   Typology = "INTRAGROUP_MANAGEMENT_FEE"
	TypologySoftwareSaaS        Typology = "SOFTWARE_SAAS"
	TypologyMarketing           Typology = "MARKETING"
	TypologyLogistics           Typology = "LOGISTICS"
	TypologyTechnicalAssistance Typology = "TECHNICAL_ASSISTANCE"
	TypologyRestructuring       Typology = "RESTRUCTURING"
	TypologyLeasingIntercompany Typology = "LEASING_INTERCOMPANY"
)

// RelationshipType classifies the supplier relationship to the tenant.
type RelationshipType string

const (
	RelationshipIndependentThird     RelationshipType = "independent_third"
	RelationshipRelatedParty         RelationshipType = "related_party"
	RelationshipRelatedPartyNational RelationshipType = "related_party_national"
)

// IsRelatedParty reports whether the relationship is any related-party
// variant. Related-party engagements always require human review.
func (r RelationshipType) IsRelatedParty() bool {
	return r == RelationshipRelatedParty || r == RelationshipRelatedPartyNational
}

// PillarScores is the per-pillar risk breakdown. Each pillar is clamped
// to 0..25 by the scoring engine.
type PillarScores struct {
	BusinessReason  int `json:"business_reason"`
	EconomicBenefit int `json:"economic_benefit"`
	Materiality     int `json:"materiality"`
	Traceability    int `json:"traceability"`
}

// Total sums the four pillars.
func (p PillarScores) Total() int {
	return p.BusinessReason + p.EconomicBenefit + p.Materiality + p.Traceability
}

// Project is the unit of work traversing the F0..F9 lifecycle.
// Projects are created at F0 and never deleted; F9 is a soft close.
// Mutation happens only through state-machine transitions and scoring
// updates.
type Project struct {
	ID                  string       `json:"project_id"`
	TenantID            string       `json:"tenant_id"`
	Name                string       `json:"name"`
	Typology            Typology     `json:"typology"`
	AmountCents         Cents        `json:"amount_cents"`
	CurrentPhase        Phase        `json:"current_phase"`
	CurrentState        State        `json:"current_state"`
	RiskScoreTotal      int          `json:"risk_score_total"`
	RiskScorePerPillar  PillarScores `json:"risk_score_per_pillar"`
	HumanReviewObtained bool         `json:"human_review_obtained"`
	CompletedPhases     []Phase      `json:"completed_phases"`
	ReviewIterations    int          `json:"review_iterations"`
	CriticalFlags       []string     `json:"critical_flags,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// PhaseCompleted reports whether the given phase is in the completed set.
// Membership reflects the latest successful completion only: a retried
// phase leaves the set until it completes again.
func (p *Project) PhaseCompleted(phase Phase) bool {
	for _, c := range p.CompletedPhases {
		if c == phase {
			return true
		}
	}
	return false
}

// MarkPhaseCompleted adds phase to the completed set (idempotent).
func (p *Project) MarkPhaseCompleted(phase Phase) {
	if !p.PhaseCompleted(phase) {
		p.CompletedPhases = append(p.CompletedPhases, phase)
	}
}

// UnmarkPhaseCompleted removes phase from the completed set, used when a
// phase is re-run.
func (p *Project) UnmarkPhaseCompleted(phase Phase) {
	out := p.CompletedPhases[:0]
	for _, c := range p.CompletedPhases {
		if c != phase {
			out = append(out, c)
		}
	}
	p.CompletedPhases = out
}

// Supplier is the counterparty of a project. Read-only to the engine.
type Supplier struct {
	RFC              string           `json:"rfc"`
	Name             string           `json:"name"`
	RelationshipType RelationshipType `json:"relationship_type"`
	EFOSFlag         bool             `json:"efos_flag"`
	HistoryScore     int              `json:"history_score"` // 0..100
}

// DocumentType enumerates supported document kinds.
type DocumentType string

const (
	DocContract      DocumentType = "contract"
	DocInvoice       DocumentType = "invoice"
	DocSOW           DocumentType = "sow"
	DocPaymentProof  DocumentType = "payment_proof"
	DocTPStudy       DocumentType = "tp_study"
	DocPurchaseOrder DocumentType = "purchase_order"
	DocReceipt       DocumentType = "receipt"
	DocDeliverable   DocumentType = "deliverable"
)

// Document is an append-only evidence record. Contracts and invoices are
// never rewritten; a correction is a new document pointing at the one it
// supersedes.
type Document struct {
	ID              string         `json:"doc_id"`
	ProjectID       string         `json:"project_id"`
	Type            DocumentType   `json:"type"`
	HashSHA256      string         `json:"hash_sha256"`
	SupersedesDocID string         `json:"supersedes_doc_id,omitempty"`
	UploadedAt      time.Time      `json:"uploaded_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// AmountCents reads the document's amount from metadata, if present.
func (d *Document) AmountCents() (Cents, bool) {
	v, ok := d.Metadata["amount_cents"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return Cents(n), true
	case int:
		return Cents(n), true
	case float64:
		return Cents(int64(n)), true
	}
	return 0, false
}

// Description reads the document's free-form description from metadata.
func (d *Document) Description() string {
	if s, ok := d.Metadata["description"].(string); ok {
		return s
	}
	return ""
}
