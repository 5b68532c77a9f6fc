// Package contracts defines the shared domain types of the compliance
// workflow engine: projects, suppliers, documents, agent configurations,
// deliberations and the phase lifecycle.
package contracts

import "fmt"

// Phase is one step of the fixed F0..F9 project lifecycle.
// F0..F9 is the canonical naming scheme; the E-names used by older
// frontends are presentation aliases only (see PresentationAlias).
type Phase string

const (
	PhaseF0 Phase = "F0" // intake
	PhaseF1 Phase = "F1" // parallel validation
	PhaseF2 Phase = "F2" // consolidation — hard lock: may-start-execution
	PhaseF3 Phase = "F3" // legal formalization
	PhaseF4 Phase = "F4" // execution
	PhaseF5 Phase = "F5" // delivery
	PhaseF6 Phase = "F6" // invoice acceptance — hard lock: may-accept-invoice
	PhaseF7 Phase = "F7" // reconciliation
	PhaseF8 Phase = "F8" // payment — hard lock: may-release-payment
	PhaseF9 Phase = "F9" // closed
)

// AllPhases lists the lifecycle in canonical order.
var AllPhases = []Phase{
	PhaseF0, PhaseF1, PhaseF2, PhaseF3, PhaseF4,
	PhaseF5, PhaseF6, PhaseF7, PhaseF8, PhaseF9,
}

// phaseAliases maps canonical phases to their presentation aliases.
var phaseAliases = map[Phase]string{
	PhaseF0: "E1_ESTRATEGIA",
	PhaseF1: "E2_VALIDACION",
	PhaseF2: "E3_CONSOLIDACION",
	PhaseF3: "E4_FORMALIZACION",
	PhaseF4: "E5_EJECUCION",
	PhaseF5: "E6_ENTREGA",
	PhaseF6: "E7_FACTURACION",
	PhaseF7: "E8_CONCILIACION",
	PhaseF8: "E9_PAGO",
	PhaseF9: "E10_CIERRE",
}

// Valid reports whether p is one of F0..F9.
func (p Phase) Valid() bool {
	_, ok := phaseAliases[p]
	return ok
}

// Index returns the ordinal position of the phase (F0 = 0).
func (p Phase) Index() int {
	for i, ph := range AllPhases {
		if ph == p {
			return i
		}
	}
	return -1
}

// IsHardLock reports whether advancement into this phase is gated by a
// deterministic lock predicate.
func (p Phase) IsHardLock() bool {
	return p == PhaseF2 || p == PhaseF6 || p == PhaseF8
}

// PresentationAlias returns the legacy E-name for UI consumers.
func (p Phase) PresentationAlias() string {
	return phaseAliases[p]
}

// ParsePhase converts a string to a Phase, accepting either the canonical
// F-name or a presentation alias.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if p.Valid() {
		return p, nil
	}
	for canonical, alias := range phaseAliases {
		if alias == s {
			return canonical, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// State is a node of the project state machine. States track the
// deliberation workflow layered over the phase lifecycle; meta-states
// (ITERATIVE_REVIEW, HUMAN_ESCALATED) have no phase of their own.
type State string

const (
	StateIntake             State = "INTAKE"
	StateParallelValidation State = "PARALLEL_VALIDATION"
	StateConsolidation      State = "CONSOLIDATION"
	StateApprovedF0         State = "APPROVED_F0"
	StateRejectedF0         State = "REJECTED_F0"
	StateIterativeReview    State = "ITERATIVE_REVIEW"
	StateFormalizationLegal State = "FORMALIZATION_LEGAL"
	StateExecution          State = "EXECUTION"
	StateDelivery           State = "DELIVERY"
	StatePayment            State = "PAYMENT"
	StateClosed             State = "CLOSED"
	StateHumanEscalated     State = "HUMAN_ESCALATED"
)
