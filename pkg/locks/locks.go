// Package locks implements the hard-lock predicates guarding phases F2,
// F6 and F8. Evaluation is pure: the same input always yields the same
// result, and a held lock is a structured outcome, never an error.
package locks

import (
	"fmt"

	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/fiscal"
)

// Limits are the tunable thresholds the predicates compare against.
type Limits struct {
	MaterialityMinPercent  float64
	ThreeWayMatchTolerance float64
}

// DefaultLimits matches the released configuration defaults.
func DefaultLimits() Limits {
	return Limits{MaterialityMinPercent: 80, ThreeWayMatchTolerance: 0.05}
}

// Input is the project snapshot a lock evaluates. Deliberations are in
// append order; the latest entry per agent wins.
type Input struct {
	Project             *contracts.Project
	Supplier            *contracts.Supplier
	Deliberations       []*contracts.Deliberation
	Documents           []contracts.Document
	MaterialityPercent  float64
	HumanReviewRequired bool
}

// Lock is one hard-lock predicate.
type Lock interface {
	Phase() contracts.Phase
	Evaluate(in Input, limits Limits) contracts.LockResult
}

// Evaluator dispatches to the registered lock for a phase. Phases
// without a hard lock are always released.
type Evaluator struct {
	limits Limits
	locks  map[contracts.Phase]Lock
}

func NewEvaluator(limits Limits) *Evaluator {
	e := &Evaluator{limits: limits, locks: make(map[contracts.Phase]Lock)}
	for _, l := range []Lock{executionLock{}, invoiceLock{}, paymentLock{}} {
		e.locks[l.Phase()] = l
	}
	return e
}

// Evaluate runs the lock for the given phase.
func (e *Evaluator) Evaluate(phase contracts.Phase, in Input) contracts.LockResult {
	lock, ok := e.locks[phase]
	if !ok {
		return contracts.LockResult{Phase: phase, Released: true}
	}
	return lock.Evaluate(in, e.limits)
}

// executionLock gates F2: may the project start execution.
type executionLock struct{}

func (executionLock) Phase() contracts.Phase { return contracts.PhaseF2 }

func (executionLock) Evaluate(in Input, _ Limits) contracts.LockResult {
	var blockers []string
	for _, phase := range []contracts.Phase{contracts.PhaseF0, contracts.PhaseF1} {
		if !in.Project.PhaseCompleted(phase) {
			blockers = append(blockers, fmt.Sprintf("phase %s not completed", phase))
		}
	}
	if !approved(in, contracts.AgentSponsor) {
		blockers = append(blockers, "A1_SPONSOR approval missing")
	}
	if !approved(in, contracts.AgentFiscal) {
		blockers = append(blockers, "A3_FISCAL approval missing")
	}
	if !budgetConfirmed(in) {
		blockers = append(blockers, "A5_FINANCE budget confirmation missing")
	}
	for _, flag := range in.Project.CriticalFlags {
		blockers = append(blockers, "unresolved critical flag: "+flag)
	}
	return result(contracts.PhaseF2, blockers)
}

// invoiceLock gates F6: may the project accept the invoice.
type invoiceLock struct{}

func (invoiceLock) Phase() contracts.Phase { return contracts.PhaseF6 }

func (invoiceLock) Evaluate(in Input, limits Limits) contracts.LockResult {
	var blockers []string
	if !in.Project.PhaseCompleted(contracts.PhaseF5) {
		blockers = append(blockers, fmt.Sprintf("phase %s not completed", contracts.PhaseF5))
	}
	if in.MaterialityPercent < limits.MaterialityMinPercent {
		blockers = append(blockers, fmt.Sprintf("materiality matrix at %.0f%%, below %.0f%%",
			in.MaterialityPercent, limits.MaterialityMinPercent))
	}
	if !criticalApprovalIssued(in, contracts.VBCFiscal) {
		blockers = append(blockers, "VBC_FISCAL critical approval missing")
	}
	if !criticalApprovalIssued(in, contracts.VBCLegal) {
		blockers = append(blockers, "VBC_LEGAL critical approval missing")
	}

	invoice := latestDocument(in, contracts.DocInvoice)
	if invoice == nil {
		blockers = append(blockers, "invoice document missing")
	} else if !fiscal.IsSpecificDescription(invoice.Description()) {
		blockers = append(blockers, "invoice description is generic boilerplate")
	}

	if three, ok := threeWayAmounts(in); !ok {
		blockers = append(blockers, "3-way match documents incomplete")
	} else if res := fiscal.ThreeWayMatch(three, limits.ThreeWayMatchTolerance); !res.Matched {
		blockers = append(blockers, res.Detail)
	}
	return result(contracts.PhaseF6, blockers)
}

// paymentLock gates F8: may the payment be released.
type paymentLock struct{}

func (paymentLock) Phase() contracts.Phase { return contracts.PhaseF8 }

func (paymentLock) Evaluate(in Input, _ Limits) contracts.LockResult {
	var blockers []string
	for _, phase := range []contracts.Phase{contracts.PhaseF6, contracts.PhaseF7} {
		if !in.Project.PhaseCompleted(phase) {
			blockers = append(blockers, fmt.Sprintf("phase %s not completed", phase))
		}
	}
	if !approved(in, contracts.AgentFinance) {
		blockers = append(blockers, "A5_FINANCE approval missing")
	}
	if in.HumanReviewRequired && !in.Project.HumanReviewObtained {
		blockers = append(blockers, "human review pending")
	}
	if in.Project.Typology == contracts.TypologyIntragroupMgmtFee && latestDocument(in, contracts.DocTPStudy) == nil {
		blockers = append(blockers, "transfer-pricing study missing")
	}
	return result(contracts.PhaseF8, blockers)
}

func result(phase contracts.Phase, blockers []string) contracts.LockResult {
	return contracts.LockResult{Phase: phase, Released: len(blockers) == 0, Blockers: blockers}
}

// latestDeliberation returns the newest deliberation by the agent.
func latestDeliberation(in Input, agentID contracts.AgentID) *contracts.Deliberation {
	var latest *contracts.Deliberation
	for _, d := range in.Deliberations {
		if d.AgentID == agentID {
			latest = d
		}
	}
	return latest
}

func approved(in Input, agentID contracts.AgentID) bool {
	d := latestDeliberation(in, agentID)
	return d != nil && d.Decision.IsApproval()
}

// budgetConfirmed requires the finance agent's latest approval to carry
// an explicit budget confirmation.
func budgetConfirmed(in Input) bool {
	d := latestDeliberation(in, contracts.AgentFinance)
	if d == nil || !d.Decision.IsApproval() {
		return false
	}
	confirmed, _ := d.StructuredOutput["budget_confirmed"].(bool)
	return confirmed
}

func criticalApprovalIssued(in Input, approval contracts.CriticalApproval) bool {
	for _, d := range in.Deliberations {
		if d.CriticalApproval == approval && d.Decision.IsApproval() {
			return true
		}
	}
	return false
}

// latestDocument returns the newest non-superseded document of a type.
func latestDocument(in Input, docType contracts.DocumentType) *contracts.Document {
	superseded := make(map[string]bool)
	for _, d := range in.Documents {
		if d.SupersedesDocID != "" {
			superseded[d.SupersedesDocID] = true
		}
	}
	var latest *contracts.Document
	for i := range in.Documents {
		d := &in.Documents[i]
		if d.Type == docType && !superseded[d.ID] {
			latest = d
		}
	}
	return latest
}

// threeWayAmounts collects the PO, receipt and invoice amounts when all
// three documents carry one.
func threeWayAmounts(in Input) (fiscal.ThreeWayInput, bool) {
	po := latestDocument(in, contracts.DocPurchaseOrder)
	receipt := latestDocument(in, contracts.DocReceipt)
	invoice := latestDocument(in, contracts.DocInvoice)
	if po == nil || receipt == nil || invoice == nil {
		return fiscal.ThreeWayInput{}, false
	}
	poAmount, ok1 := po.AmountCents()
	receiptAmount, ok2 := receipt.AmountCents()
	invoiceAmount, ok3 := invoice.AmountCents()
	if !ok1 || !ok2 || !ok3 {
		return fiscal.ThreeWayInput{}, false
	}
	return fiscal.ThreeWayInput{
		PurchaseOrderCents: poAmount,
		ReceiptCents:       receiptAmount,
		InvoiceCents:       invoiceAmount,
	}, true
}
