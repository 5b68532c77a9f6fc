// Package policy evaluates tenant-configurable critical-flag rules
// written in CEL. A rule that evaluates to true raises its flag on the
// project; unresolved critical flags hold the F2 lock closed.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Rule is one critical-flag predicate. Expr sees the variables
// `project`, `supplier`, `score` and `limits`.
type Rule struct {
	Flag string `json:"flag" yaml:"flag"`
	Expr string `json:"expr" yaml:"expr"`
}

// DefaultRules are always active; tenants append to them.
func DefaultRules() []Rule {
	return []Rule{
		{Flag: "EFOS_SUPPLIER", Expr: `supplier.efos_flag == true`},
		{Flag: "CRITICAL_RISK_SCORE", Expr: `score.total >= 80`},
		{Flag: "RELATED_PARTY_OVER_THRESHOLD",
			Expr: `supplier.related_party == true && project.amount_cents > limits.amount_threshold_cents`},
	}
}

// Evaluator compiles rules once and evaluates them per project.
type Evaluator struct {
	env   *cel.Env
	rules []Rule

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator builds the CEL environment and eagerly compiles every
// rule so malformed tenant expressions fail at startup.
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("project", cel.DynType),
		cel.Variable("supplier", cel.DynType),
		cel.Variable("score", cel.DynType),
		cel.Variable("limits", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	e := &Evaluator{env: env, rules: rules, cache: make(map[string]cel.Program)}
	for _, r := range rules {
		if _, err := e.program(r.Expr); err != nil {
			return nil, fmt.Errorf("policy: rule %s: %w", r.Flag, err)
		}
	}
	return e, nil
}

// Limits carries the threshold values rule expressions compare against.
type Limits struct {
	AmountThresholdCents contracts.Cents
}

// Evaluate returns the flags whose rules hold, in rule declaration
// order. Evaluation is pure; rules cannot see time or I/O.
func (e *Evaluator) Evaluate(project *contracts.Project, supplier *contracts.Supplier, limits Limits) ([]string, error) {
	input := map[string]any{
		"project": map[string]any{
			"id":           project.ID,
			"typology":     string(project.Typology),
			"amount_cents": int64(project.AmountCents),
			"phase":        string(project.CurrentPhase),
		},
		"supplier": map[string]any{
			"rfc":           supplier.RFC,
			"efos_flag":     supplier.EFOSFlag,
			"related_party": supplier.RelationshipType.IsRelatedParty(),
			"history_score": supplier.HistoryScore,
		},
		"score": map[string]any{
			"total":            project.RiskScoreTotal,
			"business_reason":  project.RiskScorePerPillar.BusinessReason,
			"economic_benefit": project.RiskScorePerPillar.EconomicBenefit,
			"materiality":      project.RiskScorePerPillar.Materiality,
			"traceability":     project.RiskScorePerPillar.Traceability,
		},
		"limits": map[string]any{
			"amount_threshold_cents": int64(limits.AmountThresholdCents),
		},
	}

	var flags []string
	for _, r := range e.rules {
		prg, err := e.program(r.Expr)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %s: %w", r.Flag, err)
		}
		out, _, err := prg.Eval(input)
		if err != nil {
			return nil, fmt.Errorf("policy: evaluate rule %s: %w", r.Flag, err)
		}
		hold, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("policy: rule %s is not boolean", r.Flag)
		}
		if hold {
			flags = append(flags, r.Flag)
		}
	}
	return flags, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}
