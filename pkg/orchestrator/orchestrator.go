// Package orchestrator schedules the agents of a phase: the independent
// tier fans out concurrently under the phase timeout, the ordered tier
// runs serially over the accumulated deliberations, and the verdict
// aggregates the blocking agents' decisions.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tributo-labs/defensor/pkg/agents"
	"github.com/tributo-labs/defensor/pkg/assembler"
	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/observability"
	"github.com/tributo-labs/defensor/pkg/runner"
)

// AgentRunner executes a single agent deliberation.
type AgentRunner interface {
	Run(ctx context.Context, req runner.Request) (*contracts.Deliberation, error)
}

// Orchestrator owns phase-level scheduling. It is the only component
// allowed to mutate nothing: verdicts are returned, not applied.
type Orchestrator struct {
	roster       *agents.Roster
	runner       AgentRunner
	phaseTimeout time.Duration
	logger       *slog.Logger
	obs          *observability.Provider
}

func New(roster *agents.Roster, agentRunner AgentRunner, phaseTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		roster:       roster,
		runner:       agentRunner,
		phaseTimeout: phaseTimeout,
		logger:       logger,
	}
}

// WithObservability attaches the metrics provider. A nil provider is
// accepted and records nothing.
func (o *Orchestrator) WithObservability(obs *observability.Provider) *Orchestrator {
	o.obs = obs
	return o
}

// RunPhase deliberates one phase. Validation-invalid results do not
// stop the phase; cancellation or timeout yields a partial verdict
// marked incomplete. A storage failure on an agent run is retried once
// before the agent is skipped.
func (o *Orchestrator) RunPhase(ctx context.Context, bundle assembler.Bundle, phase contracts.Phase) (*contracts.PhaseVerdict, error) {
	independent, ordered := o.roster.ForPhase(phase)
	verdict := &contracts.PhaseVerdict{
		ProjectID:        bundle.Project.ID,
		Phase:            phase,
		DecisionsByAgent: make(map[contracts.AgentID]contracts.Decision),
	}

	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	var mu sync.Mutex
	g, groupCtx := errgroup.WithContext(phaseCtx)
	for _, cfg := range independent {
		g.Go(func() error {
			d, err := o.runOnce(groupCtx, cfg, phase, bundle)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				verdict.SkippedAgents = append(verdict.SkippedAgents, cfg.ID)
				return nil
			}
			verdict.Deliberations = append(verdict.Deliberations, d)
			verdict.DecisionsByAgent[cfg.ID] = d.Decision
			return nil
		})
	}
	_ = g.Wait()

	// Ordered agents observe every independent deliberation.
	for _, cfg := range ordered {
		if phaseCtx.Err() != nil {
			verdict.SkippedAgents = append(verdict.SkippedAgents, cfg.ID)
			continue
		}
		orderedBundle := bundle
		orderedBundle.Deliberations = append(append([]*contracts.Deliberation{}, bundle.Deliberations...),
			verdict.Deliberations...)

		d, err := o.runOnce(phaseCtx, cfg, phase, orderedBundle)
		if err != nil {
			verdict.SkippedAgents = append(verdict.SkippedAgents, cfg.ID)
			continue
		}
		verdict.Deliberations = append(verdict.Deliberations, d)
		verdict.DecisionsByAgent[cfg.ID] = d.Decision
	}

	// A phase cut short by its deadline is incomplete even when every
	// skipped agent was non-blocking.
	if phaseCtx.Err() != nil && len(verdict.SkippedAgents) > 0 {
		verdict.Incomplete = true
	}

	o.aggregate(verdict, independent, ordered)
	o.obs.RecordPhaseRun(ctx, string(phase), string(verdict.Aggregate), verdict.Incomplete)
	return verdict, nil
}

// runOnce executes one agent, retrying a single time on storage
// failure.
func (o *Orchestrator) runOnce(ctx context.Context, cfg *contracts.AgentConfig, phase contracts.Phase, bundle assembler.Bundle) (*contracts.Deliberation, error) {
	req := runner.Request{Agent: cfg, Phase: phase, Bundle: bundle}
	d, err := o.runner.Run(ctx, req)
	if err != nil && errors.Is(err, contracts.ErrStorageFailure) && ctx.Err() == nil {
		o.logger.Warn("agent run hit storage failure, retrying once",
			slog.String("agent_id", string(cfg.ID)),
			slog.String("phase", string(phase)))
		d, err = o.runner.Run(ctx, req)
	}
	if err != nil {
		o.logger.Warn("agent run skipped",
			slog.String("agent_id", string(cfg.ID)),
			slog.String("phase", string(phase)),
			slog.Any("error", err))
		return nil, err
	}
	return d, nil
}

// aggregate computes the phase decision: APPROVE when every blocking
// agent approved, otherwise the most severe blocking decision. A
// missing blocking agent marks the verdict incomplete.
func (o *Orchestrator) aggregate(verdict *contracts.PhaseVerdict, independent, ordered []*contracts.AgentConfig) {
	aggregate := contracts.DecisionApprove
	for _, cfg := range append(append([]*contracts.AgentConfig{}, independent...), ordered...) {
		if !cfg.CanBlock {
			continue
		}
		decision, present := verdict.DecisionsByAgent[cfg.ID]
		if !present {
			verdict.Incomplete = true
			continue
		}
		if decision.Severity() > aggregate.Severity() {
			aggregate = decision
		}
	}
	if aggregate.IsApproval() && !verdict.Incomplete {
		aggregate = contracts.DecisionApprove
	}
	verdict.Aggregate = aggregate

	for _, d := range verdict.Deliberations {
		if d.RequiresHumanReview {
			verdict.RequiresHumanReview = true
		}
	}
}
