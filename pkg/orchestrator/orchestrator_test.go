package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributo-labs/defensor/pkg/agents"
	"github.com/tributo-labs/defensor/pkg/assembler"
	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/runner"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[contracts.AgentID]int
	seen  map[contracts.AgentID]runner.Request
	fn    func(ctx context.Context, req runner.Request, attempt int) (*contracts.Deliberation, error)
}

func newFakeRunner(fn func(ctx context.Context, req runner.Request, attempt int) (*contracts.Deliberation, error)) *fakeRunner {
	return &fakeRunner{
		calls: make(map[contracts.AgentID]int),
		seen:  make(map[contracts.AgentID]runner.Request),
		fn:    fn,
	}
}

func (f *fakeRunner) Run(ctx context.Context, req runner.Request) (*contracts.Deliberation, error) {
	f.mu.Lock()
	f.calls[req.Agent.ID]++
	attempt := f.calls[req.Agent.ID]
	f.seen[req.Agent.ID] = req
	f.mu.Unlock()
	return f.fn(ctx, req, attempt)
}

func approveAll(_ context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
	return &contracts.Deliberation{
		ProjectID: req.Bundle.Project.ID,
		Phase:     req.Phase,
		AgentID:   req.Agent.ID,
		Decision:  contracts.DecisionApprove,
	}, nil
}

func testOrchestrator(t *testing.T, fr *fakeRunner, timeout time.Duration) *Orchestrator {
	t.Helper()
	roster, err := agents.Load(nil)
	require.NoError(t, err)
	return New(roster, fr, timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testBundle() assembler.Bundle {
	return assembler.Bundle{
		Project:  &contracts.Project{ID: "prj-1", Typology: contracts.TypologyConsulting},
		Supplier: &contracts.Supplier{RFC: "ABC850101XY9"},
	}
}

func TestRunPhaseAllApprove(t *testing.T) {
	fr := newFakeRunner(approveAll)
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)

	assert.Equal(t, contracts.DecisionApprove, verdict.Aggregate)
	assert.False(t, verdict.Incomplete)
	assert.Len(t, verdict.Deliberations, 6) // 5 independent + A7_DEFENSE
	assert.Empty(t, verdict.SkippedAgents)

	// Every blocking agent appears exactly once.
	for _, id := range []contracts.AgentID{
		contracts.AgentSponsor, contracts.AgentProcurement, contracts.AgentFiscal,
		contracts.AgentLegal, contracts.AgentFinance,
	} {
		assert.Equal(t, 1, fr.calls[id], "agent %s", id)
	}
}

func TestRunPhaseOrderedTierObservesIndependents(t *testing.T) {
	fr := newFakeRunner(approveAll)
	o := testOrchestrator(t, fr, time.Second)

	_, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)

	defenseReq := fr.seen[contracts.AgentDefense]
	require.NotNil(t, defenseReq.Agent)
	assert.Len(t, defenseReq.Bundle.Deliberations, 5)
}

func TestRunPhaseConditionalApprovalsAggregateToApprove(t *testing.T) {
	fr := newFakeRunner(func(_ context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		decision := contracts.DecisionApprove
		if req.Agent.ID == contracts.AgentLegal {
			decision = contracts.DecisionApproveWithConditions
		}
		return &contracts.Deliberation{AgentID: req.Agent.ID, Decision: decision}, nil
	})
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionApprove, verdict.Aggregate)
}

func TestRunPhaseSurfacesMostSevere(t *testing.T) {
	fr := newFakeRunner(func(_ context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		decision := contracts.DecisionApprove
		switch req.Agent.ID {
		case contracts.AgentFiscal:
			decision = contracts.DecisionReject
		case contracts.AgentLegal:
			decision = contracts.DecisionRequestChanges
		}
		return &contracts.Deliberation{AgentID: req.Agent.ID, Decision: decision}, nil
	})
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionReject, verdict.Aggregate)
}

func TestRunPhaseInvalidDeliberationDoesNotStopPhase(t *testing.T) {
	fr := newFakeRunner(func(_ context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		if req.Agent.ID == contracts.AgentFiscal {
			return &contracts.Deliberation{
				AgentID:          req.Agent.ID,
				Decision:         contracts.DecisionRequestChanges,
				ValidationStatus: contracts.ValidationInvalid,
			}, nil
		}
		return approveAll(nil, req, 0)
	})
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.Len(t, verdict.Deliberations, 6)
	assert.Equal(t, contracts.DecisionRequestChanges, verdict.Aggregate)
	assert.False(t, verdict.Incomplete)
}

func TestRunPhaseFailedBlockingAgentMarksIncomplete(t *testing.T) {
	fr := newFakeRunner(func(_ context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		if req.Agent.ID == contracts.AgentFinance {
			return nil, fmt.Errorf("%w: llm exhausted", contracts.ErrTransient)
		}
		return approveAll(nil, req, 0)
	})
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.True(t, verdict.Incomplete)
	assert.Contains(t, verdict.SkippedAgents, contracts.AgentFinance)
}

func TestRunPhaseStorageFailureRetriedOnce(t *testing.T) {
	fr := newFakeRunner(func(_ context.Context, req runner.Request, attempt int) (*contracts.Deliberation, error) {
		if req.Agent.ID == contracts.AgentFiscal && attempt == 1 {
			return nil, fmt.Errorf("%w: append failed", contracts.ErrStorageFailure)
		}
		return approveAll(nil, req, 0)
	})
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.Equal(t, 2, fr.calls[contracts.AgentFiscal])
	assert.False(t, verdict.Incomplete)
	assert.Equal(t, contracts.DecisionApprove, verdict.Aggregate)
}

func TestRunPhaseTimeoutYieldsPartialVerdict(t *testing.T) {
	fr := newFakeRunner(func(ctx context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		if req.Agent.ID == contracts.AgentProcurement {
			<-ctx.Done()
			return nil, fmt.Errorf("%w: phase budget exceeded", contracts.ErrTimeout)
		}
		return approveAll(nil, req, 0)
	})
	o := testOrchestrator(t, fr, 50*time.Millisecond)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.True(t, verdict.Incomplete)
	assert.Contains(t, verdict.SkippedAgents, contracts.AgentProcurement)
	// The ordered tier is skipped once the phase budget is gone.
	assert.Contains(t, verdict.SkippedAgents, contracts.AgentDefense)
}

func TestRunPhaseTimeoutWithOnlyNonBlockingSkipsIsIncomplete(t *testing.T) {
	// Every blocking agent answers, but the budget is gone before the
	// non-blocking ordered tier runs. The verdict is still incomplete.
	fr := newFakeRunner(func(_ context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		time.Sleep(80 * time.Millisecond)
		return approveAll(nil, req, 0)
	})
	o := testOrchestrator(t, fr, 50*time.Millisecond)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.Equal(t, []contracts.AgentID{contracts.AgentDefense}, verdict.SkippedAgents)
	assert.True(t, verdict.Incomplete)
}

func TestRunPhaseCancellationSkipsPendingRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fr := newFakeRunner(func(runCtx context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		if req.Agent.ID == contracts.AgentSponsor {
			cancel()
			return nil, fmt.Errorf("%w: aborted", contracts.ErrCancelled)
		}
		select {
		case <-runCtx.Done():
			return nil, fmt.Errorf("%w: aborted", contracts.ErrCancelled)
		case <-time.After(200 * time.Millisecond):
			return approveAll(nil, req, 0)
		}
	})
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(ctx, testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.True(t, verdict.Incomplete)
	assert.Contains(t, verdict.SkippedAgents, contracts.AgentDefense)
}

func TestRunPhaseHumanReviewPropagates(t *testing.T) {
	fr := newFakeRunner(func(_ context.Context, req runner.Request, _ int) (*contracts.Deliberation, error) {
		d, _ := approveAll(nil, req, 0)
		if req.Agent.ID == contracts.AgentFiscal {
			d.RequiresHumanReview = true
		}
		return d, nil
	})
	o := testOrchestrator(t, fr, time.Second)

	verdict, err := o.RunPhase(context.Background(), testBundle(), contracts.PhaseF0)
	require.NoError(t, err)
	assert.True(t, verdict.RequiresHumanReview)
}
