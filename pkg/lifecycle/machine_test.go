package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/defensefile"
	"github.com/tributo-labs/defensor/pkg/locks"
	"github.com/tributo-labs/defensor/pkg/observability"
	"github.com/tributo-labs/defensor/pkg/stream"
)

func testMachine(t *testing.T) (*Machine, *defensefile.Log, *stream.Hub) {
	t.Helper()
	log := defensefile.NewLog(defensefile.NewMemoryStore())
	hub := stream.NewHub(stream.Options{Keepalive: time.Hour, IdleGC: time.Hour})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(locks.NewEvaluator(locks.DefaultLimits()), log, hub, 2, logger)
	return m, log, hub
}

func newProject(state contracts.State) *contracts.Project {
	return &contracts.Project{
		ID:           "prj-1",
		Typology:     contracts.TypologyConsulting,
		CurrentPhase: contracts.PhaseF0,
		CurrentState: state,
	}
}

func verdictWith(decisions map[contracts.AgentID]contracts.Decision) *contracts.PhaseVerdict {
	aggregate := contracts.DecisionApprove
	for _, d := range decisions {
		if d.Severity() > aggregate.Severity() {
			aggregate = d
		}
	}
	return &contracts.PhaseVerdict{
		ProjectID:        "prj-1",
		Phase:            contracts.PhaseF1,
		DecisionsByAgent: decisions,
		Aggregate:        aggregate,
	}
}

func TestLegalTransitionAccepted(t *testing.T) {
	m, log, _ := testMachine(t)
	p := newProject(contracts.StateIntake)

	res, err := m.TransitionTo(context.Background(), p, contracts.StateParallelValidation, "system", "intake complete", locks.Input{Project: p})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, contracts.StateParallelValidation, p.CurrentState)
	assert.Equal(t, contracts.StateIntake, res.Transition.From)
	assert.True(t, res.Transition.ValidPerRules)

	entries, _, err := log.Read(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, defensefile.EntryTransition, entries[0].Type)
}

func TestIllegalTransitionRejected(t *testing.T) {
	m, log, _ := testMachine(t)
	p := newProject(contracts.StateIntake)

	_, err := m.TransitionTo(context.Background(), p, contracts.StateClosed, "system", "", locks.Input{Project: p})
	require.Error(t, err)
	assert.Equal(t, contracts.StateIntake, p.CurrentState)

	entries, _, err := log.Read(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnterExecutionConsultsF2Lock(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateFormalizationLegal)

	// No approvals at all: the lock must hold and the state must not move.
	res, err := m.TransitionTo(context.Background(), p, contracts.StateExecution, "system", "", locks.Input{Project: p})
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.NotNil(t, res.Lock)
	assert.False(t, res.Lock.Released)
	assert.NotEmpty(t, res.Actions)
	assert.Equal(t, contracts.StateFormalizationLegal, p.CurrentState)
}

func TestEnterExecutionWithReleasedLock(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateFormalizationLegal)
	p.CompletedPhases = []contracts.Phase{contracts.PhaseF0, contracts.PhaseF1}

	in := locks.Input{
		Project: p,
		Deliberations: []*contracts.Deliberation{
			{AgentID: contracts.AgentSponsor, Decision: contracts.DecisionApprove},
			{AgentID: contracts.AgentFiscal, Decision: contracts.DecisionApprove},
			{AgentID: contracts.AgentFinance, Decision: contracts.DecisionApprove,
				StructuredOutput: map[string]any{"budget_confirmed": true}},
		},
	}
	res, err := m.TransitionTo(context.Background(), p, contracts.StateExecution, "system", "formalization done", in)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, contracts.StateExecution, p.CurrentState)
}

func TestConsensusUnanimousApprove(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateConsolidation)

	verdict := verdictWith(map[contracts.AgentID]contracts.Decision{
		contracts.AgentSponsor: contracts.DecisionApprove,
		contracts.AgentFiscal:  contracts.DecisionApprove,
	})
	res, err := m.ApplyVerdict(context.Background(), p, verdict, "orchestrator", locks.Input{Project: p})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, contracts.StateApprovedF0, p.CurrentState)
}

func TestConsensusUnanimousReject(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateConsolidation)

	verdict := verdictWith(map[contracts.AgentID]contracts.Decision{
		contracts.AgentSponsor: contracts.DecisionReject,
		contracts.AgentFiscal:  contracts.DecisionReject,
	})
	res, err := m.ApplyVerdict(context.Background(), p, verdict, "orchestrator", locks.Input{Project: p})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, contracts.StateRejectedF0, p.CurrentState)
}

func TestConsensusSplitEntersIterativeReview(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateConsolidation)

	verdict := verdictWith(map[contracts.AgentID]contracts.Decision{
		contracts.AgentSponsor: contracts.DecisionApprove,
		contracts.AgentFiscal:  contracts.DecisionRequestChanges,
	})
	res, err := m.ApplyVerdict(context.Background(), p, verdict, "orchestrator", locks.Input{Project: p})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, contracts.StateIterativeReview, p.CurrentState)
	assert.Equal(t, 1, p.ReviewIterations)
}

func TestIterationCapEscalatesToHuman(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateConsolidation)
	p.ReviewIterations = 2 // cap already spent

	verdict := verdictWith(map[contracts.AgentID]contracts.Decision{
		contracts.AgentSponsor: contracts.DecisionApprove,
		contracts.AgentFiscal:  contracts.DecisionRequestChanges,
	})
	res, err := m.ApplyVerdict(context.Background(), p, verdict, "orchestrator", locks.Input{Project: p})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, contracts.StateHumanEscalated, p.CurrentState)
	assert.Equal(t, 2, p.ReviewIterations)
}

func TestFailedTransitionDoesNotSpendIteration(t *testing.T) {
	log := defensefile.NewLog(brokenStore{})
	hub := stream.NewHub(stream.Options{Keepalive: time.Hour, IdleGC: time.Hour})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(locks.NewEvaluator(locks.DefaultLimits()), log, hub, 2, logger)
	p := newProject(contracts.StateConsolidation)

	verdict := verdictWith(map[contracts.AgentID]contracts.Decision{
		contracts.AgentSponsor: contracts.DecisionApprove,
		contracts.AgentFiscal:  contracts.DecisionRequestChanges,
	})
	_, err := m.ApplyVerdict(context.Background(), p, verdict, "orchestrator", locks.Input{Project: p})
	require.Error(t, err)
	assert.Equal(t, contracts.StateConsolidation, p.CurrentState)
	assert.Zero(t, p.ReviewIterations)
}

type brokenStore struct{}

func (brokenStore) Append(context.Context, string, defensefile.Entry, string) (string, error) {
	return "", assert.AnError
}

func (brokenStore) Read(context.Context, string) ([]defensefile.Entry, string, error) {
	return nil, "", assert.AnError
}

func (brokenStore) Head(context.Context, string) (string, uint64, error) {
	return "", 0, assert.AnError
}

func TestAdvancePhaseMonotonic(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateIntake)

	res, err := m.AdvancePhase(context.Background(), p, contracts.PhaseF1, "system", locks.Input{Project: p})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, contracts.PhaseF1, p.CurrentPhase)
	assert.True(t, p.PhaseCompleted(contracts.PhaseF0))

	// Skipping ahead is refused outright.
	_, err = m.AdvancePhase(context.Background(), p, contracts.PhaseF4, "system", locks.Input{Project: p})
	require.Error(t, err)
	assert.Equal(t, contracts.PhaseF1, p.CurrentPhase)
}

func TestAdvanceIntoHardLockHeld(t *testing.T) {
	m, log, _ := testMachine(t)
	p := newProject(contracts.StateIntake)
	p.CurrentPhase = contracts.PhaseF1

	res, err := m.AdvancePhase(context.Background(), p, contracts.PhaseF2, "system", locks.Input{Project: p})
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.NotNil(t, res.Lock)
	assert.Equal(t, contracts.PhaseF1, p.CurrentPhase)

	// The refused attempt still leaves an audit trace.
	entries, _, err := log.Read(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, defensefile.EntryLockEvaluation, entries[0].Type)
}

func TestLockEvaluationRecordsWithDisabledMetricsProvider(t *testing.T) {
	m, _, _ := testMachine(t)
	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	m.WithObservability(obs)

	p := newProject(contracts.StateFormalizationLegal)
	res, err := m.TransitionTo(context.Background(), p, contracts.StateExecution, "system", "", locks.Input{Project: p})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestAdvanceToClosePublishesFinalEvent(t *testing.T) {
	m, _, hub := testMachine(t)
	p := newProject(contracts.StatePayment)
	p.CurrentPhase = contracts.PhaseF8

	sub := hub.Subscribe(p.ID)
	<-sub.Events() // connected

	res, err := m.AdvancePhase(context.Background(), p, contracts.PhaseF9, "system", locks.Input{Project: p})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	ev := <-sub.Events()
	assert.Equal(t, contracts.EventTransition, ev.Status)
	assert.True(t, ev.Final)
}

func TestRetryPhaseClearsCompletion(t *testing.T) {
	m, _, _ := testMachine(t)
	p := newProject(contracts.StateIntake)
	p.MarkPhaseCompleted(contracts.PhaseF1)

	m.RetryPhase(p, contracts.PhaseF1)
	assert.False(t, p.PhaseCompleted(contracts.PhaseF1))
}
