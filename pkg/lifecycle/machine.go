// Package lifecycle implements the project state machine: legal
// transitions over the workflow states, consensus evaluation of phase
// verdicts, the iteration cap, and hard-lock gating of phase advances.
// Every accepted move is appended to the defense file and published on
// the event stream.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/defensefile"
	"github.com/tributo-labs/defensor/pkg/locks"
	"github.com/tributo-labs/defensor/pkg/observability"
	"github.com/tributo-labs/defensor/pkg/stream"
)

// legalTransitions lists the allowed next states per state. Absent
// states (REJECTED_F0, CLOSED) are terminal.
var legalTransitions = map[contracts.State][]contracts.State{
	contracts.StateIntake:             {contracts.StateParallelValidation},
	contracts.StateParallelValidation: {contracts.StateConsolidation},
	contracts.StateConsolidation: {
		contracts.StateApprovedF0,
		contracts.StateRejectedF0,
		contracts.StateIterativeReview,
		contracts.StateHumanEscalated,
	},
	contracts.StateIterativeReview: {
		contracts.StateConsolidation,
		contracts.StateHumanEscalated,
	},
	contracts.StateHumanEscalated: {
		contracts.StateConsolidation,
		contracts.StateApprovedF0,
		contracts.StateRejectedF0,
	},
	contracts.StateApprovedF0:         {contracts.StateFormalizationLegal},
	contracts.StateFormalizationLegal: {contracts.StateExecution},
	contracts.StateExecution:          {contracts.StateDelivery},
	contracts.StateDelivery:           {contracts.StatePayment},
	contracts.StatePayment:            {contracts.StateClosed},
}

// stateLockPhase maps states whose entry is gated by a hard lock to the
// lock's phase. Entering EXECUTION requires the may-start-execution
// predicate; entering PAYMENT requires may-release-payment.
var stateLockPhase = map[contracts.State]contracts.Phase{
	contracts.StateExecution: contracts.PhaseF2,
	contracts.StatePayment:   contracts.PhaseF8,
}

// Result is the outcome of a transition or phase-advance attempt. A
// held lock is a refusal, not an error: Accepted is false and Lock
// carries the blockers with their suggested actions.
type Result struct {
	Accepted   bool                  `json:"accepted"`
	Transition *contracts.Transition `json:"transition,omitempty"`
	Lock       *contracts.LockResult `json:"lock,omitempty"`
	Actions    []locks.Action        `json:"actions,omitempty"`
}

// Machine drives one tenant's projects through the lifecycle. A
// per-project mutex serializes transitions and the defense-file appends
// they produce, preserving the hash chain; no cross-project lock exists.
type Machine struct {
	locks        *locks.Evaluator
	defenseLog   *defensefile.Log
	hub          *stream.Hub
	iterationCap int
	logger       *slog.Logger
	obs          *observability.Provider
	clock        func() time.Time
	newID        func() string

	mu       sync.Mutex
	projects map[string]*sync.Mutex
}

func NewMachine(evaluator *locks.Evaluator, defenseLog *defensefile.Log, hub *stream.Hub, iterationCap int, logger *slog.Logger) *Machine {
	return &Machine{
		locks:        evaluator,
		defenseLog:   defenseLog,
		hub:          hub,
		iterationCap: iterationCap,
		logger:       logger,
		clock:        time.Now,
		newID:        uuid.NewString,
	}
}

// WithClock overrides the timestamp source.
func (m *Machine) WithClock(clock func() time.Time) *Machine {
	m.clock = clock
	return m
}

// WithObservability attaches the metrics provider. A nil provider is
// accepted and records nothing.
func (m *Machine) WithObservability(obs *observability.Provider) *Machine {
	m.obs = obs
	return m
}

func (m *Machine) projectMutex(projectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.projects == nil {
		m.projects = make(map[string]*sync.Mutex)
	}
	mu, ok := m.projects[projectID]
	if !ok {
		mu = &sync.Mutex{}
		m.projects[projectID] = mu
	}
	return mu
}

// TransitionTo attempts to move the project to a new workflow state. An
// illegal transition is an error; a held hard lock is a refused Result.
// Accepted transitions mutate the project, append to the defense file
// and publish a transition event.
func (m *Machine) TransitionTo(ctx context.Context, project *contracts.Project, to contracts.State, actor, reason string, in locks.Input) (*Result, error) {
	mu := m.projectMutex(project.ID)
	mu.Lock()
	defer mu.Unlock()

	from := project.CurrentState
	if !legal(from, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s for project %s", from, to, project.ID)
	}

	if lockPhase, gated := stateLockPhase[to]; gated {
		res := m.locks.Evaluate(lockPhase, in)
		m.recordLockEvaluation(ctx, project.ID, actor, res)
		if !res.Released {
			return &Result{
				Accepted: false,
				Lock:     &res,
				Actions:  locks.SuggestedActions(res.Blockers),
			}, nil
		}
	}

	return m.commit(ctx, project, from, to, actor, reason)
}

// ApplyVerdict evaluates blocking-agent consensus for a consolidation
// round. Unanimous approval or rejection moves to the corresponding
// decision state; anything else enters ITERATIVE_REVIEW, and exceeding
// the iteration cap escalates to a human.
func (m *Machine) ApplyVerdict(ctx context.Context, project *contracts.Project, verdict *contracts.PhaseVerdict, actor string, in locks.Input) (*Result, error) {
	to := consensusState(verdict)
	reason := fmt.Sprintf("consensus on phase %s: %s", verdict.Phase, verdict.Aggregate)

	iterating := false
	if to == contracts.StateIterativeReview {
		if project.ReviewIterations >= m.iterationCap {
			to = contracts.StateHumanEscalated
			reason = fmt.Sprintf("iteration cap of %d exceeded on phase %s", m.iterationCap, verdict.Phase)
		} else {
			iterating = true
		}
	}
	res, err := m.TransitionTo(ctx, project, to, actor, reason, in)
	// The iteration is spent only once the transition commits; a refused
	// or failed transition must not burn the cap.
	if err == nil && res.Accepted && iterating {
		project.ReviewIterations++
	}
	return res, err
}

// consensusState maps a phase verdict to the decision state. Unanimity
// means every blocking agent said APPROVE, or every one said REJECT.
func consensusState(verdict *contracts.PhaseVerdict) contracts.State {
	if verdict.Incomplete || len(verdict.DecisionsByAgent) == 0 {
		return contracts.StateIterativeReview
	}
	allApprove, allReject := true, true
	for _, d := range verdict.DecisionsByAgent {
		if d != contracts.DecisionApprove {
			allApprove = false
		}
		if d != contracts.DecisionReject {
			allReject = false
		}
	}
	switch {
	case allApprove:
		return contracts.StateApprovedF0
	case allReject:
		return contracts.StateRejectedF0
	default:
		return contracts.StateIterativeReview
	}
}

// AdvancePhase attempts to move the project to the next phase. Phases
// advance monotonically, one step at a time; a hard-lock phase consults
// the lock evaluator and a held lock refuses the advance without
// touching the project.
func (m *Machine) AdvancePhase(ctx context.Context, project *contracts.Project, to contracts.Phase, actor string, in locks.Input) (*Result, error) {
	mu := m.projectMutex(project.ID)
	mu.Lock()
	defer mu.Unlock()

	if !to.Valid() {
		return nil, fmt.Errorf("unknown phase %q", to)
	}
	from := project.CurrentPhase
	if to.Index() != from.Index()+1 {
		return nil, fmt.Errorf("phase %s does not follow %s for project %s", to, from, project.ID)
	}

	if to.IsHardLock() {
		res := m.locks.Evaluate(to, in)
		m.recordLockEvaluation(ctx, project.ID, actor, res)
		if !res.Released {
			return &Result{
				Accepted: false,
				Lock:     &res,
				Actions:  locks.SuggestedActions(res.Blockers),
			}, nil
		}
	}

	now := m.clock().UTC()
	entry := map[string]any{
		"from_phase":      string(from),
		"to_phase":        string(to),
		"actor":           actor,
		"valid_per_rules": true,
	}
	if _, err := m.defenseLog.Append(ctx, project.ID, defensefile.EntryTransition, actor, entry); err != nil {
		return nil, err
	}

	project.MarkPhaseCompleted(from)
	project.CurrentPhase = to
	project.UpdatedAt = now

	m.hub.Publish(project.ID, contracts.Event{
		Status:  contracts.EventTransition,
		Message: fmt.Sprintf("phase %s -> %s", from, to),
		Data: map[string]any{
			"from_phase": string(from),
			"to_phase":   string(to),
		},
		Final: to == contracts.PhaseF9,
	})
	m.logger.Info("phase advanced",
		slog.String("project_id", project.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return &Result{Accepted: true}, nil
}

// RetryPhase removes a phase from the completed set ahead of a re-run.
// Membership reflects the latest successful completion only.
func (m *Machine) RetryPhase(project *contracts.Project, phase contracts.Phase) {
	mu := m.projectMutex(project.ID)
	mu.Lock()
	defer mu.Unlock()
	project.UnmarkPhaseCompleted(phase)
}

// commit records an accepted state transition.
func (m *Machine) commit(ctx context.Context, project *contracts.Project, from, to contracts.State, actor, reason string) (*Result, error) {
	now := m.clock().UTC()
	transition := &contracts.Transition{
		ID:            m.newID(),
		ProjectID:     project.ID,
		From:          from,
		To:            to,
		Reason:        reason,
		Actor:         actor,
		Timestamp:     now,
		ValidPerRules: true,
	}

	entry := map[string]any{
		"transition_id":   transition.ID,
		"from":            string(from),
		"to":              string(to),
		"reason":          reason,
		"actor":           actor,
		"valid_per_rules": true,
	}
	if _, err := m.defenseLog.Append(ctx, project.ID, defensefile.EntryTransition, actor, entry); err != nil {
		return nil, err
	}

	project.CurrentState = to
	project.UpdatedAt = now

	m.hub.Publish(project.ID, contracts.Event{
		Status:  contracts.EventTransition,
		Message: fmt.Sprintf("%s -> %s", from, to),
		Data: map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		},
		Final: to == contracts.StateClosed,
	})
	m.logger.Info("state transition",
		slog.String("project_id", project.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))
	return &Result{Accepted: true, Transition: transition}, nil
}

// recordLockEvaluation appends the lock outcome to the defense file so
// refused advances leave an audit trace too. Append failures here are
// logged, not fatal: the evaluation itself is pure.
func (m *Machine) recordLockEvaluation(ctx context.Context, projectID, actor string, res contracts.LockResult) {
	m.obs.RecordLockEvaluation(ctx, string(res.Phase), res.Released)
	data := map[string]any{
		"phase":    string(res.Phase),
		"released": res.Released,
	}
	if len(res.Blockers) > 0 {
		blockers := make([]any, len(res.Blockers))
		for i, b := range res.Blockers {
			blockers[i] = b
		}
		data["blockers"] = blockers
	}
	if _, err := m.defenseLog.Append(ctx, projectID, defensefile.EntryLockEvaluation, actor, data); err != nil {
		m.logger.Warn("lock evaluation not recorded",
			slog.String("project_id", projectID),
			slog.Any("error", err))
	}
}

func legal(from, to contracts.State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
