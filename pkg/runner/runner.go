// Package runner executes one agent deliberation end to end: context
// assembly, prompt construction, LLM call with retry, schema validation
// with coercion, defense-file append and event emission.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tributo-labs/defensor/pkg/agents"
	"github.com/tributo-labs/defensor/pkg/assembler"
	"github.com/tributo-labs/defensor/pkg/canonicalize"
	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/defensefile"
	"github.com/tributo-labs/defensor/pkg/llm"
	"github.com/tributo-labs/defensor/pkg/observability"
	"github.com/tributo-labs/defensor/pkg/retry"
	"github.com/tributo-labs/defensor/pkg/schemas"
	"github.com/tributo-labs/defensor/pkg/stream"
)

// Runner wires the collaborators of a single agent run. It mutates no
// project state; that is the orchestrator's job.
type Runner struct {
	assembler    *assembler.Assembler
	provider     llm.Provider
	registry     *schemas.Registry
	defenseLog   *defensefile.Log
	hub          *stream.Hub
	retryPolicy  retry.Policy
	agentTimeout time.Duration
	logger       *slog.Logger
	obs          *observability.Provider
	clock        func() time.Time
	newID        func() string
}

func New(
	asm *assembler.Assembler,
	provider llm.Provider,
	registry *schemas.Registry,
	defenseLog *defensefile.Log,
	hub *stream.Hub,
	agentTimeout time.Duration,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		assembler:    asm,
		provider:     provider,
		registry:     registry,
		defenseLog:   defenseLog,
		hub:          hub,
		retryPolicy:  retry.DefaultPolicy(),
		agentTimeout: agentTimeout,
		logger:       logger,
		clock:        time.Now,
		newID:        uuid.NewString,
	}
}

// WithRetryPolicy overrides the LLM retry schedule.
func (r *Runner) WithRetryPolicy(p retry.Policy) *Runner {
	r.retryPolicy = p
	return r
}

// WithClock overrides the timestamp source.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// WithObservability attaches the metrics provider. A nil provider is
// accepted and records nothing.
func (r *Runner) WithObservability(obs *observability.Provider) *Runner {
	r.obs = obs
	return r
}

// Request is one agent run within one phase of one project.
type Request struct {
	Agent  *contracts.AgentConfig
	Phase  contracts.Phase
	Bundle assembler.Bundle
}

// Run executes the agent and returns its deliberation. An invalid
// output after coercion still yields a recorded deliberation with
// validation_status=invalid and decision REQUEST_CHANGES; only context,
// provider and storage failures return an error.
func (r *Runner) Run(ctx context.Context, req Request) (d *contracts.Deliberation, err error) {
	projectID := req.Bundle.Project.ID
	agentID := req.Agent.ID
	started := r.clock()
	defer func() {
		r.obs.RecordAgentRun(ctx, string(agentID), string(req.Phase), r.clock().Sub(started), err)
	}()

	r.hub.Publish(projectID, contracts.Event{
		AgentID: agentID,
		Status:  contracts.EventAgentStart,
		Message: req.Agent.Role,
	})

	agentCtx, err := r.assembler.Assemble(req.Agent, req.Bundle, true)
	if err != nil {
		r.publishError(projectID, agentID, err)
		return nil, err
	}

	prompt, err := r.buildPrompt(req, agentCtx)
	if err != nil {
		r.publishError(projectID, agentID, err)
		return nil, err
	}

	var raw string
	opID := fmt.Sprintf("%s/%s/%s", projectID, req.Phase, agentID)
	err = r.retryPolicy.Do(ctx, opID, func(callCtx context.Context) error {
		var callErr error
		raw, callErr = r.provider.Complete(callCtx, prompt, req.Agent.MaxTokens, r.agentTimeout)
		return callErr
	})
	if err != nil {
		r.logger.Warn("llm call failed",
			slog.String("project_id", projectID),
			slog.String("agent_id", string(agentID)),
			slog.Any("error", err))
		r.publishError(projectID, agentID, err)
		return nil, err
	}

	deliberation := r.evaluate(req, raw)
	deliberation.ElapsedMillis = r.clock().Sub(started).Milliseconds()

	entryData, err := deliberationEntry(deliberation)
	if err != nil {
		return nil, err
	}
	if _, err := r.defenseLog.Append(ctx, projectID, defensefile.EntryDeliberation, string(agentID), entryData); err != nil {
		// The run aborts and no completion event is emitted; the caller
		// treats this as a failed agent run.
		r.logger.Error("defense file append failed",
			slog.String("project_id", projectID),
			slog.String("agent_id", string(agentID)),
			slog.Any("error", err))
		return nil, err
	}

	r.hub.Publish(projectID, contracts.Event{
		AgentID:  agentID,
		Status:   contracts.EventAgentDone,
		Message:  string(deliberation.Decision),
		Progress: 100,
		Data: map[string]any{
			"decision":          string(deliberation.Decision),
			"validation_status": string(deliberation.ValidationStatus),
			"elapsed_ms":        deliberation.ElapsedMillis,
		},
	})
	return deliberation, nil
}

// buildPrompt concatenates the system role, the regulatory extract for
// the project's typology, the phase checklist, the serialized context
// and the response-schema hint.
func (r *Runner) buildPrompt(req Request, agentCtx map[string]any) (string, error) {
	serialized, err := canonicalize.JCS(agentCtx)
	if err != nil {
		return "", fmt.Errorf("runner: serialize context: %w", err)
	}
	version, err := r.registry.Version(req.Agent.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(req.Agent.SystemPrompt)
	b.WriteString("\n\n## Marco regulatorio\n")
	b.WriteString(agents.RegulatoryExtract(req.Bundle.Project.Typology))
	b.WriteString("\n\n## Lista de verificación de la fase ")
	b.WriteString(string(req.Phase))
	b.WriteString("\n")
	b.WriteString(agents.PhaseChecklist(req.Phase))
	b.WriteString("\n\n## Contexto del proyecto\n")
	b.Write(serialized)
	b.WriteString("\n\n## Formato de respuesta\n")
	fmt.Fprintf(&b, "Responde únicamente con un objeto JSON válido conforme al esquema %s v%s, sin texto adicional.",
		req.Agent.OutputSchemaID, version)
	return b.String(), nil
}

// evaluate parses and validates the model's raw response. It never
// fails: unusable output becomes an invalid deliberation.
func (r *Runner) evaluate(req Request, raw string) *contracts.Deliberation {
	d := &contracts.Deliberation{
		ID:        r.newID(),
		ProjectID: req.Bundle.Project.ID,
		Phase:     req.Phase,
		AgentID:   req.Agent.ID,
		CreatedAt: r.clock().UTC(),
	}

	output, parseErr := parseJSONObject(raw)
	if parseErr != nil {
		d.Decision = contracts.DecisionRequestChanges
		d.ValidationStatus = contracts.ValidationInvalid
		d.StructuredOutput = map[string]any{"raw": raw, "parse_error": parseErr.Error()}
		return d
	}

	res, err := r.registry.ValidateAndCorrect(req.Agent.ID, output)
	if err != nil {
		d.Decision = contracts.DecisionRequestChanges
		d.ValidationStatus = contracts.ValidationInvalid
		d.StructuredOutput = output
		return d
	}
	d.StructuredOutput = res.CorrectedOutput
	d.CorrectionsApplied = res.CorrectionsApplied

	if !res.Valid {
		d.Decision = contracts.DecisionRequestChanges
		d.ValidationStatus = contracts.ValidationInvalid
		r.logger.Warn("agent output failed validation",
			slog.String("agent_id", string(req.Agent.ID)),
			slog.Any("errors", res.Errors))
		return d
	}

	if report, err := r.registry.Completeness(req.Agent.ID, res.CorrectedOutput); err == nil &&
		report.Percent < schemas.MinCompletenessPercent {
		d.Decision = contracts.DecisionRequestChanges
		d.ValidationStatus = contracts.ValidationInvalid
		return d
	}

	if len(res.CorrectionsApplied) > 0 {
		d.ValidationStatus = contracts.ValidationCorrected
	} else {
		d.ValidationStatus = contracts.ValidationValid
	}
	d.Decision = decisionFrom(res.CorrectedOutput)
	d.RiskContribution = pillarScoresFrom(res.CorrectedOutput["risk_contribution"])
	d.RequiresHumanReview, _ = res.CorrectedOutput["requires_human_review"].(bool)

	if req.Agent.IssuesCriticalApproval != "" && d.Decision.IsApproval() {
		if s, ok := res.CorrectedOutput["critical_approval"].(string); ok &&
			contracts.CriticalApproval(s) == req.Agent.IssuesCriticalApproval {
			d.CriticalApproval = req.Agent.IssuesCriticalApproval
		}
	}
	return d
}

func (r *Runner) publishError(projectID string, agentID contracts.AgentID, err error) {
	reason := "failed"
	switch {
	case errors.Is(err, contracts.ErrCancelled):
		reason = "cancelled"
	case errors.Is(err, contracts.ErrTimeout):
		reason = "timeout"
	case errors.Is(err, contracts.ErrIncompleteContext):
		reason = "incomplete_context"
	}
	r.hub.Publish(projectID, contracts.Event{
		AgentID: agentID,
		Status:  contracts.EventError,
		Message: err.Error(),
		Data:    map[string]any{"reason": reason},
	})
}

// parseJSONObject tolerates a fenced code block around the object.
func parseJSONObject(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, fmt.Errorf("runner: response is not a JSON object: %w", err)
	}
	return out, nil
}

func decisionFrom(output map[string]any) contracts.Decision {
	s, _ := output["decision"].(string)
	d := contracts.Decision(s)
	switch d {
	case contracts.DecisionApprove, contracts.DecisionApproveWithConditions,
		contracts.DecisionRequestChanges, contracts.DecisionReject:
		return d
	}
	return contracts.DecisionRequestChanges
}

func pillarScoresFrom(v any) contracts.PillarScores {
	m, ok := v.(map[string]any)
	if !ok {
		return contracts.PillarScores{}
	}
	return contracts.PillarScores{
		BusinessReason:  intFrom(m["business_reason"]),
		EconomicBenefit: intFrom(m["economic_benefit"]),
		Materiality:     intFrom(m["materiality"]),
		Traceability:    intFrom(m["traceability"]),
	}
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// deliberationEntry flattens a deliberation for the defense file.
func deliberationEntry(d *contracts.Deliberation) (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("runner: serialize deliberation: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("runner: reshape deliberation: %w", err)
	}
	return data, nil
}
