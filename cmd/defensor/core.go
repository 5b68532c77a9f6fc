package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	gcs "cloud.google.com/go/storage"

	"github.com/tributo-labs/defensor/pkg/agents"
	"github.com/tributo-labs/defensor/pkg/api"
	"github.com/tributo-labs/defensor/pkg/assembler"
	"github.com/tributo-labs/defensor/pkg/config"
	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/defensefile"
	"github.com/tributo-labs/defensor/pkg/lifecycle"
	"github.com/tributo-labs/defensor/pkg/llm"
	"github.com/tributo-labs/defensor/pkg/locks"
	"github.com/tributo-labs/defensor/pkg/observability"
	"github.com/tributo-labs/defensor/pkg/orchestrator"
	"github.com/tributo-labs/defensor/pkg/policy"
	"github.com/tributo-labs/defensor/pkg/review"
	"github.com/tributo-labs/defensor/pkg/runner"
	"github.com/tributo-labs/defensor/pkg/schemas"
	"github.com/tributo-labs/defensor/pkg/scoring"
	"github.com/tributo-labs/defensor/pkg/stream"
)

// Core holds every engine component, constructed once at startup and
// injected where needed. No component reaches for globals.
type Core struct {
	Config       *config.Config
	Logger       *slog.Logger
	Registry     *schemas.Registry
	Roster       *agents.Roster
	Assembler    *assembler.Assembler
	Provider     llm.Provider
	DefenseLog   *defensefile.Log
	Hub          *stream.Hub
	Runner       *runner.Runner
	Orchestrator *orchestrator.Orchestrator
	Locks        *locks.Evaluator
	Policy       *policy.Evaluator
	Machine      *lifecycle.Machine
	Reviews      *review.Manager
	ScoreLimits  scoring.Limits
	Attestor     *defensefile.Attestor
	Exporter     defensefile.Exporter

	mu          sync.RWMutex
	projects    map[string]*contracts.Project
	suppliers   map[string]*contracts.Supplier
	documents   map[string][]contracts.Document
	materiality map[string]float64
}

func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, obs *observability.Provider) (*Core, error) {
	registry, err := schemas.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	roster, err := agents.Load(registry)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	var store defensefile.Store
	if cfg.DatabaseURL != "" {
		store, err = defensefile.NewPostgresStore(cfg.DatabaseURL)
	} else {
		store, err = defensefile.NewSQLiteStore("defensor.db")
	}
	if err != nil {
		return nil, fmt.Errorf("open defense file store: %w", err)
	}
	defenseLog := defensefile.NewLog(store)

	var limiter llm.Limiter
	if cfg.RedisAddr != "" {
		limiter = llm.NewRedisLimiter(cfg.RedisAddr, 60, 10)
	} else {
		limiter = llm.NewLocalLimiter(60, 10)
	}
	provider := llm.NewHTTPProvider(cfg.LLMServiceURL, cfg.LLMAPIKey, cfg.LLMModel, limiter)

	hub := stream.NewHub(stream.Options{
		Keepalive: cfg.StreamKeepalive,
		IdleGC:    cfg.StreamSessionIdleGC,
	})
	asm := assembler.New()
	agentRunner := runner.New(asm, provider, registry, defenseLog, hub, cfg.AgentTimeout, logger).
		WithObservability(obs)
	orch := orchestrator.New(roster, agentRunner, cfg.PhaseTimeout, logger).
		WithObservability(obs)

	lockEvaluator := locks.NewEvaluator(locks.Limits{
		MaterialityMinPercent:  float64(cfg.MaterialityMinPercent),
		ThreeWayMatchTolerance: cfg.ThreeWayMatchTolerance,
	})
	rules := policy.DefaultRules()
	if cfg.PolicyBundleDir != "" {
		if rules, err = policy.LoadBundles(cfg.PolicyBundleDir); err != nil {
			return nil, fmt.Errorf("load policy bundles: %w", err)
		}
	}
	policyEvaluator, err := policy.NewEvaluator(rules)
	if err != nil {
		return nil, fmt.Errorf("compile policy rules: %w", err)
	}
	var attestor *defensefile.Attestor
	if cfg.AttestationKey != "" {
		attestor = defensefile.NewAttestor([]byte(cfg.AttestationKey), cfg.AttestationIssuer)
	}
	var exporter defensefile.Exporter
	switch {
	case cfg.ExportS3Bucket != "":
		exporter, err = defensefile.NewS3ExporterFromEnv(ctx, cfg.ExportS3Bucket)
		if err != nil {
			return nil, fmt.Errorf("build s3 exporter: %w", err)
		}
	case cfg.ExportGCSBucket != "":
		gcsClient, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		exporter = defensefile.NewGCSExporter(gcsClient, cfg.ExportGCSBucket)
	}

	machine := lifecycle.NewMachine(lockEvaluator, defenseLog, hub, cfg.ReviewIterationCap, logger).
		WithObservability(obs)
	scoreLimits := scoring.Limits{
		AmountHumanReviewThreshold: cfg.AmountHumanReviewThreshold,
		ScoreHumanReviewThreshold:  cfg.RiskScoreHumanReviewThreshold,
	}

	return &Core{
		Config:       cfg,
		Logger:       logger,
		Registry:     registry,
		Roster:       roster,
		Assembler:    asm,
		Provider:     provider,
		DefenseLog:   defenseLog,
		Hub:          hub,
		Runner:       agentRunner,
		Orchestrator: orch,
		Locks:        lockEvaluator,
		Policy:       policyEvaluator,
		Machine:      machine,
		Reviews:      review.NewManager(defenseLog, hub, 48*cfg.AgentTimeout),
		ScoreLimits:  scoreLimits,
		Attestor:     attestor,
		Exporter:     exporter,
		projects:     make(map[string]*contracts.Project),
		suppliers:    make(map[string]*contracts.Supplier),
		documents:    make(map[string][]contracts.Document),
		materiality:  make(map[string]float64),
	}, nil
}

// RegisterProject adds a project with its supplier and documents to the
// in-process registry. The durable project store lives in the outer
// product; the engine only needs a resolvable snapshot.
func (c *Core) RegisterProject(p *contracts.Project, s *contracts.Supplier, docs []contracts.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects[p.ID] = p
	c.suppliers[p.ID] = s
	c.documents[p.ID] = docs
}

// SetMateriality records a project's materiality matrix completeness.
func (c *Core) SetMateriality(projectID string, percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materiality[projectID] = percent
}

// AdvancePhase resolves the project, rebuilds the lock input from the
// defense file and delegates to the state machine.
func (c *Core) AdvancePhase(ctx context.Context, projectID string, to contracts.Phase, actor string) (*lifecycle.Result, error) {
	c.mu.RLock()
	project, ok := c.projects[projectID]
	supplier := c.suppliers[projectID]
	docs := c.documents[projectID]
	materiality := c.materiality[projectID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", projectID, api.ErrProjectNotFound)
	}

	in, err := c.lockInput(ctx, project, supplier, docs, materiality)
	if err != nil {
		return nil, err
	}
	return c.Machine.AdvancePhase(ctx, project, to, actor, in)
}

// DefenseFile builds a verified snapshot of the project's chain,
// attested when an attestation key is configured.
func (c *Core) DefenseFile(ctx context.Context, projectID string) (*defensefile.Snapshot, error) {
	c.mu.RLock()
	_, ok := c.projects[projectID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", projectID, api.ErrProjectNotFound)
	}
	return defensefile.BuildSnapshot(ctx, c.DefenseLog, c.Attestor, projectID)
}

// ExportDefenseFile ships the snapshot to the configured audit archive.
func (c *Core) ExportDefenseFile(ctx context.Context, projectID string) (string, error) {
	if c.Exporter == nil {
		return "", api.ErrExportNotConfigured
	}
	snap, err := c.DefenseFile(ctx, projectID)
	if err != nil {
		return "", err
	}
	return c.Exporter.Export(ctx, snap)
}

// lockInput assembles the evaluator's view: the project snapshot, the
// deliberations replayed from the defense file, and the scoring
// engine's review requirement.
func (c *Core) lockInput(ctx context.Context, project *contracts.Project, supplier *contracts.Supplier, docs []contracts.Document, materiality float64) (locks.Input, error) {
	entries, _, err := c.DefenseLog.Read(ctx, project.ID)
	if err != nil {
		return locks.Input{}, err
	}
	deliberations := deliberationsFrom(entries)

	if supplier != nil {
		flags, err := c.Policy.Evaluate(project, supplier, policy.Limits{
			AmountThresholdCents: c.ScoreLimits.AmountHumanReviewThreshold,
		})
		if err != nil {
			return locks.Input{}, fmt.Errorf("evaluate critical-flag rules: %w", err)
		}
		project.CriticalFlags = flags
	}

	subject := scoring.Subject{
		AmountCents: project.AmountCents,
		Typology:    project.Typology,
	}
	if supplier != nil {
		subject.EFOSFlag = supplier.EFOSFlag
		subject.RelationshipType = supplier.RelationshipType
	}
	classification := scoring.Classify(scoring.Score{
		Total:     project.RiskScoreTotal,
		PerPillar: project.RiskScorePerPillar,
	}, subject, c.ScoreLimits)

	return locks.Input{
		Project:             project,
		Supplier:            supplier,
		Deliberations:       deliberations,
		Documents:           docs,
		MaterialityPercent:  materiality,
		HumanReviewRequired: classification.HumanReviewRequired,
	}, nil
}

// deliberationsFrom replays deliberation entries out of the defense
// file, preserving append order.
func deliberationsFrom(entries []defensefile.Entry) []*contracts.Deliberation {
	var out []*contracts.Deliberation
	for _, e := range entries {
		if e.Type != defensefile.EntryDeliberation {
			continue
		}
		raw, err := json.Marshal(e.Data)
		if err != nil {
			continue
		}
		var d contracts.Deliberation
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		out = append(out, &d)
	}
	return out
}
