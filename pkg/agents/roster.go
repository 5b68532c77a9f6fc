// Package agents loads the static agent roster: who deliberates in
// which phase, in which tier, and against which output schema.
package agents

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

//go:embed roster.yaml
var rosterYAML []byte

// Roster is the validated set of agent configurations for a release.
type Roster struct {
	byID  map[contracts.AgentID]*contracts.AgentConfig
	order []contracts.AgentID
}

// compatibilityChecker is what the roster needs from the schema
// registry at load time.
type compatibilityChecker interface {
	CheckCompatible(agentID contracts.AgentID, declared string) error
}

type rosterFile struct {
	Agents []contracts.AgentConfig `yaml:"agents"`
}

// Load parses the embedded roster and verifies every agent against the
// schema registry. Any inconsistency is a release defect surfaced at
// startup.
func Load(registry compatibilityChecker) (*Roster, error) {
	return parse(rosterYAML, registry)
}

func parse(data []byte, registry compatibilityChecker) (*Roster, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agents: parse roster: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agents: roster is empty")
	}

	r := &Roster{byID: make(map[contracts.AgentID]*contracts.AgentConfig, len(file.Agents))}
	for i := range file.Agents {
		cfg := &file.Agents[i]
		if _, dup := r.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("agents: duplicate agent %s", cfg.ID)
		}
		if len(cfg.ParticipatingPhases) == 0 {
			return nil, fmt.Errorf("agents: %s participates in no phase", cfg.ID)
		}
		for _, p := range cfg.ParticipatingPhases {
			if !p.Valid() {
				return nil, fmt.Errorf("agents: %s lists unknown phase %q", cfg.ID, p)
			}
		}
		if cfg.Tier != contracts.TierIndependent && cfg.Tier != contracts.TierOrdered {
			return nil, fmt.Errorf("agents: %s has unknown tier %q", cfg.ID, cfg.Tier)
		}
		if cfg.MaxTokens <= 0 {
			return nil, fmt.Errorf("agents: %s has no token budget", cfg.ID)
		}
		if registry != nil {
			if err := registry.CheckCompatible(cfg.ID, cfg.SchemaVersion); err != nil {
				return nil, fmt.Errorf("agents: %s: %w", cfg.ID, err)
			}
		}
		r.byID[cfg.ID] = cfg
		r.order = append(r.order, cfg.ID)
	}
	return r, nil
}

// Get returns one agent's configuration.
func (r *Roster) Get(agentID contracts.AgentID) (*contracts.AgentConfig, error) {
	cfg, ok := r.byID[agentID]
	if !ok {
		return nil, fmt.Errorf("agents: unknown agent %s", agentID)
	}
	return cfg, nil
}

// All returns every agent in roster order.
func (r *Roster) All() []*contracts.AgentConfig {
	out := make([]*contracts.AgentConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// ForPhase partitions the phase's participants into the independent
// tier (run concurrently) and the ordered tier (run serially after).
func (r *Roster) ForPhase(phase contracts.Phase) (independent, ordered []*contracts.AgentConfig) {
	for _, id := range r.order {
		cfg := r.byID[id]
		if !cfg.ParticipatesIn(phase) {
			continue
		}
		if cfg.Tier == contracts.TierOrdered {
			ordered = append(ordered, cfg)
		} else {
			independent = append(independent, cfg)
		}
	}
	return independent, ordered
}
