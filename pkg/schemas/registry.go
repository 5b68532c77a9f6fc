// Package schemas binds every agent to a JSON Schema for its structured
// output and provides validation, narrow coercion and completeness
// reporting over those schemas.
package schemas

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// binding ties an agent to its schema resource and release version.
type binding struct {
	file    string
	version string
}

// bindings is static per release. Versions follow semver; a bump of the
// major part signals an incompatible output contract.
var bindings = map[contracts.AgentID]binding{
	contracts.AgentSponsor:     {"schemas/a1_sponsor.json", "1.2.0"},
	contracts.AgentProcurement: {"schemas/a2_procurement.json", "1.0.1"},
	contracts.AgentFiscal:      {"schemas/a3_fiscal.json", "1.4.0"},
	contracts.AgentLegal:       {"schemas/a4_legal.json", "1.1.0"},
	contracts.AgentFinance:     {"schemas/a5_finance.json", "1.2.1"},
	contracts.AgentAuditor:     {"schemas/a6_auditor.json", "1.0.0"},
	contracts.AgentDefense:     {"schemas/a7_defense.json", "1.3.0"},
}

// Registry holds the compiled schemas for all agents.
type Registry struct {
	mu       sync.RWMutex
	compiled map[contracts.AgentID]*jsonschema.Schema
}

// NewRegistry compiles every embedded schema. Compilation failure is a
// release defect, not a runtime condition, so it is returned as an error
// from startup.
func NewRegistry() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	for agentID, b := range bindings {
		data, err := schemaFS.ReadFile(b.file)
		if err != nil {
			return nil, fmt.Errorf("schemas: read %s: %w", b.file, err)
		}
		if err := compiler.AddResource(b.file, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schemas: add resource for %s: %w", agentID, err)
		}
	}

	compiled := make(map[contracts.AgentID]*jsonschema.Schema, len(bindings))
	for agentID, b := range bindings {
		sch, err := compiler.Compile(b.file)
		if err != nil {
			return nil, fmt.Errorf("schemas: compile %s: %w", agentID, err)
		}
		compiled[agentID] = sch
	}
	return &Registry{compiled: compiled}, nil
}

// schema returns the compiled schema for an agent.
func (r *Registry) schema(agentID contracts.AgentID) (*jsonschema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sch, ok := r.compiled[agentID]
	if !ok {
		return nil, fmt.Errorf("schemas: no schema bound for agent %s", agentID)
	}
	return sch, nil
}

// Version returns the release version of an agent's output schema.
func (r *Registry) Version(agentID contracts.AgentID) (string, error) {
	b, ok := bindings[agentID]
	if !ok {
		return "", fmt.Errorf("schemas: no schema bound for agent %s", agentID)
	}
	return b.version, nil
}

// CheckCompatible verifies that the schema version an agent config was
// written against is satisfied by the registry's release, using a caret
// (same-major) constraint.
func (r *Registry) CheckCompatible(agentID contracts.AgentID, declared string) error {
	b, ok := bindings[agentID]
	if !ok {
		return fmt.Errorf("schemas: no schema bound for agent %s", agentID)
	}
	constraint, err := semver.NewConstraint("^" + declared)
	if err != nil {
		return fmt.Errorf("schemas: agent %s declares malformed schema version %q: %w", agentID, declared, err)
	}
	current, err := semver.NewVersion(b.version)
	if err != nil {
		return fmt.Errorf("schemas: registry version %q for %s: %w", b.version, agentID, err)
	}
	if !constraint.Check(current) {
		return fmt.Errorf("schemas: agent %s requires schema ^%s but registry provides %s", agentID, declared, b.version)
	}
	return nil
}

// deref follows $ref chains to the effective schema.
func deref(s *jsonschema.Schema) *jsonschema.Schema {
	for s != nil && s.Ref != nil {
		s = s.Ref
	}
	return s
}

// hasType reports whether the schema accepts the given JSON type.
func hasType(s *jsonschema.Schema, typ string) bool {
	s = deref(s)
	if s == nil {
		return false
	}
	for _, t := range s.Types {
		if t == typ {
			return true
		}
	}
	return false
}

// instancePath renders a JSON-pointer instance location as a dotted path.
func instancePath(location string) string {
	if location == "" || location == "/" {
		return "(root)"
	}
	return strings.ReplaceAll(strings.TrimPrefix(location, "/"), "/", ".")
}
