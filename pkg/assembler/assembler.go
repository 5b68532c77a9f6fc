// Package assembler builds the per-agent context map from project data.
// Each agent declares the dotted field paths it needs; the assembler
// resolves them, enforces mandatory presence and injects a _meta block
// for logging.
package assembler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Bundle carries everything an agent's context can draw from.
type Bundle struct {
	Project       *contracts.Project
	Supplier      *contracts.Supplier
	Documents     []contracts.Document
	Deliberations []*contracts.Deliberation
	Extras        map[string]any
}

// Assembler resolves dotted field paths against a Bundle.
type Assembler struct {
	now func() time.Time
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithClock overrides the timestamp source for the _meta block.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

func New(opts ...Option) *Assembler {
	a := &Assembler{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble returns the context map restricted to the union of the
// agent's mandatory and desirable paths. When validateMandatory is set,
// any mandatory path that is missing or empty fails the call before an
// LLM is ever reached. Identical inputs yield identical maps.
func (a *Assembler) Assemble(cfg *contracts.AgentConfig, b Bundle, validateMandatory bool) (map[string]any, error) {
	sources, err := newSources(b)
	if err != nil {
		return nil, err
	}

	ctx := make(map[string]any)
	var missing []string

	for _, path := range cfg.RequiredContext.Mandatory {
		value, ok := sources.resolve(path)
		if !ok || isEmpty(value) {
			missing = append(missing, path)
			continue
		}
		ctx[path] = value
	}
	if validateMandatory && len(missing) > 0 {
		sort.Strings(missing)
		return nil, &contracts.IncompleteContextError{AgentID: cfg.ID, MissingPaths: missing}
	}

	for _, path := range cfg.RequiredContext.Desirable {
		if value, ok := sources.resolve(path); ok && !isEmpty(value) {
			ctx[path] = value
		}
	}

	included := make([]string, 0, len(ctx))
	for path := range ctx {
		included = append(included, path)
	}
	sort.Strings(included)

	ctx["_meta"] = map[string]any{
		"agent_id":        string(cfg.ID),
		"assembled_at":    a.now().UTC().Format(time.RFC3339),
		"included_fields": included,
	}
	return ctx, nil
}

// sources holds the bundle's JSON projections, built once per call.
type sources struct {
	project       map[string]any
	supplier      map[string]any
	documents     []contracts.Document
	deliberations []*contracts.Deliberation
	extras        map[string]any
}

func newSources(b Bundle) (*sources, error) {
	s := &sources{
		documents:     b.Documents,
		deliberations: b.Deliberations,
		extras:        b.Extras,
	}
	var err error
	if b.Project != nil {
		if s.project, err = toJSONMap(b.Project); err != nil {
			return nil, err
		}
	}
	if b.Supplier != nil {
		if s.supplier, err = toJSONMap(b.Supplier); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// resolve looks up one dotted path. The first segment names the source;
// the rest navigates into it.
func (s *sources) resolve(path string) (any, bool) {
	root, rest, _ := strings.Cut(path, ".")
	switch root {
	case "project":
		return navigate(s.project, rest)
	case "supplier":
		return navigate(s.supplier, rest)
	case "documents":
		if rest == "" {
			return toJSONValue(s.documents)
		}
		var matched []contracts.Document
		for _, d := range s.documents {
			if string(d.Type) == rest {
				matched = append(matched, d)
			}
		}
		if len(matched) == 0 {
			return nil, false
		}
		return toJSONValue(matched)
	case "deliberations":
		if rest == "" {
			return toJSONValue(s.deliberations)
		}
		var matched []*contracts.Deliberation
		for _, d := range s.deliberations {
			if string(d.AgentID) == rest {
				matched = append(matched, d)
			}
		}
		if len(matched) == 0 {
			return nil, false
		}
		return toJSONValue(matched)
	case "extras":
		if rest == "" {
			return nil, false
		}
		return navigate(s.extras, rest)
	}
	return nil, false
}

// navigate walks a dotted path through nested maps.
func navigate(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if path == "" {
		return m, true
	}
	segments := strings.Split(path, ".")
	var current any = m
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toJSONMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("assembler: serialize %T: %w", v, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("assembler: deserialize %T: %w", v, err)
	}
	return out, nil
}

func toJSONValue(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
