package schemas

import (
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Result is the outcome of a pure validation pass.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks output against the agent's schema without modifying it.
func (r *Registry) Validate(agentID contracts.AgentID, output map[string]any) (*Result, error) {
	sch, err := r.schema(agentID)
	if err != nil {
		return nil, err
	}
	return validateAgainst(sch, output), nil
}

func validateAgainst(sch *jsonschema.Schema, output map[string]any) *Result {
	if err := sch.Validate(normalize(output)); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &Result{Valid: false, Errors: flattenErrors(ve)}
		}
		return &Result{Valid: false, Errors: []string{err.Error()}}
	}
	return &Result{Valid: true}
}

// flattenErrors collects leaf validation causes as "path: message"
// strings, sorted for stable output.
func flattenErrors(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, fmt.Sprintf("%s: %s", instancePath(e.InstanceLocation), e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}

// normalize deep-converts the output so the validator sees only JSON
// types: map[string]any, []any, string, bool, float64, nil. Integer Go
// values survive as-is (the validator treats them numerically).
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
