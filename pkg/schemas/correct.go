package schemas

import (
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// CorrectionResult is the outcome of validate-and-correct. Corrections
// are limited to three narrow coercions; missing mandatory scalars are
// never fabricated.
type CorrectionResult struct {
	Valid              bool           `json:"valid"`
	Errors             []string       `json:"errors,omitempty"`
	CorrectedOutput    map[string]any `json:"corrected_output"`
	CorrectionsApplied []string       `json:"corrections_applied,omitempty"`
}

// ValidateAndCorrect applies the allowed coercions — numeric string to
// number, "true"/"false" to bool, scalar to single-element list where
// the schema demands a list — then re-validates. The operation is
// idempotent: correcting an already-corrected output applies nothing.
func (r *Registry) ValidateAndCorrect(agentID contracts.AgentID, output map[string]any) (*CorrectionResult, error) {
	sch, err := r.schema(agentID)
	if err != nil {
		return nil, err
	}

	corrected, corrections := coerceObject(deref(sch), copyMap(output), "")
	res := validateAgainst(sch, corrected)
	return &CorrectionResult{
		Valid:              res.Valid,
		Errors:             res.Errors,
		CorrectedOutput:    corrected,
		CorrectionsApplied: corrections,
	}, nil
}

// coerceObject walks the instance against the schema's declared
// properties, applying coercions bottom-up.
func coerceObject(sch *jsonschema.Schema, obj map[string]any, path string) (map[string]any, []string) {
	var corrections []string
	if sch == nil {
		return obj, nil
	}
	for name, propSchema := range sch.Properties {
		value, present := obj[name]
		if !present || value == nil {
			continue
		}
		fieldPath := name
		if path != "" {
			fieldPath = path + "." + name
		}
		coerced, applied := coerceValue(propSchema, value, fieldPath)
		obj[name] = coerced
		corrections = append(corrections, applied...)
	}
	return obj, corrections
}

func coerceValue(propSchema *jsonschema.Schema, value any, path string) (any, []string) {
	var corrections []string
	effective := deref(propSchema)
	if effective == nil {
		return value, nil
	}

	// Scalar → single-element list, only when the schema demands a list.
	if hasType(propSchema, "array") {
		if _, isSlice := value.([]any); !isSlice {
			if _, isMap := value.(map[string]any); !isMap {
				value = []any{value}
				corrections = append(corrections, fmt.Sprintf("%s: wrapped scalar into list", path))
			}
		}
		if slice, ok := value.([]any); ok {
			items := itemsSchema(effective)
			for i, elem := range slice {
				coerced, applied := coerceValue(items, elem, fmt.Sprintf("%s[%d]", path, i))
				slice[i] = coerced
				corrections = append(corrections, applied...)
			}
		}
		return value, corrections
	}

	if s, isString := value.(string); isString {
		switch {
		case hasType(propSchema, "integer"):
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				corrections = append(corrections, fmt.Sprintf("%s: coerced numeric string to number", path))
				return n, corrections
			}
		case hasType(propSchema, "number"):
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				corrections = append(corrections, fmt.Sprintf("%s: coerced numeric string to number", path))
				return f, corrections
			}
		case hasType(propSchema, "boolean"):
			if s == "true" || s == "false" {
				corrections = append(corrections, fmt.Sprintf("%s: coerced string to bool", path))
				return s == "true", corrections
			}
		}
		return value, corrections
	}

	if nested, isMap := value.(map[string]any); isMap && len(effective.Properties) > 0 {
		coerced, applied := coerceObject(effective, nested, path)
		return coerced, append(corrections, applied...)
	}
	return value, corrections
}

// itemsSchema extracts the element schema of an array schema, covering
// both the 2020-12 and legacy keyword layouts.
func itemsSchema(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	if s.Items2020 != nil {
		return s.Items2020
	}
	if items, ok := s.Items.(*jsonschema.Schema); ok {
		return items
	}
	return nil
}

// copyMap deep-copies a JSON-shaped map so corrections never mutate the
// caller's value.
func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
