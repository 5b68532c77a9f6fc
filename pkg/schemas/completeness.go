package schemas

import (
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// CompletenessReport counts schema-declared leaf fields that carry a
// non-empty value. A deliberation below 50% completeness is rejected by
// the runner.
type CompletenessReport struct {
	FieldsFilled int     `json:"fields_filled"`
	FieldsTotal  int     `json:"fields_total"`
	Percent      float64 `json:"percent"`
}

// MinCompletenessPercent is the acceptance floor for deliberations.
const MinCompletenessPercent = 50.0

// Completeness reports how many of the agent schema's leaf fields the
// output fills.
func (r *Registry) Completeness(agentID contracts.AgentID, output map[string]any) (*CompletenessReport, error) {
	sch, err := r.schema(agentID)
	if err != nil {
		return nil, err
	}

	filled, total := countFields(deref(sch), output)
	report := &CompletenessReport{FieldsFilled: filled, FieldsTotal: total}
	if total > 0 {
		report.Percent = float64(filled) / float64(total) * 100
	}
	return report, nil
}

// countFields walks declared properties; a leaf is a property whose
// effective schema declares no nested properties.
func countFields(sch *jsonschema.Schema, obj map[string]any) (filled, total int) {
	if sch == nil {
		return 0, 0
	}
	for name, propSchema := range sch.Properties {
		effective := deref(propSchema)
		value, present := obj[name]

		if effective != nil && len(effective.Properties) > 0 {
			var nested map[string]any
			if m, ok := value.(map[string]any); ok && present {
				nested = m
			}
			f, t := countFields(effective, nested)
			filled += f
			total += t
			continue
		}

		total++
		if present && !isEmpty(value) {
			filled++
		}
	}
	return filled, total
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
