package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Components wrap these with %w so callers can
// classify failures with errors.Is regardless of the layer they cross.
var (
	ErrInvalidEvaluation = errors.New("invalid evaluation")
	ErrIncompleteContext = errors.New("incomplete context")
	ErrSchemaViolation   = errors.New("schema violation")
	ErrCancelled         = errors.New("cancelled")
	ErrTimeout           = errors.New("timeout")
	ErrStorageFailure    = errors.New("storage failure")
	ErrTransient         = errors.New("transient upstream failure")
)

// InvalidEvaluationError names the offending scoring field. Sub-scores
// outside their discrete allowed set are never rounded silently.
type InvalidEvaluationError struct {
	Field   string
	Value   int
	Allowed []int
}

func (e *InvalidEvaluationError) Error() string {
	return fmt.Sprintf("invalid evaluation: %s=%d not in allowed set %v", e.Field, e.Value, e.Allowed)
}

func (e *InvalidEvaluationError) Unwrap() error { return ErrInvalidEvaluation }

// IncompleteContextError reports mandatory context paths that are missing
// or empty for an agent. The run never reaches the LLM.
type IncompleteContextError struct {
	AgentID      AgentID
	MissingPaths []string
}

func (e *IncompleteContextError) Error() string {
	return fmt.Sprintf("incomplete context for %s: missing %s", e.AgentID, strings.Join(e.MissingPaths, ", "))
}

func (e *IncompleteContextError) Unwrap() error { return ErrIncompleteContext }

// SchemaViolationError carries the field-level validation errors that
// survived coercion.
type SchemaViolationError struct {
	AgentID AgentID
	Fields  []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation for %s: %s", e.AgentID, strings.Join(e.Fields, "; "))
}

func (e *SchemaViolationError) Unwrap() error { return ErrSchemaViolation }

// LockResult is the outcome of a hard-lock predicate. A held lock is an
// expected, structured result — not an error.
type LockResult struct {
	Phase    Phase    `json:"phase"`
	Released bool     `json:"released"`
	Blockers []string `json:"blockers,omitempty"`
}
