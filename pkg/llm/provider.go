// Package llm defines the model-provider boundary consumed by the agent
// runner, an OpenAI-compatible HTTP implementation, and the rate
// limiters that guard it.
package llm

import (
	"context"
	"time"
)

// Provider is the single entry point the engine uses to talk to a model.
// Implementations must honor the timeout and abort promptly on
// cancellation; the engine never cares which model sits behind it.
type Provider interface {
	Complete(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (string, error)
}
