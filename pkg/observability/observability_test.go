package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsSafe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := New(context.Background(), &Config{Enabled: false}, logger)
	require.NoError(t, err)

	// Recording against a disabled provider must be a no-op, not a panic.
	p.RecordAgentRun(context.Background(), "A3_FISCAL", "F1", 2*time.Second, nil)
	p.RecordAgentRun(context.Background(), "A3_FISCAL", "F1", time.Second, errors.New("boom"))
	p.RecordPhaseRun(context.Background(), "F1", "APPROVE", false)
	p.RecordLockEvaluation(context.Background(), "F2", false)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.NotNil(t, p.Tracer())
}

func TestNilProviderIsSafe(t *testing.T) {
	// Components treat the provider as optional; a nil one must record
	// nothing rather than panic.
	var p *Provider
	p.RecordAgentRun(context.Background(), "A3_FISCAL", "F1", time.Second, nil)
	p.RecordPhaseRun(context.Background(), "F1", "APPROVE", true)
	p.RecordLockEvaluation(context.Background(), "F8", true)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "defensor-engine", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}
