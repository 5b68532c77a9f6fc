package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

func fastPolicy() Policy {
	return Policy{
		Delays:    []time.Duration{time.Millisecond, 2 * time.Millisecond},
		MaxJitter: 0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: llm 503", contracts.ErrTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fmt.Errorf("%w: llm 502", contracts.ErrTransient)
	})
	require.ErrorIs(t, err, contracts.ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestDoNeverRetriesSchemaViolation(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &contracts.SchemaViolationError{AgentID: contracts.AgentFiscal, Fields: []string{"summary"}}
	})
	require.ErrorIs(t, err, contracts.ErrSchemaViolation)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTimeout(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("%w: llm deadline", contracts.ErrTimeout)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{Delays: []time.Duration{time.Minute}}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, "op", func(context.Context) error {
			calls++
			return fmt.Errorf("%w: llm 503", contracts.ErrTransient)
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, contracts.ErrCancelled)
	assert.Equal(t, 1, calls)
}

func TestDoReportsTimeoutOnDeadlineDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	policy := Policy{Delays: []time.Duration{time.Minute}}

	calls := 0
	err := policy.Do(ctx, "op", func(context.Context) error {
		calls++
		return fmt.Errorf("%w: llm 503", contracts.ErrTransient)
	})
	require.ErrorIs(t, err, contracts.ErrTimeout)
	assert.NotErrorIs(t, err, contracts.ErrCancelled)
	assert.Equal(t, 1, calls)
}

func TestJitterDeterministic(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, p.jitter("agent-a3/prj-1", 0), p.jitter("agent-a3/prj-1", 0))
	assert.Less(t, p.jitter("agent-a3/prj-1", 1), p.MaxJitter)
}
