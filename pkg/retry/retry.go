// Package retry implements the agent-runner retry policy: a fixed delay
// schedule with deterministic jitter, applied only to transient
// failures.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Policy is a bounded retry schedule. Attempts = len(Delays) + 1.
type Policy struct {
	Delays    []time.Duration
	MaxJitter time.Duration
}

// DefaultPolicy retries twice, waiting 2s then 6s.
func DefaultPolicy() Policy {
	return Policy{
		Delays:    []time.Duration{2 * time.Second, 6 * time.Second},
		MaxJitter: 250 * time.Millisecond,
	}
}

// Retryable reports whether an error qualifies for another attempt.
// Schema violations and cancellations never do.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, contracts.ErrTransient) || errors.Is(err, contracts.ErrTimeout)
}

// Do runs fn, retrying per the policy. opID seeds the jitter so a given
// operation produces the same delay sequence on every run.
func (p Policy) Do(ctx context.Context, opID string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) || attempt >= len(p.Delays) {
			return err
		}
		delay := p.Delays[attempt] + p.jitter(opID, attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", contracts.ErrTimeout, ctx.Err())
			}
			return fmt.Errorf("%w: %w", contracts.ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}
}

// jitter derives a deterministic offset from a PRF over (opID, attempt).
func (p Policy) jitter(opID string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", opID, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(p.MaxJitter))
}
