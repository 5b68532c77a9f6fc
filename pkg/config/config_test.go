package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 60*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 180*time.Second, cfg.PhaseTimeout)
	assert.Equal(t, contracts.FromPesos(5_000_000), cfg.AmountHumanReviewThreshold)
	assert.Equal(t, 60, cfg.RiskScoreHumanReviewThreshold)
	assert.Equal(t, 80, cfg.MaterialityMinPercent)
	assert.InDelta(t, 0.05, cfg.ThreeWayMatchTolerance, 1e-9)
	assert.Equal(t, 2, cfg.ReviewIterationCap)
	assert.Equal(t, 15*time.Second, cfg.StreamKeepalive)
	assert.Equal(t, 60*time.Second, cfg.StreamSessionIdleGC)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENT_TIMEOUT_SECONDS", "10")
	t.Setenv("THREE_WAY_MATCH_TOLERANCE", "0.1")
	t.Setenv("REVIEW_ITERATION_CAP", "3")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.AgentTimeout)
	assert.InDelta(t, 0.1, cfg.ThreeWayMatchTolerance, 1e-9)
	assert.Equal(t, 3, cfg.ReviewIterationCap)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("PHASE_TIMEOUT_SECONDS", "not-a-number")
	cfg := Load()
	assert.Equal(t, 180*time.Second, cfg.PhaseTimeout)
}
