package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/defensefile"
	"github.com/tributo-labs/defensor/pkg/scoring"
	"github.com/tributo-labs/defensor/pkg/stream"
)

func testManager(t *testing.T) (*Manager, *defensefile.Log) {
	t.Helper()
	log := defensefile.NewLog(defensefile.NewMemoryStore())
	hub := stream.NewHub(stream.Options{Keepalive: time.Hour, IdleGC: time.Hour})
	return NewManager(log, hub, 48*time.Hour), log
}

func discretionary() scoring.Classification {
	return scoring.Classification{
		Score:               scoring.Score{Total: 45},
		Level:               scoring.LevelMedium,
		HumanReviewRequired: true,
		HumanReviewClass:    scoring.ReviewDiscretionary,
	}
}

func mandatory() scoring.Classification {
	c := discretionary()
	c.Score.Total = 72
	c.Level = scoring.LevelHigh
	c.HumanReviewClass = scoring.ReviewMandatory
	return c
}

func TestRequestOpensPendingReview(t *testing.T) {
	m, log := testManager(t)
	p := &contracts.Project{ID: "prj-1"}

	r, err := m.Request(context.Background(), p, discretionary())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, TimeoutReject, r.OnTimeout)
	assert.Equal(t, 1, m.PendingCount())

	entries, _, err := log.Read(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, defensefile.EntryHumanReview, entries[0].Type)
}

func TestRequestIsIdempotentWhilePending(t *testing.T) {
	m, _ := testManager(t)
	p := &contracts.Project{ID: "prj-1"}

	first, err := m.Request(context.Background(), p, discretionary())
	require.NoError(t, err)
	second, err := m.Request(context.Background(), p, discretionary())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, m.PendingCount())
}

func TestRequestWithoutRequirementFails(t *testing.T) {
	m, _ := testManager(t)
	c := discretionary()
	c.HumanReviewRequired = false

	_, err := m.Request(context.Background(), &contracts.Project{ID: "prj-1"}, c)
	require.Error(t, err)
}

func TestApproveFlipsHumanReviewObtained(t *testing.T) {
	m, log := testManager(t)
	p := &contracts.Project{ID: "prj-1"}

	r, err := m.Request(context.Background(), p, mandatory())
	require.NoError(t, err)
	assert.Equal(t, TimeoutHold, r.OnTimeout)

	resolved, err := m.Approve(context.Background(), r.ID, "cfo@acme.mx", "reviewed TP study", p)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
	assert.True(t, p.HumanReviewObtained)
	assert.Equal(t, 0, m.PendingCount())

	entries, _, err := log.Read(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRejectKeepsFlagUnobtained(t *testing.T) {
	m, _ := testManager(t)
	p := &contracts.Project{ID: "prj-1"}

	r, err := m.Request(context.Background(), p, discretionary())
	require.NoError(t, err)

	_, err = m.Reject(context.Background(), r.ID, "cfo@acme.mx", "insufficient evidence", p)
	require.NoError(t, err)
	assert.False(t, p.HumanReviewObtained)

	// A resolved review cannot be resolved again.
	_, err = m.Approve(context.Background(), r.ID, "cfo@acme.mx", "", p)
	require.Error(t, err)
}

func TestDeadlineExpiresRejectPolicyOnly(t *testing.T) {
	m, _ := testManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return now })

	discretionaryProject := &contracts.Project{ID: "prj-1"}
	mandatoryProject := &contracts.Project{ID: "prj-2"}
	_, err := m.Request(context.Background(), discretionaryProject, discretionary())
	require.NoError(t, err)
	_, err = m.Request(context.Background(), mandatoryProject, mandatory())
	require.NoError(t, err)

	now = now.Add(72 * time.Hour)
	expired, err := m.CheckDeadlines(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "prj-1", expired[0].ProjectID)
	assert.Equal(t, StatusExpired, expired[0].Status)

	// The mandatory review holds past its deadline.
	_, pending := m.Pending("prj-2")
	assert.True(t, pending)
	_, pending = m.Pending("prj-1")
	assert.False(t, pending)
}
