// Package review tracks pending human reviews. A review is opened when
// the scoring engine requires one; its resolution flips the project's
// human_review_obtained flag, lands in the defense file and is streamed
// to subscribers.
package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tributo-labs/defensor/pkg/contracts"
	"github.com/tributo-labs/defensor/pkg/defensefile"
	"github.com/tributo-labs/defensor/pkg/scoring"
	"github.com/tributo-labs/defensor/pkg/stream"
)

// Status is the lifecycle state of a review.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// OnTimeout is the policy applied when a review passes its deadline.
type OnTimeout string

const (
	// TimeoutReject expires the review; human review stays unobtained.
	TimeoutReject OnTimeout = "reject"
	// TimeoutHold keeps the review pending past the deadline. Used for
	// mandatory reviews that only a human may close.
	TimeoutHold OnTimeout = "hold"
)

// Review is one pending or resolved human-review request.
type Review struct {
	ID             string              `json:"review_id"`
	ProjectID      string              `json:"project_id"`
	Class          scoring.ReviewClass `json:"class"`
	Level          scoring.Level       `json:"level"`
	ScoreTotal     int                 `json:"score_total"`
	OnTimeout      OnTimeout           `json:"on_timeout"`
	Status         Status              `json:"status"`
	RequestedAt    time.Time           `json:"requested_at"`
	Deadline       time.Time           `json:"deadline"`
	ResolvedBy     string              `json:"resolved_by,omitempty"`
	ResolutionNote string              `json:"resolution_note,omitempty"`
	ResolvedAt     time.Time           `json:"resolved_at,omitempty"`
}

// Manager owns the review lifecycle. State is in memory; the durable
// record is the defense-file entry written on every open and close.
type Manager struct {
	defenseLog *defensefile.Log
	hub        *stream.Hub
	timeout    time.Duration

	mu      sync.Mutex
	reviews map[string]*Review
	pending map[string]string // projectID -> pending review ID
	clock   func() time.Time
	newID   func() string
}

func NewManager(defenseLog *defensefile.Log, hub *stream.Hub, timeout time.Duration) *Manager {
	return &Manager{
		defenseLog: defenseLog,
		hub:        hub,
		timeout:    timeout,
		reviews:    make(map[string]*Review),
		pending:    make(map[string]string),
		clock:      time.Now,
		newID:      uuid.NewString,
	}
}

// WithClock overrides the timestamp source.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Request opens a review for the project based on its classification.
// A project with a pending review gets the existing one back; a
// classification that does not require review is an error.
func (m *Manager) Request(ctx context.Context, project *contracts.Project, c scoring.Classification) (*Review, error) {
	if !c.HumanReviewRequired {
		return nil, fmt.Errorf("project %s does not require human review", project.ID)
	}

	m.mu.Lock()
	if id, ok := m.pending[project.ID]; ok {
		existing := m.reviews[id]
		m.mu.Unlock()
		return existing, nil
	}

	now := m.clock().UTC()
	onTimeout := TimeoutReject
	if c.HumanReviewClass == scoring.ReviewMandatory {
		onTimeout = TimeoutHold
	}
	r := &Review{
		ID:          m.newID(),
		ProjectID:   project.ID,
		Class:       c.HumanReviewClass,
		Level:       c.Level,
		ScoreTotal:  c.Score.Total,
		OnTimeout:   onTimeout,
		Status:      StatusPending,
		RequestedAt: now,
		Deadline:    now.Add(m.timeout),
	}
	m.reviews[r.ID] = r
	m.pending[project.ID] = r.ID
	m.mu.Unlock()

	data := map[string]any{
		"review_id":   r.ID,
		"status":      string(r.Status),
		"class":       string(r.Class),
		"score_total": r.ScoreTotal,
		"deadline":    r.Deadline.Format(time.RFC3339),
	}
	if _, err := m.defenseLog.Append(ctx, project.ID, defensefile.EntryHumanReview, "system", data); err != nil {
		m.drop(r)
		return nil, err
	}

	m.hub.Publish(project.ID, contracts.Event{
		Status:  contracts.EventProgress,
		Message: "human review requested",
		Data:    map[string]any{"review_id": r.ID, "class": string(r.Class)},
	})
	return r, nil
}

// Approve resolves a pending review in favor of the project and flips
// human_review_obtained.
func (m *Manager) Approve(ctx context.Context, reviewID, approver, note string, project *contracts.Project) (*Review, error) {
	r, err := m.resolve(ctx, reviewID, StatusApproved, approver, note, project)
	if err != nil {
		return nil, err
	}
	project.HumanReviewObtained = true
	project.UpdatedAt = m.clock().UTC()
	return r, nil
}

// Reject resolves a pending review against the project. The flag stays
// unobtained, so the F8 lock keeps holding.
func (m *Manager) Reject(ctx context.Context, reviewID, approver, reason string, project *contracts.Project) (*Review, error) {
	return m.resolve(ctx, reviewID, StatusRejected, approver, reason, project)
}

// CheckDeadlines expires pending reviews past their deadline whose
// policy is reject. Hold reviews remain pending. Expired reviews are
// returned for the caller to act on.
func (m *Manager) CheckDeadlines(ctx context.Context) ([]*Review, error) {
	now := m.clock().UTC()

	m.mu.Lock()
	var expired []*Review
	for _, r := range m.reviews {
		if r.Status == StatusPending && r.OnTimeout == TimeoutReject && now.After(r.Deadline) {
			r.Status = StatusExpired
			r.ResolvedAt = now
			delete(m.pending, r.ProjectID)
			expired = append(expired, r)
		}
	}
	m.mu.Unlock()

	for _, r := range expired {
		data := map[string]any{
			"review_id": r.ID,
			"status":    string(StatusExpired),
			"deadline":  r.Deadline.Format(time.RFC3339),
		}
		if _, err := m.defenseLog.Append(ctx, r.ProjectID, defensefile.EntryHumanReview, "system", data); err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// Pending returns the open review for a project, if any.
func (m *Manager) Pending(projectID string) (*Review, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pending[projectID]
	if !ok {
		return nil, false
	}
	return m.reviews[id], true
}

// PendingCount reports how many reviews are open.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) resolve(ctx context.Context, reviewID string, status Status, actor, note string, project *contracts.Project) (*Review, error) {
	m.mu.Lock()
	r, ok := m.reviews[reviewID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("review %q not found", reviewID)
	}
	if r.Status != StatusPending {
		m.mu.Unlock()
		return nil, fmt.Errorf("review %q is not pending (status=%s)", reviewID, r.Status)
	}
	if r.ProjectID != project.ID {
		m.mu.Unlock()
		return nil, fmt.Errorf("review %q belongs to project %s, not %s", reviewID, r.ProjectID, project.ID)
	}
	r.Status = status
	r.ResolvedBy = actor
	r.ResolutionNote = note
	r.ResolvedAt = m.clock().UTC()
	delete(m.pending, r.ProjectID)
	m.mu.Unlock()

	data := map[string]any{
		"review_id":   r.ID,
		"status":      string(status),
		"resolved_by": actor,
		"note":        note,
	}
	if _, err := m.defenseLog.Append(ctx, r.ProjectID, defensefile.EntryHumanReview, actor, data); err != nil {
		return nil, err
	}

	m.hub.Publish(r.ProjectID, contracts.Event{
		Status:  contracts.EventProgress,
		Message: "human review " + string(status),
		Data:    map[string]any{"review_id": r.ID, "resolved_by": actor},
	})
	return r, nil
}

// drop removes a review whose opening entry failed to persist.
func (m *Manager) drop(r *Review) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reviews, r.ID)
	delete(m.pending, r.ProjectID)
}
