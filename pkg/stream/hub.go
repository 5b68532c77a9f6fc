// Package stream is the per-project publish-subscribe hub behind the
// progress event feed. Publication never blocks: a slow subscriber
// drops events into its overflow counter instead of stalling the
// publisher or its peers.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Options tune the hub. Zero values fall back to the released defaults.
type Options struct {
	QueueSize int
	Keepalive time.Duration
	IdleGC    time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Keepalive <= 0 {
		o.Keepalive = 15 * time.Second
	}
	if o.IdleGC <= 0 {
		o.IdleGC = 60 * time.Second
	}
	return o
}

// Subscription is one consumer's handle on a project's event feed.
type Subscription struct {
	hub       *Hub
	projectID string
	ch        chan contracts.Event
	overflow  atomic.Uint64
	closeOnce sync.Once
}

// Events is the subscriber's queue. It is closed after a final
// complete/error event has been flushed, or on unsubscribe.
func (s *Subscription) Events() <-chan contracts.Event { return s.ch }

// Overflow counts events dropped because this subscriber's queue was
// full.
func (s *Subscription) Overflow() uint64 { return s.overflow.Load() }

// Close detaches the subscriber from the hub.
func (s *Subscription) Close() { s.hub.unsubscribe(s.projectID, s) }

func (s *Subscription) closeChannel() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// session is the per-project fan-out state.
type session struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	pingTimer *time.Timer
	gcTimer   *time.Timer
	closed    bool
}

// Hub routes events to subscribers keyed by project. The top-level lock
// covers only session lookup; delivery runs under the per-session lock.
type Hub struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*session
}

func NewHub(opts Options) *Hub {
	return &Hub{opts: opts.withDefaults(), sessions: make(map[string]*session)}
}

// Subscribe attaches a new consumer to a project's feed. The first
// event on the queue is a synthetic connected marker.
func (h *Hub) Subscribe(projectID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		projectID: projectID,
		ch:        make(chan contracts.Event, h.opts.QueueSize),
	}
	connected := contracts.Event{
		ProjectID: projectID,
		Status:    contracts.EventConnected,
		Timestamp: time.Now().UTC(),
	}

	for {
		h.mu.Lock()
		sess, ok := h.sessions[projectID]
		if !ok {
			sess = &session{subs: make(map[*Subscription]struct{})}
			h.sessions[projectID] = sess
		}
		h.mu.Unlock()

		sess.mu.Lock()
		if sess.closed {
			// The session terminated between lookup and lock; replace it
			// and attach to a fresh one.
			sess.mu.Unlock()
			h.dropSession(projectID, sess)
			continue
		}
		sess.subs[sub] = struct{}{}
		if sess.gcTimer != nil {
			sess.gcTimer.Stop()
			sess.gcTimer = nil
		}
		h.resetPingLocked(projectID, sess)
		// Queued under the session lock so a terminal flush cannot close
		// the channel between registration and this send.
		sub.ch <- connected
		sess.mu.Unlock()
		return sub
	}
}

// Publish fans an event out to every subscriber of the project without
// blocking. A full queue drops the event for that subscriber only. An
// event with Final set and a complete/error status terminates the
// session: queues are closed after the event is flushed.
func (h *Hub) Publish(projectID string, event contracts.Event) {
	h.mu.Lock()
	sess, ok := h.sessions[projectID]
	h.mu.Unlock()
	if !ok {
		return
	}

	event.ProjectID = projectID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	terminal := event.Final &&
		(event.Status == contracts.EventComplete || event.Status == contracts.EventError)

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	for sub := range sess.subs {
		select {
		case sub.ch <- event:
		default:
			sub.overflow.Add(1)
		}
	}

	if terminal {
		sess.terminateLocked()
		sess.mu.Unlock()
		h.dropSession(projectID, sess)
		return
	}
	h.resetPingLocked(projectID, sess)
	sess.mu.Unlock()
}

// terminateLocked closes every subscriber queue with the session lock
// held. Buffered events drain before the consumer sees the close. The
// caller drops the session from the hub after releasing the lock; the
// hub lock is never taken under the session lock.
func (s *session) terminateLocked() {
	s.closed = true
	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}
	if s.gcTimer != nil {
		s.gcTimer.Stop()
	}
	for sub := range s.subs {
		sub.closeChannel()
	}
	s.subs = make(map[*Subscription]struct{})
}

// dropSession removes a terminated session from the lookup map.
func (h *Hub) dropSession(projectID string, sess *session) {
	h.mu.Lock()
	if h.sessions[projectID] == sess {
		delete(h.sessions, projectID)
	}
	h.mu.Unlock()
}

// resetPingLocked (re)arms the keepalive timer. Any delivered event,
// pings included, pushes the next ping out by the keepalive interval.
func (h *Hub) resetPingLocked(projectID string, sess *session) {
	if sess.pingTimer != nil {
		sess.pingTimer.Stop()
	}
	sess.pingTimer = time.AfterFunc(h.opts.Keepalive, func() {
		h.ping(projectID, sess)
	})
}

func (h *Hub) ping(projectID string, sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed || len(sess.subs) == 0 {
		return
	}
	ping := contracts.Event{
		ProjectID: projectID,
		Status:    contracts.EventPing,
		Timestamp: time.Now().UTC(),
	}
	for sub := range sess.subs {
		select {
		case sub.ch <- ping:
		default:
			sub.overflow.Add(1)
		}
	}
	h.resetPingLocked(projectID, sess)
}

func (h *Hub) unsubscribe(projectID string, sub *Subscription) {
	h.mu.Lock()
	sess, ok := h.sessions[projectID]
	h.mu.Unlock()
	if !ok {
		sub.closeChannel()
		return
	}

	sess.mu.Lock()
	delete(sess.subs, sub)
	if len(sess.subs) == 0 && !sess.closed {
		if sess.gcTimer != nil {
			sess.gcTimer.Stop()
		}
		sess.gcTimer = time.AfterFunc(h.opts.IdleGC, func() {
			h.collect(projectID, sess)
		})
	}
	sess.mu.Unlock()
	sub.closeChannel()
}

// collect drops a session that stayed without subscribers for the idle
// window.
func (h *Hub) collect(projectID string, sess *session) {
	sess.mu.Lock()
	if sess.closed || len(sess.subs) > 0 {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	if sess.pingTimer != nil {
		sess.pingTimer.Stop()
	}
	sess.mu.Unlock()
	h.dropSession(projectID, sess)
}

// SessionCount reports how many projects currently have live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
