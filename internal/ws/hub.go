// Package ws is the connection registry and push channel. Each registry
// entry tracks an authenticated viewer, whether its websocket is
// currently reachable, and the per-session delivery state (snapshot
// keys, delivered-notification keys, pop-up cooldown stamps) that the
// notification router and the fallback reconciler depend on.
package ws

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"andon/internal/models"
)

// Event is one typed message pushed to a viewer.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event types emitted by the core.
const (
	EventDashboardUpdate  = "dashboardUpdate"
	EventNewProblem       = "newProblem"
	EventForwarded        = "problemForwarded"
	EventReceived         = "problemReceived"
	EventFeedbackResolved = "problemFeedbackResolved"
	EventFinalResolved    = "problemFinalResolved"
	EventResolved         = "problemResolved"
	EventAuthError        = "authError"
	EventError            = "error"
)

// Session is one registry entry. It is created when a viewer first
// connects and disposed when the viewer's auth session goes away; the
// websocket may detach and reattach in between without losing the
// delivery state the reconciler needs.
type Session struct {
	ID    string
	Token string

	connMu sync.Mutex
	conn   *gws.Conn

	mu         sync.Mutex
	viewer     models.Viewer
	lastKeys   map[string]struct{}
	delivered  map[string]struct{}
	lastPopup  map[string]time.Time
	pending    []Event
	detachedAt time.Time
}

// Viewer returns the authenticated identity currently bound to the
// session. Re-authentication may rebind it while a fan-out is reading,
// so callers take a copy through here instead of touching the field.
func (s *Session) Viewer() models.Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

func (s *Session) setViewer(v models.Viewer) {
	s.mu.Lock()
	s.viewer = v
	s.mu.Unlock()
}

// Attach binds a live websocket to the session and flushes any events
// the reconciler synthesized while the push channel was down.
func (s *Session) Attach(conn *gws.Conn) {
	s.connMu.Lock()
	old := s.conn
	s.conn = conn
	s.connMu.Unlock()
	if old != nil {
		old.Close()
	}

	s.mu.Lock()
	queued := s.pending
	s.pending = nil
	s.detachedAt = time.Time{}
	s.mu.Unlock()
	for _, evt := range queued {
		s.Send(evt)
	}
}

// Detach marks the push channel down. The session itself survives so
// snapshot and dedup state is still there when the viewer reconnects.
func (s *Session) Detach(conn *gws.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	s.mu.Lock()
	s.detachedAt = time.Now()
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Reachable reports whether a push send can currently succeed.
func (s *Session) Reachable() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn != nil
}

// DetachedSince returns when the push channel went down (zero when up).
func (s *Session) DetachedSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detachedAt
}

// Send pushes one event, fire-and-forget. Delivery failure marks the
// channel down and never propagates to the caller.
func (s *Session) Send(evt Event) bool {
	s.connMu.Lock()
	conn := s.conn
	if conn == nil {
		s.connMu.Unlock()
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := conn.WriteJSON(evt)
	s.connMu.Unlock()
	if err != nil {
		log.Printf("ws: send to %s failed: %v", s.Viewer().Username, err)
		s.Detach(conn)
		return false
	}
	return true
}

// Queue stores a reconciler-synthesized event for delivery on reconnect.
func (s *Session) Queue(evt Event) {
	s.mu.Lock()
	s.pending = append(s.pending, evt)
	s.mu.Unlock()
}

// MarkDelivered records a notification key, returning false when the key
// was already delivered to this viewer (duplicate suppressed).
func (s *Session) MarkDelivered(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.delivered[key]; dup {
		return false
	}
	s.delivered[key] = struct{}{}
	return true
}

// AllowPopup checks and stamps the per-category cooldown window.
// Dashboard-state events never go through here.
func (s *Session) AllowPopup(category string, now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastPopup[category]; ok && now.Sub(last) < cooldown {
		return false
	}
	s.lastPopup[category] = now
	return true
}

// SnapshotKeys returns a copy of the last-known problem-key set.
func (s *Session) SnapshotKeys() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make(map[string]struct{}, len(s.lastKeys))
	for k := range s.lastKeys {
		keys[k] = struct{}{}
	}
	return keys
}

// ReplaceSnapshot swaps in the problem-key set from the latest
// reconciliation pass or dashboard delivery.
func (s *Session) ReplaceSnapshot(keys map[string]struct{}) {
	s.mu.Lock()
	s.lastKeys = keys
	s.mu.Unlock()
}

// Hub is the connection registry.
type Hub struct {
	mu      sync.RWMutex
	byToken map[string]*Session

	// OnRequestUpdate is invoked when a client asks for an immediate
	// re-send of its filtered snapshot.
	OnRequestUpdate func(*Session)
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{byToken: make(map[string]*Session)}
}

// Ensure returns the session for the given auth token, creating it with
// fresh delivery state on first contact.
func (h *Hub) Ensure(token string, viewer models.Viewer) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.byToken[token]; ok {
		s.setViewer(viewer)
		return s
	}
	s := &Session{
		ID:        uuid.New().String(),
		Token:     token,
		viewer:    viewer,
		lastKeys:  make(map[string]struct{}),
		delivered: make(map[string]struct{}),
		lastPopup: make(map[string]time.Time),
	}
	h.byToken[token] = s
	return s
}

// Get returns the session for an auth token, if any.
func (h *Hub) Get(token string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byToken[token]
}

// Remove disposes a session and closes its channel.
func (h *Hub) Remove(token string) {
	h.mu.Lock()
	s := h.byToken[token]
	delete(h.byToken, token)
	h.mu.Unlock()
	if s != nil {
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()
	}
}

// Sessions snapshots the current registry members.
func (h *Hub) Sessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.byToken))
	for _, s := range h.byToken {
		out = append(out, s)
	}
	return out
}

// Prune drops sessions whose push channel has been down longer than
// maxDown. Their viewers will start from an empty snapshot on return.
func (h *Hub) Prune(maxDown time.Duration) int {
	cutoff := time.Now().Add(-maxDown)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for token, s := range h.byToken {
		since := s.DetachedSince()
		if !since.IsZero() && since.Before(cutoff) {
			delete(h.byToken, token)
			n++
		}
	}
	return n
}
