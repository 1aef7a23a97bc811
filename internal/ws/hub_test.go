package ws

import (
	"sync"
	"testing"
	"time"

	"andon/internal/models"
)

func testViewer() models.Viewer {
	return models.Viewer{Username: "leader1", Role: models.RoleLeader, LineNumber: "1"}
}

func TestEnsureReturnsSameSessionForToken(t *testing.T) {
	hub := NewHub()
	s1 := hub.Ensure("tok-1", testViewer())
	s2 := hub.Ensure("tok-1", testViewer())
	if s1 != s2 {
		t.Error("Ensure must return the existing session for a known token")
	}
	s3 := hub.Ensure("tok-2", testViewer())
	if s3 == s1 {
		t.Error("Distinct tokens must get distinct sessions")
	}
	if s1.ID == s3.ID {
		t.Error("Session IDs must be unique")
	}
}

func TestEnsureRefreshesViewer(t *testing.T) {
	hub := NewHub()
	hub.Ensure("tok-1", testViewer())

	promoted := testViewer()
	promoted.Role = models.RoleAdmin
	s := hub.Ensure("tok-1", promoted)
	if s.Viewer().Role != models.RoleAdmin {
		t.Error("Ensure must refresh the viewer on an existing session")
	}
}

func TestViewerRefreshDuringFanOut(t *testing.T) {
	hub := NewHub()
	hub.Ensure("tok-1", testViewer())

	// A re-authentication racing a fan-out must never hand the reader a
	// torn viewer: the role/line pair is rebound atomically.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			v := testViewer()
			if i%2 == 0 {
				v.Role = models.RoleManager
				v.LineNumber = ""
				v.Division = "assembly"
			}
			hub.Ensure("tok-1", v)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			for _, s := range hub.Sessions() {
				v := s.Viewer()
				leader := v.Role == models.RoleLeader && v.LineNumber == "1" && v.Division == ""
				manager := v.Role == models.RoleManager && v.LineNumber == "" && v.Division == "assembly"
				if !leader && !manager {
					t.Errorf("Torn viewer observed: %+v", v)
					return
				}
			}
		}
	}()
	wg.Wait()
}

func TestMarkDeliveredDedup(t *testing.T) {
	hub := NewHub()
	s := hub.Ensure("tok-1", testViewer())

	if !s.MarkDelivered("newProblem|CNC-7|machine|PRB-0001") {
		t.Error("First delivery of a key must pass")
	}
	if s.MarkDelivered("newProblem|CNC-7|machine|PRB-0001") {
		t.Error("Repeat delivery of the same key must be suppressed")
	}
	if !s.MarkDelivered("newProblem|CNC-7|machine|PRB-0002") {
		t.Error("A different problem ID is a different key")
	}
	if !s.MarkDelivered("problemForwarded|CNC-7|machine|PRB-0001") {
		t.Error("A different event type is a different key")
	}
}

func TestAllowPopupCooldownWindow(t *testing.T) {
	hub := NewHub()
	s := hub.Ensure("tok-1", testViewer())
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	cooldown := 3 * time.Second

	if !s.AllowPopup("newProblem", base, cooldown) {
		t.Error("First popup in a category must pass")
	}
	if s.AllowPopup("newProblem", base.Add(2*time.Second), cooldown) {
		t.Error("Popup inside the cooldown window must be suppressed")
	}
	// A different category has its own window.
	if !s.AllowPopup("problemForwarded", base.Add(1*time.Second), cooldown) {
		t.Error("Cooldown must be tracked per category")
	}
	if !s.AllowPopup("newProblem", base.Add(3*time.Second), cooldown) {
		t.Error("Popup at the cooldown boundary must pass")
	}
}

func TestSnapshotKeysAreCopied(t *testing.T) {
	hub := NewHub()
	s := hub.Ensure("tok-1", testViewer())
	s.ReplaceSnapshot(map[string]struct{}{"a": {}, "b": {}})

	keys := s.SnapshotKeys()
	delete(keys, "a")
	again := s.SnapshotKeys()
	if _, ok := again["a"]; !ok {
		t.Error("SnapshotKeys must return a copy, not the live set")
	}
}

func TestSendWithoutConnReportsUnreachable(t *testing.T) {
	hub := NewHub()
	s := hub.Ensure("tok-1", testViewer())
	if s.Reachable() {
		t.Error("A session with no websocket must be unreachable")
	}
	if s.Send(Event{Type: EventNewProblem}) {
		t.Error("Send on an unreachable session must report failure")
	}
}

func TestQueueHoldsEventsWhileDetached(t *testing.T) {
	hub := NewHub()
	s := hub.Ensure("tok-1", testViewer())
	s.Queue(Event{Type: EventNewProblem})
	s.Queue(Event{Type: EventForwarded})
	if len(s.pending) != 2 {
		t.Fatalf("Expected 2 queued events, got %d", len(s.pending))
	}
}

func TestPruneDropsLongDetachedSessions(t *testing.T) {
	hub := NewHub()
	stale := hub.Ensure("tok-stale", testViewer())
	fresh := hub.Ensure("tok-fresh", testViewer())

	stale.mu.Lock()
	stale.detachedAt = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()
	fresh.mu.Lock()
	fresh.detachedAt = time.Now().Add(-time.Minute)
	fresh.mu.Unlock()

	if n := hub.Prune(time.Hour); n != 1 {
		t.Fatalf("Expected 1 pruned session, got %d", n)
	}
	if hub.Get("tok-stale") != nil {
		t.Error("Stale session must be gone after prune")
	}
	if hub.Get("tok-fresh") == nil {
		t.Error("Recently detached session must survive prune")
	}
}

func TestPruneKeepsAttachedSessions(t *testing.T) {
	hub := NewHub()
	hub.Ensure("tok-1", testViewer())
	// Never-detached sessions have a zero detachedAt and must survive.
	if n := hub.Prune(time.Nanosecond); n != 0 {
		t.Errorf("Expected 0 pruned sessions, got %d", n)
	}
}

func TestRemoveDisposesSession(t *testing.T) {
	hub := NewHub()
	hub.Ensure("tok-1", testViewer())
	hub.Remove("tok-1")
	if hub.Get("tok-1") != nil {
		t.Error("Removed session must be gone")
	}
	if len(hub.Sessions()) != 0 {
		t.Error("Registry must be empty after remove")
	}
}
