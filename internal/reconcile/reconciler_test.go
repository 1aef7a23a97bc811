package reconcile

import (
	"context"
	"testing"
	"time"

	"andon/internal/models"
	"andon/internal/notify"
	"andon/internal/store"
	"andon/internal/testutil"
	"andon/internal/ws"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.ProblemStore) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	st := &store.ProblemStore{DB: db}
	hub := ws.NewHub()
	return &Reconciler{Hub: hub, Store: st, Interval: time.Second, MaxDown: time.Hour}, st
}

func leaderSession(rc *Reconciler, line string) *ws.Session {
	return rc.Hub.Ensure("tok-"+line, models.Viewer{
		Username: "leader" + line, Role: models.RoleLeader, LineNumber: line,
	})
}

func TestPassSynthesizesMissedProblems(t *testing.T) {
	rc, st := newTestReconciler(t)
	s := leaderSession(rc, "1")
	ctx := context.Background()

	for _, id := range []string{"PRB-0001", "PRB-0002", "PRB-0003"} {
		testutil.SeedProblem(t, st.DB, id, "CNC-7", "1", "assembly", "machine", "warning")
	}

	events, err := rc.Pass(ctx, s)
	if err != nil {
		t.Fatalf("Pass failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 synthesized events, got %d", len(events))
	}
	for _, evt := range events {
		if evt.Type != ws.EventNewProblem {
			t.Errorf("Expected %s events, got %s", ws.EventNewProblem, evt.Type)
		}
	}

	// No store change: a second pass yields nothing.
	events, err = rc.Pass(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("Expected 0 events on an unchanged store, got %d", len(events))
	}
}

func TestPassAppliesVisibilityFilter(t *testing.T) {
	rc, st := newTestReconciler(t)
	ctx := context.Background()

	testutil.SeedProblem(t, st.DB, "PRB-0001", "CNC-7", "1", "assembly", "machine", "warning")
	testutil.SeedProblem(t, st.DB, "PRB-0002", "LATHE-2", "3", "fabrication", "machine", "warning")

	leader1 := leaderSession(rc, "1")
	events, err := rc.Pass(ctx, leader1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("Line 1 leader: expected 1 event, got %d", len(events))
	}

	// An unforwarded problem is invisible to departments, so their
	// reconciliation pass stays empty.
	tech := rc.Hub.Ensure("tok-tech", models.Viewer{Username: "tech1", Role: models.RoleMaintenance})
	events, err = rc.Pass(ctx, tech)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("Department pass over unforwarded problems: expected 0 events, got %d", len(events))
	}
}

func TestPassSharesDedupWithPushChannel(t *testing.T) {
	rc, st := newTestReconciler(t)
	s := leaderSession(rc, "1")
	ctx := context.Background()

	testutil.SeedProblem(t, st.DB, "PRB-0001", "CNC-7", "1", "assembly", "machine", "warning")

	// Simulate the push channel having already announced this problem.
	p, err := st.Get(ctx, "PRB-0001")
	if err != nil {
		t.Fatal(err)
	}
	s.MarkDelivered(notify.Key(ws.EventNewProblem, p))

	events, err := rc.Pass(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("Already-pushed problem must not be re-synthesized, got %d events", len(events))
	}
}

func TestPassDropsResolvedFromSnapshot(t *testing.T) {
	rc, st := newTestReconciler(t)
	s := leaderSession(rc, "1")
	ctx := context.Background()

	testutil.SeedProblem(t, st.DB, "PRB-0001", "CNC-7", "1", "assembly", "machine", "warning")
	if _, err := rc.Pass(ctx, s); err != nil {
		t.Fatal(err)
	}
	if len(s.SnapshotKeys()) != 1 {
		t.Fatalf("Expected 1 snapshot key, got %d", len(s.SnapshotKeys()))
	}

	if ok, err := st.MarkResolvedDirect(ctx, "PRB-0001", "leader1", "2026-03-14 09:10:00"); err != nil || !ok {
		t.Fatalf("MarkResolvedDirect: ok=%v err=%v", ok, err)
	}

	events, err := rc.Pass(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("Resolved problem must not produce events, got %d", len(events))
	}
	if len(s.SnapshotKeys()) != 0 {
		t.Errorf("Snapshot must drop resolved problems, got %d keys", len(s.SnapshotKeys()))
	}
}
