package store

import (
	"context"
	"errors"
	"testing"

	"andon/internal/testutil"
)

func newTestStore(t *testing.T) *ProblemStore {
	t.Helper()
	return &ProblemStore{DB: testutil.SetupTestDB(t)}
}

func TestGetUnknownID(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Get(context.Background(), "PRB-9999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestConditionalUpdatesEnforceGuards(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	testutil.SeedProblem(t, st.DB, "PRB-0001", "CNC-7", "1", "assembly", "machine", "critical")

	ok, err := st.MarkForwarded(ctx, "PRB-0001", "leader1", "maintenance", "jammed", "2026-03-14 09:05:00")
	if err != nil || !ok {
		t.Fatalf("First forward: ok=%v err=%v", ok, err)
	}
	// Guard gone: the row is already forwarded.
	ok, err = st.MarkForwarded(ctx, "PRB-0001", "leader1", "maintenance", "", "2026-03-14 09:06:00")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Second forward must lose the conditional update")
	}

	// Direct resolve requires an unforwarded row.
	ok, err = st.MarkResolvedDirect(ctx, "PRB-0001", "leader1", "2026-03-14 09:07:00")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Direct resolve of a forwarded problem must lose the guard")
	}

	// Resolve-from-feedback requires the feedback flag.
	ok, err = st.MarkResolvedFromFeedback(ctx, "PRB-0001", "leader1", "2026-03-14 09:08:00")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Resolve without feedback flag must lose the guard")
	}
}

func TestUnknownIDLosesConditionalUpdate(t *testing.T) {
	st := newTestStore(t)
	ok, err := st.MarkReceived(context.Background(), "PRB-9999", "tech1", "2026-03-14 09:05:00")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Conditional update on an unknown ID must affect zero rows")
	}
}

func TestListActiveExcludesResolvedAndOrders(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := func(id, detectedAt string) {
		if _, err := st.DB.Exec(`INSERT INTO problems
			(id, machine, line_number, division, problem_type, severity, detected_at, created_at, updated_at)
			VALUES (?, 'CNC-7', '1', 'assembly', 'machine', 'warning', ?, ?, ?)`,
			id, detectedAt, detectedAt, detectedAt); err != nil {
			t.Fatal(err)
		}
	}
	seed("PRB-0002", "2026-03-14 09:10:00")
	seed("PRB-0001", "2026-03-14 09:00:00")
	seed("PRB-0003", "2026-03-14 09:20:00")

	if ok, err := st.MarkResolvedDirect(ctx, "PRB-0002", "leader1", "2026-03-14 09:30:00"); err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}

	active, err := st.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("Expected 2 active problems, got %d", len(active))
	}
	if active[0].ID != "PRB-0001" || active[1].ID != "PRB-0003" {
		t.Errorf("Expected oldest-first order, got %s, %s", active[0].ID, active[1].ID)
	}

	all, err := st.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("History must include resolved problems, got %d", len(all))
	}
}

func TestInsertRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	testutil.SeedProblem(t, st.DB, "PRB-0001", "CNC-7", "1", "assembly", "material", "warning")

	p, err := st.Get(ctx, "PRB-0001")
	if err != nil {
		t.Fatal(err)
	}
	if p.Machine != "CNC-7" || p.ProblemType != "material" || p.LineNumber != "1" {
		t.Errorf("Round trip mismatch: %+v", p)
	}
	if p.ForwardedAt != nil || p.ResolvedAt != nil {
		t.Error("Fresh problem must have nil stage timestamps")
	}
}
