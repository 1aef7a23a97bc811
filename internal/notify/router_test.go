package notify

import (
	"testing"
	"time"

	"andon/internal/lifecycle"
	"andon/internal/models"
	"andon/internal/visibility"
	"andon/internal/ws"
)

func forwardedProblem() *models.Problem {
	at := "2026-03-14 09:05:00"
	return &models.Problem{
		ID:              "PRB-0001",
		Machine:         "CNC-7",
		LineNumber:      "1",
		Division:        "assembly",
		ProblemType:     "machine",
		Severity:        "critical",
		DetectedAt:      "2026-03-14 09:00:00",
		IsForwarded:     true,
		ForwardedBy:     "leader1",
		ForwardedAt:     &at,
		ForwardedToRole: "maintenance",
	}
}

func TestKeyIncludesEventTypeAndProblemIdentity(t *testing.T) {
	p := forwardedProblem()
	if got := Key(ws.EventForwarded, p); got != "problemForwarded|CNC-7|machine|PRB-0001" {
		t.Errorf("Unexpected dedup key: %s", got)
	}
	if got := ProblemKey(p); got != "CNC-7|machine|PRB-0001" {
		t.Errorf("Unexpected problem key: %s", got)
	}
	if Key(ws.EventForwarded, p) == Key(ws.EventReceived, p) {
		t.Error("Different event types must produce different dedup keys")
	}
}

func TestPopupAudienceByRole(t *testing.T) {
	// Admins and managers watch dashboards; they never get pop-ups.
	for _, role := range []models.Role{models.RoleAdmin, models.RoleManager} {
		for _, kind := range []string{lifecycle.KindForward, lifecycle.KindReceive, lifecycle.KindFinalResolve} {
			if popupAllowed(kind, role) {
				t.Errorf("%s must not get %s pop-ups", role, kind)
			}
		}
	}

	// Departments only hear about work arriving, not about its progress.
	if !popupAllowed(lifecycle.KindForward, models.RoleMaintenance) {
		t.Error("Maintenance must get forward pop-ups")
	}
	if popupAllowed(lifecycle.KindReceive, models.RoleMaintenance) {
		t.Error("Departments must not get receive pop-ups")
	}

	// Leaders track the acknowledge/resolve chain, not their own forward.
	if popupAllowed(lifecycle.KindForward, models.RoleLeader) {
		t.Error("Leaders must not get pop-ups for their own forwards")
	}
	for _, kind := range []string{lifecycle.KindReceive, lifecycle.KindFeedbackResolve,
		lifecycle.KindFinalResolve, lifecycle.KindDirectResolve} {
		if !popupAllowed(kind, models.RoleLeader) {
			t.Errorf("Leaders must get %s pop-ups", kind)
		}
	}
}

func TestForwardAudienceScenario(t *testing.T) {
	p := forwardedProblem()
	tech := models.Viewer{Username: "tech1", Role: models.RoleMaintenance}
	qe := models.Viewer{Username: "qe1", Role: models.RoleQuality}

	// The target department both sees the problem and is in the forward
	// pop-up audience.
	if !visibility.Visible(p, tech) || !popupAllowed(lifecycle.KindForward, tech.Role) {
		t.Error("Maintenance must receive the problemForwarded pop-up")
	}
	// Quality would be in the pop-up audience for forwards, but this
	// problem is not visible to it, so it hears nothing.
	if visibility.Visible(p, qe) {
		t.Error("Quality must not see a problem forwarded to maintenance")
	}
}

func TestEventForPayloads(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	p := forwardedProblem()

	evt := eventFor(&lifecycle.Transition{Kind: lifecycle.KindForward, Problem: p, Message: "spindle jammed"}, now)
	if evt.Type != ws.EventForwarded {
		t.Fatalf("Expected %s, got %s", ws.EventForwarded, evt.Type)
	}
	payload := evt.Payload.(map[string]interface{})
	if payload["machine_name"] != "CNC-7" {
		t.Errorf("Expected machine_name CNC-7, got %v", payload["machine_name"])
	}
	if payload["target_role"] != "maintenance" {
		t.Errorf("Expected target_role maintenance, got %v", payload["target_role"])
	}
	if payload["message"] != "spindle jammed" {
		t.Errorf("Expected forward message in payload, got %v", payload["message"])
	}
	if payload["timestamp"] != "2026-03-14 09:05:00" {
		t.Errorf("Expected forward timestamp, got %v", payload["timestamp"])
	}
}

func TestDirectResolveEventShape(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	at := "2026-03-14 09:10:00"
	p := forwardedProblem()
	p.IsForwarded = false
	p.ForwardedToRole = ""
	p.IsResolved = true
	p.ResolvedAt = &at

	evt := eventFor(&lifecycle.Transition{Kind: lifecycle.KindDirectResolve, Problem: p}, now)
	if evt.Type != ws.EventResolved {
		t.Fatalf("Expected %s, got %s", ws.EventResolved, evt.Type)
	}
	payload := evt.Payload.(map[string]interface{})
	if payload["problemId"] != "PRB-0001" {
		t.Errorf("Expected problemId, got %v", payload["problemId"])
	}
	if payload["status"] != models.StatusResolved {
		t.Errorf("Expected status resolved, got %v", payload["status"])
	}
}

func TestFinalResolveCarriesDuration(t *testing.T) {
	at := "2026-03-14 09:10:00"
	p := forwardedProblem()
	p.IsResolved = true
	p.ResolvedAt = &at
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	evt := eventFor(&lifecycle.Transition{Kind: lifecycle.KindFinalResolve, Problem: p}, now)
	payload := evt.Payload.(map[string]interface{})
	// 09:00:00 detected, 09:10:00 resolved: duration freezes at resolve.
	if payload["duration_seconds"] != int64(600) {
		t.Errorf("Expected duration frozen at 600s, got %v", payload["duration_seconds"])
	}
}

func TestNewProblemEventShape(t *testing.T) {
	p := forwardedProblem()
	evt := NewProblemEvent(p)
	if evt.Type != ws.EventNewProblem {
		t.Fatalf("Expected %s, got %s", ws.EventNewProblem, evt.Type)
	}
	payload := evt.Payload.(map[string]interface{})
	for _, field := range []string{"id", "machine", "problem_type", "line_number", "severity", "timestamp"} {
		if _, ok := payload[field]; !ok {
			t.Errorf("newProblem payload missing %s", field)
		}
	}
}
