// Package notify fans lifecycle transitions out to every connected
// viewer entitled to hear about them. The audience always comes from the
// shared visibility filter; on top of that sit the event-specific rules
// (departments get pop-ups only on forward, the leader on the
// acknowledge/resolve chain, admins never), a per-viewer cooldown, and
// delivered-key dedup.
package notify

import (
	"fmt"
	"log"
	"time"

	"andon/internal/lifecycle"
	"andon/internal/metrics"
	"andon/internal/models"
	"andon/internal/visibility"
	"andon/internal/ws"
)

// DashboardPayload is the full filtered snapshot carried by dashboardUpdate.
type DashboardPayload struct {
	MachineStatusesByLine map[string]map[string]string `json:"machine_statuses_by_line"`
	ActiveProblems        []models.ProblemView         `json:"active_problems"`
	NewProblems           []models.ProblemView         `json:"new_problems,omitempty"`
}

// SnapshotFunc builds a viewer's dashboard payload plus the problem-key
// set it covers, for the registry to remember.
type SnapshotFunc func(viewer models.Viewer) (DashboardPayload, map[string]struct{}, error)

// Router delivers transition events to the registry's reachable members.
type Router struct {
	Hub           *ws.Hub
	BuildSnapshot SnapshotFunc
	Cooldown      time.Duration
	Now           func() time.Time
}

func (rt *Router) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}

// Key derives the dedup key for one notification about one problem.
func Key(eventType string, p *models.Problem) string {
	return fmt.Sprintf("%s|%s|%s|%s", eventType, p.Machine, p.ProblemType, p.ID)
}

// ProblemKey identifies a problem in a viewer's snapshot set, shared
// with the fallback reconciler so push and poll agree on identity.
func ProblemKey(p *models.Problem) string {
	return fmt.Sprintf("%s|%s|%s", p.Machine, p.ProblemType, p.ID)
}

// eventFor builds the typed pop-up event for a committed transition.
func eventFor(t *lifecycle.Transition, now time.Time) ws.Event {
	p := t.Problem
	switch t.Kind {
	case lifecycle.KindForward:
		return ws.Event{Type: ws.EventForwarded, Payload: map[string]interface{}{
			"id":           p.ID,
			"machine_name": p.Machine,
			"problem_type": p.ProblemType,
			"line_number":  p.LineNumber,
			"target_role":  p.ForwardedToRole,
			"forwarded_by": p.ForwardedBy,
			"message":      t.Message,
			"timestamp":    deref(p.ForwardedAt),
		}}
	case lifecycle.KindReceive:
		return ws.Event{Type: ws.EventReceived, Payload: map[string]interface{}{
			"problem_id":  p.ID,
			"received_by": p.ReceivedBy,
			"received_at": deref(p.ReceivedAt),
		}}
	case lifecycle.KindFeedbackResolve:
		return ws.Event{Type: ws.EventFeedbackResolved, Payload: map[string]interface{}{
			"problem_id":  p.ID,
			"feedback_by": p.FeedbackBy,
			"feedback_at": deref(p.FeedbackAt),
			"message":     t.Message,
		}}
	case lifecycle.KindFinalResolve:
		return ws.Event{Type: ws.EventFinalResolved, Payload: map[string]interface{}{
			"problem_id":       p.ID,
			"resolved_by":      p.ResolvedBy,
			"resolved_at":      deref(p.ResolvedAt),
			"duration_seconds": p.DurationSeconds(now),
		}}
	case lifecycle.KindDirectResolve:
		return ws.Event{Type: ws.EventResolved, Payload: map[string]interface{}{
			"problemId": p.ID,
			"status":    p.Status(),
			"timestamp": deref(p.ResolvedAt),
		}}
	}
	return ws.Event{}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// popupAllowed applies the event-specific audience narrowing on top of
// the visibility filter. Admins get dashboard state only, never pop-ups.
func popupAllowed(kind string, role models.Role) bool {
	switch role {
	case models.RoleAdmin, models.RoleManager:
		return false
	case models.RoleLeader:
		switch kind {
		case lifecycle.KindReceive, lifecycle.KindFeedbackResolve,
			lifecycle.KindFinalResolve, lifecycle.KindDirectResolve:
			return true
		}
		return false
	case models.RoleMaintenance, models.RoleQuality, models.RoleWarehouse, models.RoleEngineering:
		return kind == lifecycle.KindForward
	default:
		return false
	}
}

// OnTransition fans one committed transition out to its audience. A
// failure to deliver to any single viewer is logged and never blocks
// delivery to the rest.
func (rt *Router) OnTransition(t *lifecycle.Transition) {
	now := rt.now()
	evt := eventFor(t, now)
	for _, s := range rt.Hub.Sessions() {
		if !s.Reachable() {
			continue
		}
		viewer := s.Viewer()
		if !visibility.Visible(t.Problem, viewer) {
			continue
		}
		if evt.Type != "" && popupAllowed(t.Kind, viewer.Role) {
			rt.deliverPopup(s, evt, t.Problem, now)
		}
		rt.sendDashboard(s)
	}
}

// NewProblemEvent builds the announcement for a freshly detected
// problem. The fallback reconciler synthesizes the identical event shape
// so push and poll never diverge.
func NewProblemEvent(p *models.Problem) ws.Event {
	return ws.Event{Type: ws.EventNewProblem, Payload: map[string]interface{}{
		"id":           p.ID,
		"machine":      p.Machine,
		"problem_type": p.ProblemType,
		"line_number":  p.LineNumber,
		"severity":     p.Severity,
		"timestamp":    p.DetectedAt,
	}}
}

// OnNewProblem announces a freshly detected problem to the leaders of
// its line and refreshes every affected dashboard.
func (rt *Router) OnNewProblem(p *models.Problem) {
	now := rt.now()
	evt := NewProblemEvent(p)
	for _, s := range rt.Hub.Sessions() {
		if !s.Reachable() {
			continue
		}
		viewer := s.Viewer()
		if !visibility.Visible(p, viewer) {
			continue
		}
		if viewer.Role == models.RoleLeader {
			rt.deliverPopup(s, evt, p, now)
		}
		rt.sendDashboard(s)
	}
}

func (rt *Router) deliverPopup(s *ws.Session, evt ws.Event, p *models.Problem, now time.Time) {
	key := Key(evt.Type, p)
	if !s.MarkDelivered(key) {
		metrics.NotificationSuppressed("duplicate")
		return
	}
	if !s.AllowPopup(evt.Type, now, rt.Cooldown) {
		metrics.NotificationSuppressed("cooldown")
		return
	}
	if s.Send(evt) {
		metrics.NotificationSent(evt.Type)
	}
}

// sendDashboard pushes the viewer's current filtered snapshot.
// Dashboard-state events are never suppressed or deduplicated.
func (rt *Router) sendDashboard(s *ws.Session) {
	if rt.BuildSnapshot == nil {
		return
	}
	viewer := s.Viewer()
	payload, keys, err := rt.BuildSnapshot(viewer)
	if err != nil {
		log.Printf("notify: snapshot for %s failed: %v", viewer.Username, err)
		return
	}
	if s.Send(ws.Event{Type: ws.EventDashboardUpdate, Payload: payload}) {
		s.ReplaceSnapshot(keys)
		metrics.NotificationSent(ws.EventDashboardUpdate)
	}
}

// SendSnapshot answers a client requestUpdate (or first connect) with an
// immediate dashboardUpdate.
func (rt *Router) SendSnapshot(s *ws.Session) {
	rt.sendDashboard(s)
}
