// Package visibility is the single authority on which viewers may see
// which problems, and in what shape. The notification router, the
// fallback reconciler, and every HTTP query path all go through this
// package; the two delivery channels must never diverge in what they
// reveal to the same viewer.
package visibility

import (
	"time"

	"andon/internal/models"
)

// Visible reports whether the viewer may see the problem. Rules are
// evaluated first-match-wins; an unrecognized role sees nothing.
func Visible(p *models.Problem, v models.Viewer) bool {
	switch v.Role {
	case models.RoleAdmin:
		return true
	case models.RoleLeader:
		return v.LineNumber != "" && p.LineNumber == v.LineNumber
	case models.RoleMaintenance, models.RoleQuality, models.RoleWarehouse, models.RoleEngineering:
		// Departments never see a problem before it is forwarded to them,
		// regardless of line.
		return p.IsForwarded && p.ForwardedToRole == string(v.Role)
	case models.RoleManager:
		return v.Division != "" && p.Division == v.Division
	default:
		return false
	}
}

// Shape projects a problem into the view the given viewer is entitled to.
// Managers get the dashboard shape with escalation messages redacted;
// admins, leaders and the handling department see full detail.
func Shape(p *models.Problem, v models.Viewer, now time.Time) models.ProblemView {
	view := models.ProblemView{
		ID:                p.ID,
		Machine:           p.Machine,
		LineNumber:        p.LineNumber,
		Division:          p.Division,
		ProblemType:       p.ProblemType,
		Severity:          p.Severity,
		Status:            p.Status(),
		Description:       p.Description,
		RecommendedAction: p.RecommendedAction,
		DetectedAt:        p.DetectedAt,
		DurationSeconds:   p.DurationSeconds(now),
		ForwardedToRole:   p.ForwardedToRole,
		ForwardedBy:       p.ForwardedBy,
		ForwardMessage:    p.ForwardMessage,
		ReceivedBy:        p.ReceivedBy,
		ReceivedAt:        p.ReceivedAt,
		FeedbackBy:        p.FeedbackBy,
		FeedbackAt:        p.FeedbackAt,
		FeedbackMessage:   p.FeedbackMessage,
		ResolvedBy:        p.ResolvedBy,
		ResolvedAt:        p.ResolvedAt,
	}
	if v.Role == models.RoleManager {
		view.ForwardMessage = ""
		view.FeedbackMessage = ""
	}
	return view
}

// FilterShape applies Visible and Shape across a problem set, preserving
// input order.
func FilterShape(problems []models.Problem, v models.Viewer, now time.Time) []models.ProblemView {
	views := []models.ProblemView{}
	for i := range problems {
		if Visible(&problems[i], v) {
			views = append(views, Shape(&problems[i], v, now))
		}
	}
	return views
}
