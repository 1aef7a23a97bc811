package problems

import (
	"net/http"
	"strconv"

	"andon/internal/audit"
	"andon/internal/models"
	"andon/internal/response"
	"andon/internal/validation"
	"andon/internal/visibility"
)

// ListActive handles GET /api/v1/problems/active. The visibility filter
// is applied server-side; a client never sees a problem it could not see
// over the push channel.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	active, err := h.Store.ListActive(r.Context())
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, visibility.FilterShape(active, viewer, h.now()))
}

// List handles GET /api/v1/problems: full history, newest first, shaped
// per viewer. Resolved problems appear here and nowhere else. Pagination
// runs after the visibility filter so page boundaries never leak how
// many hidden records exist.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	all, err := h.Store.ListAll(r.Context())
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	views := visibility.FilterShape(all, viewer, h.now())

	total := len(views)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	response.JSONMeta(w, views[start:end], total, page, limit)
}

// Get handles GET /api/v1/problems/:id. Problems outside the viewer's
// visibility read as not found (fail-closed).
func (h *Handler) Get(w http.ResponseWriter, r *http.Request, id string) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	p, err := h.Store.Get(r.Context(), id)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	if !visibility.Visible(p, viewer) {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, visibility.Shape(p, viewer, h.now()))
}

type createRequest struct {
	Machine           string `json:"machine"`
	LineNumber        string `json:"line_number"`
	ProblemType       string `json:"problem_type"`
	Severity          string `json:"severity"`
	Description       string `json:"description"`
	RecommendedAction string `json:"recommended_action"`
	DetectedAt        string `json:"timestamp"`
}

// Create handles POST /api/v1/problems: the ingest point the detection
// pipeline (or an admin) feeds. The new record starts active and its
// line's leader is notified.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if viewer.Role != models.RoleAdmin && viewer.Role != models.RoleLeader {
		response.Err(w, "only admins or line leaders may report problems", 403)
		return
	}

	var req createRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "machine", req.Machine)
	validation.RequireField(ve, "line_number", req.LineNumber)
	validation.RequireField(ve, "problem_type", req.ProblemType)
	validation.ValidateEnum(ve, "problem_type", req.ProblemType, validation.ValidProblemTypes)
	validation.ValidateEnum(ve, "severity", req.Severity, validation.ValidSeverities)
	validation.ValidateMaxLength(ve, "machine", req.Machine, 100)
	validation.ValidateMaxLength(ve, "description", req.Description, 1000)
	validation.ValidateMaxLength(ve, "recommended_action", req.RecommendedAction, 1000)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	now := h.now().Format(models.TimeFormat)
	if req.Severity == "" {
		req.Severity = "warning"
	}
	if req.DetectedAt == "" {
		req.DetectedAt = now
	}

	p := &models.Problem{
		ID:                h.NextIDFunc("PRB", "problems", 4),
		Machine:           req.Machine,
		LineNumber:        req.LineNumber,
		Division:          h.Config.DivisionForLine(req.LineNumber),
		ProblemType:       req.ProblemType,
		Severity:          req.Severity,
		Description:       req.Description,
		RecommendedAction: req.RecommendedAction,
		DetectedAt:        req.DetectedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.Store.Insert(r.Context(), p); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(h.DB, viewer.Username, audit.ActionCreate, "problems", p.ID,
		"Detected "+p.ProblemType+" problem on "+p.Machine+" (line "+p.LineNumber+")")
	h.CreateNotificationIfNew("new_problem", severityToNotif(p.Severity),
		"New problem: "+p.Machine, p.Description, p.ID)
	h.Router.OnNewProblem(p)
	response.JSON(w, p)
}

// Dashboard handles GET /api/v1/dashboard: the same filtered snapshot
// dashboardUpdate pushes, for clients that prefer to pull.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	payload, _, err := h.Router.BuildSnapshot(viewer)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, payload)
}

func severityToNotif(severity string) string {
	if severity == "critical" {
		return "error"
	}
	return "warning"
}
