package problems

import (
	"net/http"

	"andon/internal/audit"
	"andon/internal/lifecycle"
	"andon/internal/metrics"
	"andon/internal/response"
	"andon/internal/validation"
)

type messageRequest struct {
	Message string `json:"message"`
}

func (h *Handler) decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req messageRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return "", false
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "message", req.Message, 1000)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return "", false
	}
	return req.Message, true
}

// committed handles the success side shared by every transition: record
// the outcome, audit it, update the persistent feed, then fan out. A
// transition that failed at the store never reaches the router, so a
// change that didn't durably happen is never announced.
func (h *Handler) committed(w http.ResponseWriter, t *lifecycle.Transition, action, summary string) {
	metrics.ObserveTransition(t.Kind, metrics.OutcomeOK)
	audit.LogAudit(h.DB, t.Actor.Username, action, "problems", t.Problem.ID, summary)
	h.CreateNotificationIfNew(t.Kind, "info", summary, t.Message, t.Problem.ID)
	h.Router.OnTransition(t)
	response.JSON(w, t.Problem)
}

// Forward handles POST /api/v1/problems/:id/forward.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request, id string) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	message, ok := h.decodeMessage(w, r)
	if !ok {
		return
	}
	t, err := h.Engine.Forward(r.Context(), id, viewer, message)
	if err != nil {
		h.transitionError(w, lifecycle.KindForward, err)
		return
	}
	h.committed(w, t, audit.ActionForward,
		"Forwarded "+id+" to "+t.Problem.ForwardedToRole)
}

// Receive handles POST /api/v1/problems/:id/receive.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request, id string) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	t, err := h.Engine.Receive(r.Context(), id, viewer)
	if err != nil {
		h.transitionError(w, lifecycle.KindReceive, err)
		return
	}
	h.committed(w, t, audit.ActionReceive,
		"Received "+id+" by "+viewer.Username)
}

// FeedbackResolve handles POST /api/v1/problems/:id/feedback-resolve.
func (h *Handler) FeedbackResolve(w http.ResponseWriter, r *http.Request, id string) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	message, ok := h.decodeMessage(w, r)
	if !ok {
		return
	}
	t, err := h.Engine.FeedbackResolve(r.Context(), id, viewer, message)
	if err != nil {
		h.transitionError(w, lifecycle.KindFeedbackResolve, err)
		return
	}
	h.committed(w, t, audit.ActionFeedback,
		"Feedback-resolved "+id+" by "+viewer.Username)
}

// FinalResolve handles POST /api/v1/problems/:id/final-resolve. The
// engine picks the guard branch: department path from feedback_resolved,
// or the leader direct-resolve shortcut from active.
func (h *Handler) FinalResolve(w http.ResponseWriter, r *http.Request, id string) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	t, err := h.Engine.FinalResolve(r.Context(), id, viewer)
	if err != nil {
		h.transitionError(w, lifecycle.KindFinalResolve, err)
		return
	}
	h.committed(w, t, audit.ActionResolve,
		"Resolved "+id+" by "+viewer.Username)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PUT /api/v1/problems/:id/status, the legacy andon
// path: turning the lamp OFF closes the problem through FinalResolve,
// which picks the branch open in the current state. Active problems
// take the direct-resolve shortcut (problemResolved); feedback_resolved
// problems take the department close (problemFinalResolved).
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request, id string) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var req setStatusRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "status", req.Status)
	validation.ValidateEnum(ve, "status", req.Status, validation.ValidMachineStatuses)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if req.Status != "OFF" {
		response.Err(w, "only status OFF is accepted", 400)
		return
	}
	t, err := h.Engine.FinalResolve(r.Context(), id, viewer)
	if err != nil {
		h.transitionError(w, lifecycle.KindDirectResolve, err)
		return
	}
	h.committed(w, t, audit.ActionResolve,
		"Resolved "+id+" (status OFF) by "+viewer.Username)
}

// Sync handles GET /api/v1/problems/sync: one reconciliation pass for
// the caller's session. Clients whose push channel is down poll this to
// pick up escalations they missed.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	token, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	s := h.Hub.Ensure(token, viewer)
	events, err := h.Reconciler.Pass(r.Context(), s)
	if err != nil {
		response.Err(w, "store unavailable, try again", 503)
		return
	}
	response.JSON(w, events)
}
