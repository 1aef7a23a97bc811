// Package problems exposes the problem lifecycle over HTTP: queries,
// ingest, the five transition operations, reconciliation sync, and
// history export.
package problems

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"andon/internal/config"
	"andon/internal/lifecycle"
	"andon/internal/metrics"
	"andon/internal/models"
	"andon/internal/notify"
	"andon/internal/reconcile"
	"andon/internal/response"
	"andon/internal/store"
	"andon/internal/visibility"
	"andon/internal/ws"
)

// Handler holds the problem API's dependencies.
type Handler struct {
	DB         *sql.DB
	Store      *store.ProblemStore
	Engine     *lifecycle.Engine
	Router     *notify.Router
	Reconciler *reconcile.Reconciler
	Hub        *ws.Hub
	Config     *config.Config

	NextIDFunc func(prefix, table string, digits int) string
	// GetViewer resolves the request's authenticated actor identity.
	GetViewer func(r *http.Request) (token string, viewer models.Viewer, err error)
	Now       func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// viewer authenticates the request or writes the Forbidden response the
// lifecycle contract requires for calls lacking an actor identity.
func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (string, models.Viewer, bool) {
	token, v, err := h.GetViewer(r)
	if err != nil {
		response.Err(w, "authenticated actor identity required", 403)
		return "", models.Viewer{}, false
	}
	return token, v, true
}

// transitionError maps the lifecycle error taxonomy onto HTTP and
// records the outcome. Rejected transitions never crash the loop and
// never reach other viewers.
func (h *Handler) transitionError(w http.ResponseWriter, kind string, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		metrics.ObserveTransition(kind, metrics.OutcomeNotFound)
		response.Err(w, "problem not found", 404)
	case errors.Is(err, lifecycle.ErrForbidden):
		metrics.ObserveTransition(kind, metrics.OutcomeForbidden)
		response.Err(w, err.Error(), 403)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		metrics.ObserveTransition(kind, metrics.OutcomeInvalidTransition)
		response.Err(w, err.Error(), 409)
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		metrics.ObserveTransition(kind, metrics.OutcomeStoreUnavailable)
		response.Err(w, "store unavailable, try again", 503)
	default:
		metrics.ObserveTransition(kind, metrics.OutcomeStoreUnavailable)
		response.Err(w, err.Error(), 500)
	}
}

// NewSnapshotBuilder returns the dashboard snapshot function shared by
// the router (push) and the sync endpoint (poll). Machine statuses are
// derived from the visible active set: a machine with any unresolved
// problem shows ON (andon lamp lit).
func NewSnapshotBuilder(st *store.ProblemStore, now func() time.Time) notify.SnapshotFunc {
	if now == nil {
		now = time.Now
	}
	return func(viewer models.Viewer) (notify.DashboardPayload, map[string]struct{}, error) {
		active, err := st.ListActive(context.Background())
		if err != nil {
			return notify.DashboardPayload{}, nil, err
		}
		ts := now()
		statuses := map[string]map[string]string{}
		views := []models.ProblemView{}
		keys := map[string]struct{}{}
		for i := range active {
			p := &active[i]
			if !visibility.Visible(p, viewer) {
				continue
			}
			views = append(views, visibility.Shape(p, viewer, ts))
			keys[notify.ProblemKey(p)] = struct{}{}
			if statuses[p.LineNumber] == nil {
				statuses[p.LineNumber] = map[string]string{}
			}
			statuses[p.LineNumber][p.Machine] = "ON"
		}
		return notify.DashboardPayload{
			MachineStatusesByLine: statuses,
			ActiveProblems:        views,
		}, keys, nil
	}
}
