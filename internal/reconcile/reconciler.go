// Package reconcile is the pull-side fallback for viewers whose push
// channel is down. Each pass pulls the viewer's currently-visible active
// set through the same visibility filter the router uses, diffs it
// against the session's remembered key set, and synthesizes the
// newProblem events the push channel would have delivered.
package reconcile

import (
	"context"
	"log"
	"time"

	"andon/internal/metrics"
	"andon/internal/notify"
	"andon/internal/store"
	"andon/internal/visibility"
	"andon/internal/ws"
)

// Reconciler drives periodic reconciliation passes for disconnected
// sessions and serves on-demand passes for polling clients.
type Reconciler struct {
	Hub      *ws.Hub
	Store    *store.ProblemStore
	Interval time.Duration
	// MaxDown bounds how long a detached session keeps its snapshot
	// before the registry drops it.
	MaxDown time.Duration
}

// Pass performs one reconciliation pass for a session: every problem key
// visible now but absent from the last-known set yields one synthesized
// newProblem event. A pass over an unchanged store yields nothing.
func (rc *Reconciler) Pass(ctx context.Context, s *ws.Session) ([]ws.Event, error) {
	problems, err := rc.Store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	viewer := s.Viewer()
	known := s.SnapshotKeys()
	current := make(map[string]struct{})
	events := []ws.Event{}
	for i := range problems {
		p := &problems[i]
		if !visibility.Visible(p, viewer) {
			continue
		}
		key := notify.ProblemKey(p)
		current[key] = struct{}{}
		if _, seen := known[key]; seen {
			continue
		}
		// Same dedup set as the push path, so an event that already
		// arrived over the websocket is not re-shown here.
		if !s.MarkDelivered(notify.Key(ws.EventNewProblem, p)) {
			continue
		}
		events = append(events, notify.NewProblemEvent(p))
	}
	s.ReplaceSnapshot(current)
	metrics.ObserveReconcilePass(len(events))
	return events, nil
}

// Run ticks until the context is cancelled, reconciling every session
// whose push channel is down and pruning sessions gone too long. The
// synthesized events queue on the session and flush at reconnect.
func (rc *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(rc.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range rc.Hub.Sessions() {
				if s.Reachable() {
					continue
				}
				events, err := rc.Pass(ctx, s)
				if err != nil {
					log.Printf("reconcile: pass for %s failed: %v", s.Viewer().Username, err)
					continue
				}
				for _, evt := range events {
					s.Queue(evt)
				}
			}
			if rc.MaxDown > 0 {
				if n := rc.Hub.Prune(rc.MaxDown); n > 0 {
					log.Printf("reconcile: pruned %d stale sessions", n)
				}
			}
		}
	}
}
