// Package lifecycle implements the problem lifecycle state machine:
// active -> forwarded -> received -> feedback_resolved -> resolved, plus
// the leader direct-resolve shortcut from active straight to resolved.
// Guards are evaluated against the latest stored state at write time;
// the store's conditional updates make a losing concurrent transition
// fail with ErrInvalidTransition instead of corrupting state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"andon/internal/models"
	"andon/internal/store"
)

// Error taxonomy. All four are recovered at the transition boundary and
// turned into structured failure responses; none crash the server.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("problem not found")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// Transition kinds handed to the notification router.
const (
	KindForward         = "forward"
	KindReceive         = "receive"
	KindFeedbackResolve = "feedback_resolve"
	KindFinalResolve    = "final_resolve"
	KindDirectResolve   = "direct_resolve"
)

// Transition is the committed result of a lifecycle operation.
type Transition struct {
	Kind    string
	Problem *models.Problem
	Actor   models.Viewer
	Message string
}

// Engine validates and applies state transitions. It is the sole writer
// of lifecycle fields.
type Engine struct {
	Store *store.ProblemStore
	// ForwardRole maps a problem type to the department that handles it.
	ForwardRole func(problemType string) string
	// StoreTimeout bounds every store round trip. A transition that
	// cannot reach the store inside it fails with ErrStoreUnavailable
	// and is not retried here; the caller decides whether to retry.
	StoreTimeout time.Duration
	Now          func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.StoreTimeout > 0 {
		return context.WithTimeout(ctx, e.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// load fetches the current record, mapping store failures into the taxonomy.
func (e *Engine) load(ctx context.Context, id string) (*models.Problem, error) {
	p, err := e.Store.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return p, nil
}

func requireActor(actor models.Viewer) error {
	if actor.Role == models.Role("") {
		return fmt.Errorf("%w: missing actor identity", ErrForbidden)
	}
	return nil
}

// requireLineLeader checks the actor is the leader of the problem's line.
func requireLineLeader(actor models.Viewer, p *models.Problem) error {
	if actor.Role != models.RoleLeader || actor.LineNumber != p.LineNumber {
		return fmt.Errorf("%w: requires leader of line %s", ErrForbidden, p.LineNumber)
	}
	return nil
}

// requireTargetDepartment checks the actor is the department the problem
// was forwarded to.
func requireTargetDepartment(actor models.Viewer, p *models.Problem) error {
	if !actor.Role.IsDepartment() || string(actor.Role) != p.ForwardedToRole {
		return fmt.Errorf("%w: requires role %s", ErrForbidden, p.ForwardedToRole)
	}
	return nil
}

// Forward hands an active problem to the department that handles its
// problem type. Only the leader of the problem's line may forward.
func (e *Engine) Forward(ctx context.Context, id string, actor models.Viewer, message string) (*Transition, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireLineLeader(actor, p); err != nil {
		return nil, err
	}
	if p.Status() != models.StatusActive {
		return nil, fmt.Errorf("%w: cannot forward a %s problem", ErrInvalidTransition, p.Status())
	}
	toRole := ""
	if e.ForwardRole != nil {
		toRole = e.ForwardRole(p.ProblemType)
	}
	if toRole == "" {
		return nil, fmt.Errorf("%w: no department handles problem type %s", ErrInvalidTransition, p.ProblemType)
	}

	at := e.now().Format(models.TimeFormat)
	ok, err := e.Store.MarkForwarded(ctx, id, actor.Username, toRole, message, at)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !ok {
		// Lost the write race; the record moved on under us.
		return nil, fmt.Errorf("%w: problem %s is no longer active", ErrInvalidTransition, id)
	}
	return e.committed(ctx, KindForward, id, actor, message)
}

// Receive acknowledges a forwarded problem. Only the target department
// may receive.
func (e *Engine) Receive(ctx context.Context, id string, actor models.Viewer) (*Transition, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status() != models.StatusForwarded {
		return nil, fmt.Errorf("%w: cannot receive a %s problem", ErrInvalidTransition, p.Status())
	}
	if err := requireTargetDepartment(actor, p); err != nil {
		return nil, err
	}

	at := e.now().Format(models.TimeFormat)
	ok, err := e.Store.MarkReceived(ctx, id, actor.Username, at)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: problem %s is no longer forwarded", ErrInvalidTransition, id)
	}
	return e.committed(ctx, KindReceive, id, actor, "")
}

// FeedbackResolve reports a received problem fixed, pending leader
// confirmation. Only the target department may report.
func (e *Engine) FeedbackResolve(ctx context.Context, id string, actor models.Viewer, message string) (*Transition, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status() != models.StatusReceived {
		return nil, fmt.Errorf("%w: cannot feedback-resolve a %s problem", ErrInvalidTransition, p.Status())
	}
	if err := requireTargetDepartment(actor, p); err != nil {
		return nil, err
	}

	at := e.now().Format(models.TimeFormat)
	ok, err := e.Store.MarkFeedbackResolved(ctx, id, actor.Username, message, at)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: problem %s is no longer received", ErrInvalidTransition, id)
	}
	return e.committed(ctx, KindFeedbackResolve, id, actor, message)
}

// FinalResolve closes a problem. Two guard branches share the operation:
// the department path (status == feedback_resolved) and the leader
// direct-resolve shortcut (status == active, never forwarded). Both
// require the leader of the problem's line.
func (e *Engine) FinalResolve(ctx context.Context, id string, actor models.Viewer) (*Transition, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireLineLeader(actor, p); err != nil {
		return nil, err
	}

	at := e.now().Format(models.TimeFormat)
	switch p.Status() {
	case models.StatusFeedbackResolved:
		ok, err := e.Store.MarkResolvedFromFeedback(ctx, id, actor.Username, at)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: problem %s moved during resolve", ErrInvalidTransition, id)
		}
		return e.committed(ctx, KindFinalResolve, id, actor, "")
	case models.StatusActive:
		ok, err := e.Store.MarkResolvedDirect(ctx, id, actor.Username, at)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: problem %s moved during resolve", ErrInvalidTransition, id)
		}
		return e.committed(ctx, KindDirectResolve, id, actor, "")
	default:
		return nil, fmt.Errorf("%w: cannot resolve a %s problem", ErrInvalidTransition, p.Status())
	}
}

// committed re-reads the record after a winning conditional update so the
// transition carries exactly what the store now holds.
func (e *Engine) committed(ctx context.Context, kind, id string, actor models.Viewer, message string) (*Transition, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Transition{Kind: kind, Problem: p, Actor: actor, Message: message}, nil
}
