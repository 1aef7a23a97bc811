// Package store adapts the durable problem-record store (SQLite) to the
// lifecycle engine. All transition writes are single conditional updates
// keyed on the current derived status, so two actors racing the same
// problem cannot both win.
package store

import (
	"context"
	"database/sql"
	"errors"

	"andon/internal/database"
	"andon/internal/models"
)

// ErrNotFound is returned for point reads of unknown problem IDs.
var ErrNotFound = errors.New("problem not found")

const problemColumns = `id,machine,line_number,division,problem_type,severity,
	COALESCE(description,''),COALESCE(recommended_action,''),detected_at,
	is_forwarded,COALESCE(forwarded_by,''),forwarded_at,COALESCE(forwarded_to_role,''),COALESCE(forward_message,''),
	is_received,COALESCE(received_by,''),received_at,
	is_feedback_resolved,COALESCE(feedback_by,''),feedback_at,COALESCE(feedback_message,''),
	is_resolved,COALESCE(resolved_by,''),resolved_at,
	created_at,updated_at`

// ProblemStore performs reads and conditional writes on the problems table.
type ProblemStore struct {
	DB *sql.DB
}

func scanProblem(row interface{ Scan(...interface{}) error }) (*models.Problem, error) {
	var p models.Problem
	var fwdAt, rcvAt, fbAt, resAt sql.NullString
	err := row.Scan(&p.ID, &p.Machine, &p.LineNumber, &p.Division, &p.ProblemType, &p.Severity,
		&p.Description, &p.RecommendedAction, &p.DetectedAt,
		&p.IsForwarded, &p.ForwardedBy, &fwdAt, &p.ForwardedToRole, &p.ForwardMessage,
		&p.IsReceived, &p.ReceivedBy, &rcvAt,
		&p.IsFeedbackResolved, &p.FeedbackBy, &fbAt, &p.FeedbackMessage,
		&p.IsResolved, &p.ResolvedBy, &resAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ForwardedAt = database.SP(fwdAt)
	p.ReceivedAt = database.SP(rcvAt)
	p.FeedbackAt = database.SP(fbAt)
	p.ResolvedAt = database.SP(resAt)
	return &p, nil
}

// Get loads a single problem by ID.
func (s *ProblemStore) Get(ctx context.Context, id string) (*models.Problem, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+problemColumns+" FROM problems WHERE id=?", id)
	p, err := scanProblem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListActive returns every unresolved problem, oldest first. Resolved
// problems never appear in any active query.
func (s *ProblemStore) ListActive(ctx context.Context) ([]models.Problem, error) {
	return s.list(ctx, "SELECT "+problemColumns+" FROM problems WHERE is_resolved=0 ORDER BY detected_at ASC, id ASC")
}

// ListAll returns the full problem history, newest first.
func (s *ProblemStore) ListAll(ctx context.Context) ([]models.Problem, error) {
	return s.list(ctx, "SELECT "+problemColumns+" FROM problems ORDER BY detected_at DESC, id DESC")
}

func (s *ProblemStore) list(ctx context.Context, query string, args ...interface{}) ([]models.Problem, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	if items == nil {
		items = []models.Problem{}
	}
	return items, rows.Err()
}

// Insert creates a new problem record in the active state.
func (s *ProblemStore) Insert(ctx context.Context, p *models.Problem) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO problems
		(id,machine,line_number,division,problem_type,severity,description,recommended_action,detected_at,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Machine, p.LineNumber, p.Division, p.ProblemType, p.Severity,
		p.Description, p.RecommendedAction, p.DetectedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

// MarkForwarded moves active -> forwarded. Returns false when the guard
// (status == active) no longer holds at write time.
func (s *ProblemStore) MarkForwarded(ctx context.Context, id, by, toRole, message, at string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE problems
		SET is_forwarded=1, forwarded_by=?, forwarded_at=?, forwarded_to_role=?, forward_message=?, updated_at=?
		WHERE id=? AND is_forwarded=0 AND is_resolved=0`,
		by, at, toRole, message, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkReceived moves forwarded -> received.
func (s *ProblemStore) MarkReceived(ctx context.Context, id, by, at string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE problems
		SET is_received=1, received_by=?, received_at=?, updated_at=?
		WHERE id=? AND is_forwarded=1 AND is_received=0 AND is_resolved=0`,
		by, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkFeedbackResolved moves received -> feedback_resolved.
func (s *ProblemStore) MarkFeedbackResolved(ctx context.Context, id, by, message, at string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE problems
		SET is_feedback_resolved=1, feedback_by=?, feedback_at=?, feedback_message=?, updated_at=?
		WHERE id=? AND is_received=1 AND is_feedback_resolved=0 AND is_resolved=0`,
		by, at, message, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkResolvedFromFeedback moves feedback_resolved -> resolved (the
// department path).
func (s *ProblemStore) MarkResolvedFromFeedback(ctx context.Context, id, by, at string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE problems
		SET is_resolved=1, resolved_by=?, resolved_at=?, updated_at=?
		WHERE id=? AND is_feedback_resolved=1 AND is_resolved=0`,
		by, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkResolvedDirect moves active -> resolved (the leader direct-resolve
// shortcut, which skips the forwarding chain entirely).
func (s *ProblemStore) MarkResolvedDirect(ctx context.Context, id, by, at string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE problems
		SET is_resolved=1, resolved_by=?, resolved_at=?, updated_at=?
		WHERE id=? AND is_forwarded=0 AND is_resolved=0`,
		by, at, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
