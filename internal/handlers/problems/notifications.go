package problems

import (
	"log"
	"net/http"

	"andon/internal/models"
	"andon/internal/response"
	"andon/internal/validation"
	"andon/internal/visibility"
)

// Notification is a persistent feed entry. The feed backs the bell icon
// in the UI and survives restarts, unlike popup events.
type Notification struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Title     string  `json:"title"`
	Message   *string `json:"message"`
	RecordID  *string `json:"record_id"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

// ListNotifications returns the feed, optionally filtered by unread
// state and severity. Feed entries about a problem follow the same
// visibility rules as the problem itself, so the feed never reveals a
// record the viewer could not read directly.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	_, viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	q := `SELECT n.id, n.type, n.severity, n.title, n.message, n.record_id, n.read_at, n.created_at,
		COALESCE(p.id,''), COALESCE(p.line_number,''), COALESCE(p.division,''),
		COALESCE(p.is_forwarded,0), COALESCE(p.forwarded_to_role,'')
		FROM notifications n LEFT JOIN problems p ON n.record_id = p.id WHERE 1=1`
	args := []interface{}{}
	if r.URL.Query().Get("unread") == "true" {
		q += ` AND n.read_at IS NULL`
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		ve := &validation.ValidationErrors{}
		validation.ValidateEnum(ve, "severity", sev, validation.ValidNotifSeverities)
		if ve.HasErrors() {
			response.Err(w, ve.Error(), 400)
			return
		}
		q += ` AND n.severity = ?`
		args = append(args, sev)
	}
	q += ` ORDER BY n.created_at DESC LIMIT 500`

	rows, err := h.DB.Query(q, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	notifs := []Notification{}
	for rows.Next() {
		var n Notification
		var ref models.Problem
		var refID string
		if err := rows.Scan(&n.ID, &n.Type, &n.Severity, &n.Title, &n.Message, &n.RecordID, &n.ReadAt, &n.CreatedAt,
			&refID, &ref.LineNumber, &ref.Division, &ref.IsForwarded, &ref.ForwardedToRole); err != nil {
			continue
		}
		// A dangling record reference fails closed.
		if n.RecordID != nil {
			if refID == "" || !visibility.Visible(&ref, viewer) {
				continue
			}
		}
		notifs = append(notifs, n)
		if len(notifs) == 50 {
			break
		}
	}
	response.JSON(w, notifs)
}

// MarkNotificationRead marks a single notification as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request, id string) {
	if _, _, ok := h.viewer(w, r); !ok {
		return
	}
	if _, err := h.DB.Exec("UPDATE notifications SET read_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, map[string]string{"status": "read"})
}

// GenerateNotifications checks for problems stuck in the escalation
// chain and raises feed entries for them. Called on a timer from main.
func (h *Handler) GenerateNotifications() {
	type pending struct {
		ntype, severity, title, message, recordID string
	}
	var found []pending

	// Forwarded but not picked up by the target department.
	func() {
		rows, err := h.DB.Query(`SELECT id, machine, forwarded_to_role FROM problems
			WHERE is_forwarded = 1 AND is_received = 0 AND is_resolved = 0
			AND forwarded_at < datetime('now', '-15 minutes')`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id, machine, role string
			rows.Scan(&id, &machine, &role)
			found = append(found, pending{"unreceived_forward", "warning",
				"Unanswered forward: " + machine,
				"Waiting on " + role + " for over 15 minutes", id})
		}
	}()

	// Critical problems sitting untouched on the line.
	func() {
		rows, err := h.DB.Query(`SELECT id, machine FROM problems
			WHERE severity = 'critical' AND is_forwarded = 0 AND is_resolved = 0
			AND detected_at < datetime('now', '-30 minutes')`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id, machine string
			rows.Scan(&id, &machine)
			found = append(found, pending{"stale_critical", "error",
				"Stale critical problem: " + machine,
				"Active for over 30 minutes without escalation", id})
		}
	}()

	for _, p := range found {
		h.CreateNotificationIfNew(p.ntype, p.severity, p.title, p.message, p.recordID)
	}
	if len(found) > 0 {
		log.Printf("notifications: %d stuck-problem candidates", len(found))
	}
}

// CreateNotificationIfNew inserts a feed entry unless the same
// type+record pair was already raised in the last 24 hours.
func (h *Handler) CreateNotificationIfNew(ntype, severity, title, message, recordID string) {
	var count int
	h.DB.QueryRow(`SELECT COUNT(*) FROM notifications WHERE type = ? AND record_id = ? AND created_at > datetime('now', '-24 hours')`,
		ntype, recordID).Scan(&count)
	if count > 0 {
		return
	}
	var msg *string
	if message != "" {
		msg = &message
	}
	_, err := h.DB.Exec(`INSERT INTO notifications (type, severity, title, message, record_id) VALUES (?, ?, ?, ?, ?)`,
		ntype, severity, title, msg, recordID)
	if err != nil {
		log.Println("failed to insert notification:", err)
	}
}
