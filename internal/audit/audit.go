package audit

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"
)

// Action constants.
const (
	ActionCreate   = "created"
	ActionForward  = "forwarded"
	ActionReceive  = "received"
	ActionFeedback = "feedback_resolved"
	ActionResolve  = "resolved"
	ActionExport   = "exported"
	ActionLogin    = "login"
	ActionLogout   = "logout"
	ActionUpdate   = "updated"
	ActionDelete   = "deleted"
	ActionDenied   = "denied"
)

// LogAudit writes one audit log entry. Failures are printed, not fatal.
func LogAudit(db *sql.DB, username, action, module, recordID, summary string) {
	_, err := db.Exec("INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)",
		username, action, module, recordID, summary)
	if err != nil {
		fmt.Printf("audit log error: %v\n", err)
	}
}

// GetUsername extracts the username from a session cookie.
func GetUsername(db *sql.DB, r *http.Request) string {
	cookie, err := r.Cookie("andon_session")
	if err != nil {
		return "system"
	}
	var username string
	err = db.QueryRow("SELECT u.username FROM users u JOIN sessions s ON u.id = s.user_id WHERE s.token = ?", cookie.Value).Scan(&username)
	if err != nil {
		return "system"
	}
	return username
}

// CleanupOldAuditLogs deletes audit log entries older than retentionDays.
func CleanupOldAuditLogs(db *sql.DB, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02 15:04:05")
	result, err := db.Exec("DELETE FROM audit_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
