package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"andon/internal/audit"
	"andon/internal/auth"
	"andon/internal/models"
	"andon/internal/response"
)

// HandleLogin authenticates a user and creates a session.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	locked, err := auth.IsAccountLocked(h.DB, req.Username)
	if err == nil && locked {
		response.Err(w, "Account temporarily locked due to too many failed login attempts. Try again later.", 403)
		return
	}

	var id, active int
	var passwordHash, displayName, role, line, division string
	err = h.DB.QueryRow(`SELECT id, password_hash, display_name, role,
		COALESCE(line_number, ''), COALESCE(division, ''), active
		FROM users WHERE username = ?`, req.Username).
		Scan(&id, &passwordHash, &displayName, &role, &line, &division, &active)
	if err != nil {
		response.Err(w, "Invalid username or password", 401)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		auth.IncrementFailedLoginAttempts(h.DB, req.Username)
		response.Err(w, "Invalid username or password", 401)
		return
	}

	if active == 0 {
		response.Err(w, "Account deactivated", 403)
		return
	}

	auth.ResetFailedLoginAttempts(h.DB, req.Username)

	h.DB.Exec("DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP")

	// Create session with retry
	var token string
	expires := time.Now().Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		token = h.GenerateToken()
		_, err = h.DB.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
			token, id, expires.Format(models.TimeFormat))
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		response.Err(w, "Failed to create session", 500)
		return
	}

	h.DB.Exec("UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?", id)
	audit.LogAudit(h.DB, req.Username, audit.ActionLogin, "auth", "", "Logged in")

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})

	response.JSON(w, UserResponse{
		ID: id, Username: req.Username, DisplayName: displayName,
		Role: role, LineNumber: line, Division: division,
	})
}

// HandleLogout logs out the user.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err == nil {
		audit.LogAudit(h.DB, audit.GetUsername(h.DB, r), audit.ActionLogout, "auth", "", "Logged out")
		h.DB.Exec("DELETE FROM sessions WHERE token = ?", cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	response.JSON(w, map[string]string{"status": "ok"})
}

// HandleMe returns the current user's info, sliding the session expiry.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	u := h.GetCurrentUser(r)
	if u == nil {
		response.Err(w, "Unauthorized", 401)
		return
	}

	cookie, _ := r.Cookie(auth.SessionCookie)
	expires := time.Now().Add(24 * time.Hour)
	h.DB.Exec("UPDATE sessions SET expires_at = ? WHERE token = ?",
		expires.Format(models.TimeFormat), cookie.Value)

	response.JSON(w, UserResponse{
		ID: u.ID, Username: u.Username, DisplayName: u.DisplayName,
		Role: u.Role, LineNumber: u.LineNumber, Division: u.Division,
	})
}

// HandleChangePassword changes the current user's password.
func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	u := h.GetCurrentUser(r)
	if u == nil {
		response.Err(w, "Unauthorized", 401)
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		response.Err(w, "Current and new password required", 400)
		return
	}

	if err := auth.ValidatePasswordStrength(req.NewPassword); err != nil {
		response.Err(w, err.Error(), 400)
		return
	}

	var currentHash string
	if err := h.DB.QueryRow("SELECT password_hash FROM users WHERE id = ?", u.ID).Scan(&currentHash); err != nil {
		response.Err(w, "User not found", 404)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(currentHash), []byte(req.CurrentPassword)); err != nil {
		response.Err(w, "Current password is incorrect", 401)
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		response.Err(w, "Failed to hash password", 500)
		return
	}

	if _, err := h.DB.Exec("UPDATE users SET password_hash = ? WHERE id = ?", string(newHash), u.ID); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(h.DB, u.Username, audit.ActionUpdate, "users", u.Username, "Changed password")
	response.JSON(w, map[string]string{"status": "password_changed"})
}

// ListAuditLog returns recent audit entries. Admin only.
func (h *Handler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	if h.RequireAdmin(w, r) == nil {
		return
	}
	rows, err := h.DB.Query(`SELECT id, username, action, module, record_id, summary, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT 200`)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &e.CreatedAt); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	response.JSON(w, entries)
}
