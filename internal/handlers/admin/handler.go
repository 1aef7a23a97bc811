package admin

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"andon/internal/audit"
	"andon/internal/auth"
	"andon/internal/config"
	"andon/internal/models"
	"andon/internal/response"
	"andon/internal/validation"
)

// Handler holds dependencies for admin and auth handlers.
type Handler struct {
	DB     *sql.DB
	Config *config.Config

	GenerateToken func() string
}

// UserFull represents a full user record.
type UserFull struct {
	ID          int     `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	LineNumber  string  `json:"line_number"`
	Division    string  `json:"division"`
	Active      int     `json:"active"`
	CreatedAt   string  `json:"created_at"`
	LastLogin   *string `json:"last_login"`
}

// CreateUserRequest represents a user creation request.
type CreateUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	LineNumber  string `json:"line_number"`
	Division    string `json:"division"`
}

// UpdateUserRequest represents a user update request.
type UpdateUserRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	LineNumber  string `json:"line_number"`
	Division    string `json:"division"`
	Active      *int   `json:"active"`
}

// ResetPasswordRequest represents a password reset request.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse represents a user response (for auth endpoints).
type UserResponse struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	LineNumber  string `json:"line_number"`
	Division    string `json:"division"`
}

// GetCurrentUser resolves the session cookie to a full user record.
func (h *Handler) GetCurrentUser(r *http.Request) *UserFull {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err != nil {
		return nil
	}
	var u UserFull
	var lastLogin *string
	err = h.DB.QueryRow(`SELECT u.id, u.username, u.display_name, u.role,
		COALESCE(u.line_number, ''), COALESCE(u.division, ''), u.active, u.created_at, u.last_login
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.LineNumber, &u.Division, &u.Active, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil
	}
	u.LastLogin = lastLogin
	return &u
}

// RequireAdmin rejects the request unless the caller is an active admin.
func (h *Handler) RequireAdmin(w http.ResponseWriter, r *http.Request) *UserFull {
	u := h.GetCurrentUser(r)
	if u == nil {
		response.Err(w, "Unauthorized", 401)
		return nil
	}
	if u.Role != string(models.RoleAdmin) {
		// Denied admin calls are a misuse signal worth keeping.
		audit.LogAudit(h.DB, u.Username, audit.ActionDenied, "admin", "", "Admin access denied for "+r.URL.Path)
		response.Err(w, "Admin access required", 403)
		return nil
	}
	return u
}

func (h *Handler) validateAssignment(ve *validation.ValidationErrors, role, line, division string) {
	switch models.Role(role) {
	case models.RoleLeader:
		validation.RequireField(ve, "line_number", line)
		if line != "" && h.Config.DivisionForLine(line) == "" {
			ve.Add("line_number", "unknown production line")
		}
	case models.RoleManager:
		validation.RequireField(ve, "division", division)
		if division != "" {
			if _, ok := h.Config.Divisions[division]; !ok {
				ve.Add("division", "unknown division")
			}
		}
	}
}

// ListUsers returns all user accounts. Admin only.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if h.RequireAdmin(w, r) == nil {
		return
	}
	rows, err := h.DB.Query(`SELECT id, username, display_name, role,
		COALESCE(line_number, ''), COALESCE(division, ''), active, created_at, last_login
		FROM users ORDER BY id`)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	users := []UserFull{}
	for rows.Next() {
		var u UserFull
		var lastLogin *string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.LineNumber, &u.Division, &u.Active, &u.CreatedAt, &lastLogin); err != nil {
			continue
		}
		u.LastLogin = lastLogin
		users = append(users, u)
	}
	response.JSON(w, users)
}

// CreateUser creates a user account. Admin only.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	admin := h.RequireAdmin(w, r)
	if admin == nil {
		return
	}
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.Username == "" || req.Password == "" {
		response.Err(w, "Username and password required", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "username", req.Username, 100)
	validation.ValidateMaxLength(ve, "display_name", req.DisplayName, 255)
	validation.ValidateEnum(ve, "role", req.Role, validation.ValidRoles)
	h.validateAssignment(ve, req.Role, req.LineNumber, req.Division)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		response.Err(w, err.Error(), 400)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		response.Err(w, "Failed to hash password", 500)
		return
	}
	result, err := h.DB.Exec(`INSERT INTO users (username, password_hash, display_name, role, line_number, division, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		req.Username, string(hash), req.DisplayName, req.Role, req.LineNumber, req.Division)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			response.Err(w, "Username already exists", 409)
			return
		}
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := result.LastInsertId()

	audit.LogAudit(h.DB, admin.Username, audit.ActionCreate, "users", req.Username, "Created user with role "+req.Role)

	w.WriteHeader(201)
	response.JSON(w, map[string]interface{}{
		"id": id, "username": req.Username, "display_name": req.DisplayName,
		"role": req.Role, "line_number": req.LineNumber, "division": req.Division,
	})
}

// UpdateUser updates an account's display name, role and assignment.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request, idStr string) {
	admin := h.RequireAdmin(w, r)
	if admin == nil {
		return
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid user ID", 400)
		return
	}
	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.Active != nil && *req.Active == 0 && id == admin.ID {
		response.Err(w, "Cannot deactivate yourself", 400)
		return
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "role", req.Role, validation.ValidRoles)
	h.validateAssignment(ve, req.Role, req.LineNumber, req.Division)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	active := 1
	if req.Active != nil {
		active = *req.Active
	}
	result, err := h.DB.Exec(`UPDATE users SET display_name = ?, role = ?, line_number = ?, division = ?, active = ? WHERE id = ?`,
		req.DisplayName, req.Role, req.LineNumber, req.Division, active, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		response.Err(w, "User not found", 404)
		return
	}
	audit.LogAudit(h.DB, admin.Username, audit.ActionUpdate, "users", idStr, "Updated user")
	response.JSON(w, map[string]string{"status": "updated"})
}

// DeleteUser removes a user account and its sessions. Admin only.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request, idStr string) {
	admin := h.RequireAdmin(w, r)
	if admin == nil {
		return
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid user ID", 400)
		return
	}
	if id == admin.ID {
		response.Err(w, "Cannot delete yourself", 400)
		return
	}
	res, err := h.DB.Exec("DELETE FROM users WHERE id = ?", id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		response.Err(w, "User not found", 404)
		return
	}
	h.DB.Exec("DELETE FROM sessions WHERE user_id = ?", id)
	audit.LogAudit(h.DB, admin.Username, audit.ActionDelete, "users", idStr, "Deleted user")
	response.JSON(w, map[string]string{"status": "deleted"})
}

// ResetPassword sets a new password on an account. Admin only.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request, idStr string) {
	admin := h.RequireAdmin(w, r)
	if admin == nil {
		return
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid user ID", 400)
		return
	}
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.Password == "" {
		response.Err(w, "Password required", 400)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		response.Err(w, err.Error(), 400)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		response.Err(w, "Failed to hash password", 500)
		return
	}
	result, err := h.DB.Exec("UPDATE users SET password_hash = ? WHERE id = ?", string(hash), id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		response.Err(w, "User not found", 404)
		return
	}
	audit.LogAudit(h.DB, admin.Username, audit.ActionUpdate, "users", idStr, "Reset password")
	response.JSON(w, map[string]string{"status": "password_reset"})
}
