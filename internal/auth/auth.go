package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"time"

	"andon/internal/models"
)

// SessionCookie is the auth cookie name.
const SessionCookie = "andon_session"

const (
	MaxFailedLoginAttempts = 10
	AccountLockoutDuration = 15 * time.Minute
)

// ErrNoSession means the request carries no valid, unexpired session.
var ErrNoSession = errors.New("no valid session")

// ViewerFromRequest resolves the request's session cookie into the
// authenticated viewer identity that gets cached on the connection.
func ViewerFromRequest(db *sql.DB, r *http.Request) (token string, viewer models.Viewer, err error) {
	cookie, cerr := r.Cookie(SessionCookie)
	if cerr != nil {
		return "", models.Viewer{}, ErrNoSession
	}
	var username, role, line, division string
	var active int
	qerr := db.QueryRow(`SELECT u.username, u.role, COALESCE(u.line_number,''), COALESCE(u.division,''), u.active
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&username, &role, &line, &division, &active)
	if qerr != nil || active == 0 {
		return "", models.Viewer{}, ErrNoSession
	}
	return cookie.Value, models.Viewer{
		Username:   username,
		Role:       models.ParseRole(role),
		LineNumber: line,
		Division:   division,
	}, nil
}

// IncrementFailedLoginAttempts bumps the counter and locks the account
// once it crosses the threshold.
func IncrementFailedLoginAttempts(db *sql.DB, username string) error {
	_, err := db.Exec(`
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= ? THEN datetime('now', '+15 minutes')
		        ELSE locked_until
		    END
		WHERE username = ?`, MaxFailedLoginAttempts, username)
	return err
}

// ResetFailedLoginAttempts clears the counter after a successful login.
func ResetFailedLoginAttempts(db *sql.DB, username string) error {
	_, err := db.Exec(`
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL
		WHERE username = ?`, username)
	return err
}

// IsAccountLocked checks if an account is currently locked.
func IsAccountLocked(db *sql.DB, username string) (bool, error) {
	var lockedUntil *string
	err := db.QueryRow("SELECT locked_until FROM users WHERE username = ?", username).Scan(&lockedUntil)
	if err != nil {
		return false, err
	}
	if lockedUntil == nil {
		return false, nil
	}

	var lockTime time.Time
	var parseErr error
	for _, format := range []string{time.RFC3339, models.TimeFormat, time.RFC3339Nano} {
		lockTime, parseErr = time.Parse(format, *lockedUntil)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return false, nil
	}

	if time.Now().Before(lockTime) {
		return true, nil
	}
	ResetFailedLoginAttempts(db, username)
	return false, nil
}

// ValidatePasswordStrength checks password complexity.
func ValidatePasswordStrength(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}

	var (
		hasUpper   = regexp.MustCompile(`[A-Z]`).MatchString
		hasLower   = regexp.MustCompile(`[a-z]`).MatchString
		hasNumber  = regexp.MustCompile(`[0-9]`).MatchString
		hasSpecial = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>_\-+=]`).MatchString
	)

	checks := 0
	if hasUpper(password) {
		checks++
	}
	if hasLower(password) {
		checks++
	}
	if hasNumber(password) {
		checks++
	}
	if hasSpecial(password) {
		checks++
	}

	if checks < 3 {
		return errors.New("password must contain at least 3 of: uppercase, lowercase, numbers, special characters")
	}
	return nil
}
