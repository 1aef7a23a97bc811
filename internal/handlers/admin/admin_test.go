package admin

import (
	"database/sql"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"andon/internal/config"
	"andon/internal/testutil"
)

func newTestHandler(t *testing.T) (*Handler, *sql.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return &Handler{
		DB:            db,
		Config:        config.Default(),
		GenerateToken: func() string { return uuid.New().String() },
	}, db
}

func TestLoginSuccess(t *testing.T) {
	h, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.AuthedJSONRequest("POST", "/auth/login",
		map[string]string{"username": "admin", "password": "changeme"}, ""))
	testutil.AssertStatus(t, w, 200)

	var u UserResponse
	testutil.DecodeEnvelope(t, w, &u)
	if u.Username != "admin" || u.Role != "admin" {
		t.Errorf("Unexpected login response: %+v", u)
	}

	var sessionSet bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "andon_session" && c.Value != "" {
			sessionSet = true
		}
	}
	if !sessionSet {
		t.Error("Expected a session cookie on successful login")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h, db := newTestHandler(t)

	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.AuthedJSONRequest("POST", "/auth/login",
		map[string]string{"username": "admin", "password": "nope"}, ""))
	testutil.AssertStatus(t, w, 401)

	var attempts int
	if err := db.QueryRow("SELECT failed_login_attempts FROM users WHERE username = 'admin'").Scan(&attempts); err != nil {
		t.Fatalf("Failed to read attempt counter: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 failed attempt recorded, got %d", attempts)
	}
}

func TestLoginLockout(t *testing.T) {
	h, _ := newTestHandler(t)

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		h.HandleLogin(w, testutil.AuthedJSONRequest("POST", "/auth/login",
			map[string]string{"username": "admin", "password": "nope"}, ""))
		testutil.AssertStatus(t, w, 401)
	}

	// Even the correct password is refused while the account is locked.
	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.AuthedJSONRequest("POST", "/auth/login",
		map[string]string{"username": "admin", "password": "changeme"}, ""))
	testutil.AssertStatus(t, w, 403)
}

func TestLoginDeactivatedAccount(t *testing.T) {
	h, db := newTestHandler(t)
	testutil.CreateTestUser(t, db, "olduser", "maintenance", "", "")
	if _, err := db.Exec("UPDATE users SET active = 0 WHERE username = 'olduser'"); err != nil {
		t.Fatalf("Failed to deactivate user: %v", err)
	}

	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.AuthedJSONRequest("POST", "/auth/login",
		map[string]string{"username": "olduser", "password": "password"}, ""))
	testutil.AssertStatus(t, w, 403)
}

func TestMeRequiresSession(t *testing.T) {
	h, db := newTestHandler(t)

	w := httptest.NewRecorder()
	h.HandleMe(w, testutil.AuthedRequest("GET", "/auth/me", nil, ""))
	testutil.AssertStatus(t, w, 401)

	tok := testutil.LoginAdmin(t, db)
	w = httptest.NewRecorder()
	h.HandleMe(w, testutil.AuthedRequest("GET", "/auth/me", nil, tok))
	testutil.AssertStatus(t, w, 200)
	var u UserResponse
	testutil.DecodeEnvelope(t, w, &u)
	if u.Username != "admin" {
		t.Errorf("Expected admin identity, got %+v", u)
	}
}

func TestUserEndpointsAreAdminGated(t *testing.T) {
	h, db := newTestHandler(t)
	leaderTok := testutil.LoginAs(t, db, "leader1", "leader", "1", "")

	w := httptest.NewRecorder()
	h.ListUsers(w, testutil.AuthedRequest("GET", "/api/v1/users", nil, leaderTok))
	testutil.AssertStatus(t, w, 403)

	w = httptest.NewRecorder()
	h.ListUsers(w, testutil.AuthedRequest("GET", "/api/v1/users", nil, ""))
	testutil.AssertStatus(t, w, 401)
}

func TestCreateUser(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)

	body := map[string]string{
		"username": "newtech", "display_name": "New Tech", "role": "maintenance",
		"password": "Str0ng&Secure!",
	}
	w := httptest.NewRecorder()
	h.CreateUser(w, testutil.AuthedJSONRequest("POST", "/api/v1/users", body, adminTok))
	testutil.AssertStatus(t, w, 201)

	// Duplicate usernames are a conflict, not a server error.
	w = httptest.NewRecorder()
	h.CreateUser(w, testutil.AuthedJSONRequest("POST", "/api/v1/users", body, adminTok))
	testutil.AssertStatus(t, w, 409)
}

func TestCreateUserRejectsWeakPassword(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)

	body := map[string]string{"username": "weak", "role": "quality", "password": "short"}
	w := httptest.NewRecorder()
	h.CreateUser(w, testutil.AuthedJSONRequest("POST", "/api/v1/users", body, adminTok))
	testutil.AssertStatus(t, w, 400)
}

func TestCreateLeaderRequiresKnownLine(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)

	// No line assignment at all.
	body := map[string]string{"username": "lead9", "role": "leader", "password": "Str0ng&Secure!"}
	w := httptest.NewRecorder()
	h.CreateUser(w, testutil.AuthedJSONRequest("POST", "/api/v1/users", body, adminTok))
	testutil.AssertStatus(t, w, 400)

	// A line no division owns.
	body["line_number"] = "99"
	w = httptest.NewRecorder()
	h.CreateUser(w, testutil.AuthedJSONRequest("POST", "/api/v1/users", body, adminTok))
	testutil.AssertStatus(t, w, 400)
}

func TestCreateManagerRequiresKnownDivision(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)

	body := map[string]string{
		"username": "mgr9", "role": "manager", "password": "Str0ng&Secure!",
		"division": "shipping",
	}
	w := httptest.NewRecorder()
	h.CreateUser(w, testutil.AuthedJSONRequest("POST", "/api/v1/users", body, adminTok))
	testutil.AssertStatus(t, w, 400)
}

func TestUpdateUserCannotDeactivateSelf(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)

	var adminID int
	if err := db.QueryRow("SELECT id FROM users WHERE username = 'admin'").Scan(&adminID); err != nil {
		t.Fatalf("Failed to find admin: %v", err)
	}
	zero := 0
	body := UpdateUserRequest{DisplayName: "Admin", Role: "admin", Active: &zero}
	w := httptest.NewRecorder()
	h.UpdateUser(w, testutil.AuthedJSONRequest("PUT", "/x", body, adminTok), intToStr(adminID))
	testutil.AssertStatus(t, w, 400)
}

func TestDeleteUserCascadesSessions(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)
	testutil.LoginAs(t, db, "goner", "warehouse", "", "")

	var gonerID int
	if err := db.QueryRow("SELECT id FROM users WHERE username = 'goner'").Scan(&gonerID); err != nil {
		t.Fatalf("Failed to find user: %v", err)
	}

	w := httptest.NewRecorder()
	h.DeleteUser(w, testutil.AuthedRequest("DELETE", "/x", nil, adminTok), intToStr(gonerID))
	testutil.AssertStatus(t, w, 200)

	var sessions int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE user_id = ?", gonerID).Scan(&sessions)
	if sessions != 0 {
		t.Errorf("Expected deleted user's sessions removed, found %d", sessions)
	}
}

func TestDeleteSelfBlocked(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)

	var adminID int
	db.QueryRow("SELECT id FROM users WHERE username = 'admin'").Scan(&adminID)
	w := httptest.NewRecorder()
	h.DeleteUser(w, testutil.AuthedRequest("DELETE", "/x", nil, adminTok), intToStr(adminID))
	testutil.AssertStatus(t, w, 400)
}

func TestResetPasswordThenLogin(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)
	testutil.CreateTestUser(t, db, "qe1", "quality", "", "")

	var qeID int
	db.QueryRow("SELECT id FROM users WHERE username = 'qe1'").Scan(&qeID)
	w := httptest.NewRecorder()
	h.ResetPassword(w, testutil.AuthedJSONRequest("PUT", "/x",
		map[string]string{"password": "Fresh&Secret99"}, adminTok), intToStr(qeID))
	testutil.AssertStatus(t, w, 200)

	w = httptest.NewRecorder()
	h.HandleLogin(w, testutil.AuthedJSONRequest("POST", "/auth/login",
		map[string]string{"username": "qe1", "password": "Fresh&Secret99"}, ""))
	testutil.AssertStatus(t, w, 200)
}

func TestChangePasswordChecksCurrent(t *testing.T) {
	h, db := newTestHandler(t)
	tok := testutil.LoginAs(t, db, "wh1", "warehouse", "", "")

	w := httptest.NewRecorder()
	h.HandleChangePassword(w, testutil.AuthedJSONRequest("POST", "/auth/change-password",
		map[string]string{"current_password": "wrong", "new_password": "Fresh&Secret99"}, tok))
	testutil.AssertStatus(t, w, 401)

	w = httptest.NewRecorder()
	h.HandleChangePassword(w, testutil.AuthedJSONRequest("POST", "/auth/change-password",
		map[string]string{"current_password": "password", "new_password": "Fresh&Secret99"}, tok))
	testutil.AssertStatus(t, w, 200)
}

func TestLogoutDeletesSession(t *testing.T) {
	h, db := newTestHandler(t)
	tok := testutil.LoginAdmin(t, db)

	w := httptest.NewRecorder()
	h.HandleLogout(w, testutil.AuthedRequest("POST", "/auth/logout", nil, tok))
	testutil.AssertStatus(t, w, 200)

	var count int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", tok).Scan(&count)
	if count != 0 {
		t.Errorf("Expected session removed on logout, found %d", count)
	}
}

func TestAuditLogAdminOnly(t *testing.T) {
	h, db := newTestHandler(t)
	adminTok := testutil.LoginAdmin(t, db)
	leaderTok := testutil.LoginAs(t, db, "leader1", "leader", "1", "")

	w := httptest.NewRecorder()
	h.ListAuditLog(w, testutil.AuthedRequest("GET", "/api/v1/audit", nil, leaderTok))
	testutil.AssertStatus(t, w, 403)

	w = httptest.NewRecorder()
	h.ListAuditLog(w, testutil.AuthedRequest("GET", "/api/v1/audit", nil, adminTok))
	testutil.AssertStatus(t, w, 200)
}

func intToStr(n int) string {
	return strconv.Itoa(n)
}
