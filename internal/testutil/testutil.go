// Package testutil provides shared helpers for handler and store tests:
// an in-memory SQLite database with the production schema, seeded users
// for each role, and authenticated request builders.
package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"andon/internal/models"
)

// SetupTestDB creates a standard in-memory SQLite database for testing
// with foreign keys enabled and all tables created.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	testDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	if _, err := testDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	createTables(t, testDB)
	seedAdminUser(t, testDB)

	return testDB
}

func createTables(t *testing.T, db *sql.DB) {
	t.Helper()
	tables := []struct {
		name string
		ddl  string
	}{
		{"users", `CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT,
			role TEXT DEFAULT 'leader' CHECK(role IN ('admin','leader','maintenance','quality','warehouse','manager','engineering')),
			line_number TEXT DEFAULT '',
			division TEXT DEFAULT '',
			active INTEGER DEFAULT 1,
			failed_login_attempts INTEGER DEFAULT 0,
			locked_until DATETIME,
			last_login TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`},
		{"sessions", `CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`},
		{"problems", `CREATE TABLE IF NOT EXISTS problems (
			id TEXT PRIMARY KEY,
			machine TEXT NOT NULL,
			line_number TEXT NOT NULL,
			division TEXT DEFAULT '',
			problem_type TEXT NOT NULL CHECK(problem_type IN ('machine','quality','material','other')),
			severity TEXT DEFAULT 'warning' CHECK(severity IN ('warning','critical')),
			description TEXT DEFAULT '',
			recommended_action TEXT DEFAULT '',
			detected_at DATETIME NOT NULL,
			is_forwarded INTEGER DEFAULT 0,
			forwarded_by TEXT DEFAULT '',
			forwarded_at DATETIME,
			forwarded_to_role TEXT DEFAULT '',
			forward_message TEXT DEFAULT '',
			is_received INTEGER DEFAULT 0,
			received_by TEXT DEFAULT '',
			received_at DATETIME,
			is_feedback_resolved INTEGER DEFAULT 0,
			feedback_by TEXT DEFAULT '',
			feedback_at DATETIME,
			feedback_message TEXT DEFAULT '',
			is_resolved INTEGER DEFAULT 0,
			resolved_by TEXT DEFAULT '',
			resolved_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
		{"notifications", `CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			severity TEXT DEFAULT 'info' CHECK(severity IN ('info','warning','error')),
			title TEXT NOT NULL,
			message TEXT,
			record_id TEXT,
			read_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
		{"audit_log", `CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT DEFAULT '',
			summary TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
		{"id_sequences", `CREATE TABLE IF NOT EXISTS id_sequences (
			prefix TEXT PRIMARY KEY,
			next_num INTEGER NOT NULL
		)`},
	}
	for _, tbl := range tables {
		if _, err := db.Exec(tbl.ddl); err != nil {
			t.Fatalf("Failed to create %s table: %v", tbl.name, err)
		}
	}
}

func seedAdminUser(t *testing.T, db *sql.DB) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("Failed to hash admin password: %v", err)
	}
	_, err = db.Exec(`INSERT INTO users (username, password_hash, display_name, role) VALUES (?, ?, ?, ?)`,
		"admin", string(hash), "Administrator", "admin")
	if err != nil {
		t.Fatalf("Failed to create default admin user: %v", err)
	}
}

// CreateTestUser creates a user with the given role and assignment.
// Line applies to leaders, division to managers; either may be empty.
func CreateTestUser(t *testing.T, db *sql.DB, username, role, line, division string) int {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	result, err := db.Exec(
		"INSERT INTO users (username, password_hash, display_name, role, line_number, division, active) VALUES (?, ?, ?, ?, ?, ?, 1)",
		username, string(hash), username+" Display", role, line, division,
	)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	id, _ := result.LastInsertId()
	return int(id)
}

// CreateTestSession inserts a session for the user and returns its token.
func CreateTestSession(t *testing.T, db *sql.DB, userID int) string {
	t.Helper()
	token := fmt.Sprintf("test-session-%d-%s", userID, time.Now().Format("20060102150405.000000"))
	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	_, err := db.Exec(
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt.Format(models.TimeFormat),
	)
	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}
	return token
}

// LoginAs creates a user with the given role and assignment plus a live
// session, returning the session token.
func LoginAs(t *testing.T, db *sql.DB, username, role, line, division string) string {
	t.Helper()
	userID := CreateTestUser(t, db, username, role, line, division)
	return CreateTestSession(t, db, userID)
}

// LoginAdmin creates a session for the seeded admin user.
func LoginAdmin(t *testing.T, db *sql.DB) string {
	t.Helper()
	var id int
	if err := db.QueryRow("SELECT id FROM users WHERE username = 'admin'").Scan(&id); err != nil {
		t.Fatalf("Failed to find admin user: %v", err)
	}
	return CreateTestSession(t, db, id)
}

// SeedProblem inserts a problem in the active state and returns its ID.
func SeedProblem(t *testing.T, db *sql.DB, id, machine, line, division, ptype, severity string) string {
	t.Helper()
	now := time.Now().UTC().Format(models.TimeFormat)
	_, err := db.Exec(`INSERT INTO problems
		(id, machine, line_number, division, problem_type, severity, description, detected_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, machine, line, division, ptype, severity, "test problem", now, now, now)
	if err != nil {
		t.Fatalf("Failed to seed problem: %v", err)
	}
	return id
}

// AuthedRequest creates an HTTP request carrying a session cookie.
func AuthedRequest(method, path string, body []byte, sessionToken string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if sessionToken != "" {
		req.AddCookie(&http.Cookie{Name: "andon_session", Value: sessionToken})
	}
	return req
}

// AuthedJSONRequest marshals body to JSON and builds an authed request.
func AuthedJSONRequest(method, path string, body interface{}, sessionToken string) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := AuthedRequest(method, path, bodyBytes, sessionToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertStatus fails the test if the recorded status differs.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// DecodeEnvelope decodes the {"data": ...} response envelope into v.
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode response envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("Failed to decode data payload: %v", err)
	}
}
