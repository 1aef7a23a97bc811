package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var db *sql.DB

func initDB(path string) error {
	// Close previous connection if any (prevents goroutine leaks in tests)
	if db != nil {
		db.Close()
	}
	var err error
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err = sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return err
	}

	// SQLite can handle 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly set WAL mode (some drivers don't parse connection string params correctly)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return runMigrations()
}

func runMigrations() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
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
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS problems (
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
		)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_active ON problems(is_resolved, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_line ON problems(line_number)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			severity TEXT DEFAULT 'info' CHECK(severity IN ('info','warning','error')),
			title TEXT NOT NULL,
			message TEXT,
			record_id TEXT,
			read_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT DEFAULT '',
			summary TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS id_sequences (
			prefix TEXT PRIMARY KEY,
			next_num INTEGER NOT NULL
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func seedDB() {
	var count int
	db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	if count > 0 {
		return
	}

	seed := []struct {
		username, displayName, role, line, division string
	}{
		{"admin", "Administrator", "admin", "", ""},
		{"leader1", "Line 1 Leader", "leader", "1", ""},
		{"leader3", "Line 3 Leader", "leader", "3", ""},
		{"maint1", "Maintenance Tech", "maintenance", "", ""},
		{"qe1", "Quality Engineer", "quality", "", ""},
		{"wh1", "Warehouse Clerk", "warehouse", "", ""},
		{"mgr-assembly", "Assembly Manager", "manager", "", "assembly"},
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		log.Println("seed: failed to hash default password:", err)
		return
	}
	for _, u := range seed {
		_, err := db.Exec(`INSERT INTO users (username, password_hash, display_name, role, line_number, division)
			VALUES (?, ?, ?, ?, ?, ?)`,
			u.username, string(hash), u.displayName, u.role, u.line, u.division)
		if err != nil {
			log.Printf("seed: user %s: %v", u.username, err)
		}
	}
	log.Println("Seeded default users (password: changeme)")
}
