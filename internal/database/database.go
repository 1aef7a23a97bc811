package database

import (
	"database/sql"
	"fmt"
)

// SP converts a nullable string column to a *string.
func SP(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// NextID allocates the next sequential record ID with the given prefix,
// zero-padded to digits (e.g. PRB-042). Sequence state lives in the
// id_sequences table so IDs survive restarts.
func NextID(db *sql.DB, prefix, table string, digits int) string {
	var next int
	err := db.QueryRow("SELECT next_num FROM id_sequences WHERE prefix = ?", prefix).Scan(&next)
	if err != nil {
		next = 1
		// Fall back to max existing ID so a fresh sequence row doesn't collide.
		var maxID sql.NullString
		db.QueryRow(fmt.Sprintf("SELECT MAX(id) FROM %s WHERE id LIKE ?", table), prefix+"-%").Scan(&maxID)
		if maxID.Valid {
			var n int
			if _, serr := fmt.Sscanf(maxID.String, prefix+"-%d", &n); serr == nil {
				next = n + 1
			}
		}
		db.Exec("INSERT OR IGNORE INTO id_sequences (prefix, next_num) VALUES (?, ?)", prefix, next)
	}
	db.Exec("UPDATE id_sequences SET next_num = ? WHERE prefix = ?", next+1, prefix)
	return fmt.Sprintf("%s-%0*d", prefix, digits, next)
}
