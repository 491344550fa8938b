package session

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// openSQLite opens (or creates) the session database at the given path.
// Writes are funneled through a single connection: concurrent fetch
// goroutines all update the queue, and SQLite admits only one writer at a
// time, so a second pooled connection would just surface SQLITE_BUSY.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	// WAL keeps concurrent fetch goroutines from blocking on reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	// A resumed session opens a second connection to the same file; wait
	// out its writes instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
