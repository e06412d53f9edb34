package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/botvisr/internal/store/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS bots(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			auto_restart BOOLEAN NOT NULL DEFAULT 0,
			process_id INTEGER NOT NULL DEFAULT 0,
			restart_count INTEGER NOT NULL DEFAULT 0,
			last_started_at TIMESTAMP NULL,
			last_crash_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);`,
	},
	IsConflict: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// New opens a SQLite database at path (modernc.org/sqlite, CGO-free). Use
// ":memory:" for a private in-memory database.
func New(path string) (*sqlstore.DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers and keeps :memory: a single database
	d.SetMaxOpenConns(1)
	// busy timeout helps with short locks held by other processes
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return sqlstore.New(d, dialect), nil
}
