package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/botvisr/internal/history"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bot_history(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
		event TEXT NOT NULL,
		bot_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		pid INTEGER NOT NULL,
		status TEXT NOT NULL,
		restart_count INTEGER NOT NULL,
		error TEXT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_bot_history_bot ON bot_history(bot_id, occurred_at);`,
}

// New creates a SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
func New(dsn string) (*history.SQLSink, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	sink, err := history.NewSQLSink(context.Background(), db, false, schema...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}
