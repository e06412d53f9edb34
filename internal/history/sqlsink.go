package history

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// SQLSink appends events to a bot_history table. The sqlite and postgres
// subpackages open the database and pick the dialect.
type SQLSink struct {
	db       *sql.DB
	numbered bool
}

// NewSQLSink wraps db and creates the table with schema.
func NewSQLSink(ctx context.Context, db *sql.DB, numbered bool, schema ...string) (*SQLSink, error) {
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return nil, err
		}
	}
	return &SQLSink{db: db, numbered: numbered}, nil
}

const insertEvent = `INSERT INTO bot_history(occurred_at, event, bot_id, name, kind, pid, status, restart_count, error)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	var errStr any
	if e.Error != "" {
		errStr = e.Error
	}
	q := insertEvent
	if s.numbered {
		q = numberPlaceholders(q)
	}
	_, err := s.db.ExecContext(ctx, q, e.OccurredAt.UTC(), string(e.Type), e.BotID, e.Name, e.Kind, e.PID,
		e.Status, e.RestartCount, errStr)
	return err
}

// Events returns the most recent events of a bot, newest first.
func (s *SQLSink) Events(ctx context.Context, botID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT occurred_at, event, bot_id, name, kind, pid, status, restart_count, error
		FROM bot_history WHERE bot_id = ? ORDER BY occurred_at DESC LIMIT ?;`
	if s.numbered {
		q = numberPlaceholders(q)
	}
	rows, err := s.db.QueryContext(ctx, q, botID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			e      Event
			typ    string
			errStr sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.BotID, &e.Name, &e.Kind, &e.PID, &e.Status,
			&e.RestartCount, &errStr); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error { return s.db.Close() }

func numberPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
