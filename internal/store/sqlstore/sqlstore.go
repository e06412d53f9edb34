// Package sqlstore implements store.Store over database/sql for the SQLite
// and Postgres dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/store"
)

// Dialect captures what differs between database engines.
type Dialect struct {
	Name string
	// Schema is run by EnsureSchema in order.
	Schema []string
	// Numbered placeholders ($1, $2) instead of '?'.
	Numbered bool
	// IsConflict reports a unique constraint violation.
	IsConflict func(error) bool
}

// DB is a store.Store backed by a *sql.DB.
type DB struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ store.Store = (*DB)(nil)

func New(db *sql.DB, d Dialect) *DB {
	return &DB{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// SQL exposes the underlying handle.
func (s *DB) SQL() *sql.DB { return s.db }

func (s *DB) EnsureSchema(ctx context.Context) error {
	for _, q := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// rebind converts '?' placeholders for dialects that number them.
func (s *DB) rebind(q string) string {
	if !s.dialect.Numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const columns = `id, name, kind, config, status, auto_restart, process_id, restart_count,
	last_started_at, last_crash_at, created_at, updated_at`

func (s *DB) Create(ctx context.Context, rec *bot.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now()
	rec.Status = bot.StatusStopped
	rec.ProcessID = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cfg, err := encodeConfig(rec.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO bots(`+columns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`),
		rec.ID, strings.TrimSpace(rec.Name), string(rec.Kind), cfg, string(rec.Status), rec.AutoRestart,
		0, rec.RestartCount, nullTime(rec.LastStartedAt), nullTime(rec.LastCrashAt), now, now)
	if err != nil {
		if s.dialect.IsConflict != nil && s.dialect.IsConflict(err) {
			return fmt.Errorf("%w: %s", store.ErrConflict, rec.Name)
		}
		return err
	}
	return nil
}

func (s *DB) Get(ctx context.Context, id string) (bot.Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+columns+` FROM bots WHERE id = ?;`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bot.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return rec, err
}

func (s *DB) List(ctx context.Context) ([]bot.Record, error) {
	return s.query(ctx, `SELECT `+columns+` FROM bots ORDER BY created_at, name;`)
}

func (s *DB) ListByStatus(ctx context.Context, statuses ...bot.Status) ([]bot.Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.query(ctx, `SELECT `+columns+` FROM bots WHERE status IN (`+marks+`) ORDER BY created_at, name;`, args...)
}

func (s *DB) query(ctx context.Context, q string, args ...any) ([]bot.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []bot.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) UpdateState(ctx context.Context, id string, st bot.State) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE bots
		SET status = ?, process_id = ?, restart_count = ?, last_started_at = ?, last_crash_at = ?, updated_at = ?
		WHERE id = ?;`),
		string(st.Status), st.ProcessID, st.RestartCount, nullTime(st.LastStartedAt), nullTime(st.LastCrashAt),
		s.now(), id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

func (s *DB) UpdateSpec(ctx context.Context, rec bot.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	cfg, err := encodeConfig(rec.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE bots
		SET name = ?, kind = ?, config = ?, auto_restart = ?, updated_at = ?
		WHERE id = ?;`),
		strings.TrimSpace(rec.Name), string(rec.Kind), cfg, rec.AutoRestart, s.now(), rec.ID)
	if err != nil {
		if s.dialect.IsConflict != nil && s.dialect.IsConflict(err) {
			return fmt.Errorf("%w: %s", store.ErrConflict, rec.Name)
		}
		return err
	}
	return expectOne(res, rec.ID)
}

func (s *DB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM bots WHERE id = ?;`), id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (bot.Record, error) {
	var (
		rec            bot.Record
		kind, status   string
		cfg            sql.NullString
		started, crash sql.NullTime
	)
	if err := sc.Scan(&rec.ID, &rec.Name, &kind, &cfg, &status, &rec.AutoRestart, &rec.ProcessID,
		&rec.RestartCount, &started, &crash, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return bot.Record{}, err
	}
	rec.Kind = bot.Kind(kind)
	st, err := bot.ParseStatus(status)
	if err != nil {
		return bot.Record{}, fmt.Errorf("bot %s: %w", rec.ID, err)
	}
	rec.Status = st
	if cfg.Valid && cfg.String != "" {
		dec := json.NewDecoder(strings.NewReader(cfg.String))
		dec.UseNumber()
		if err := dec.Decode(&rec.Config); err != nil {
			return bot.Record{}, fmt.Errorf("bot %s: decode config: %w", rec.ID, err)
		}
	}
	if started.Valid {
		t := started.Time
		rec.LastStartedAt = &t
	}
	if crash.Valid {
		t := crash.Time
		rec.LastCrashAt = &t
	}
	return rec, nil
}

func encodeConfig(cfg map[string]any) (string, error) {
	if len(cfg) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
