package store

import (
	"context"
	"errors"

	"github.com/loykin/botvisr/internal/bot"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("bot not found")
	// ErrConflict is returned when a record name is already taken.
	ErrConflict = errors.New("bot name already exists")
)

// Store persists bot records.
//
// UpdateState writes only the supervisor-owned columns (status, pid, restart
// counter, timestamps) and UpdateSpec only the operator-owned ones (name,
// kind, config, auto-restart), so the two writers never clobber each other.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Create inserts rec in the Stopped state. An empty ID is generated and
	// written back into rec together with the timestamps.
	Create(ctx context.Context, rec *bot.Record) error
	Get(ctx context.Context, id string) (bot.Record, error)
	List(ctx context.Context) ([]bot.Record, error)
	ListByStatus(ctx context.Context, statuses ...bot.Status) ([]bot.Record, error)
	UpdateState(ctx context.Context, id string, st bot.State) error
	UpdateSpec(ctx context.Context, rec bot.Record) error
	Delete(ctx context.Context, id string) error
	Close() error
}
