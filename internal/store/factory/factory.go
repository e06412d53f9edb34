package factory

import (
	"errors"
	"strings"

	"github.com/loykin/botvisr/internal/store"
	"github.com/loykin/botvisr/internal/store/memory"
	pg "github.com/loykin/botvisr/internal/store/postgres"
	sq "github.com/loykin/botvisr/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:   "sqlite://<path>" or a bare file path
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - memory:   "memory://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "memory://"):
		return memory.New(), nil
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.Contains(d, "://"):
		return nil, errors.New("unsupported store DSN: " + d)
	default:
		return sq.New(d)
	}
}
