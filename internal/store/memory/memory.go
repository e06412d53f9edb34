// Package memory is an in-process store.Store, used by tests and embedders
// that do not need persistence.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/store"
)

type Store struct {
	mu   sync.RWMutex
	recs map[string]bot.Record
}

var _ store.Store = (*Store)(nil)

func New() *Store { return &Store{recs: map[string]bot.Record{}} }

func (s *Store) EnsureSchema(context.Context) error { return nil }
func (s *Store) Close() error                       { return nil }

func (s *Store) Create(_ context.Context, rec *bot.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.TrimSpace(rec.Name)
	for _, r := range s.recs {
		if r.Name == name {
			return fmt.Errorf("%w: %s", store.ErrConflict, name)
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := s.recs[rec.ID]; ok {
		return fmt.Errorf("%w: id %s", store.ErrConflict, rec.ID)
	}
	now := time.Now().UTC()
	rec.Name = name
	rec.Status = bot.StatusStopped
	rec.ProcessID = 0
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.recs[rec.ID] = clone(*rec)
	return nil
}

// Put stores rec verbatim, including its state. Tests use it to seed
// records left over by a previous run.
func (s *Store) Put(rec bot.Record) {
	s.mu.Lock()
	s.recs[rec.ID] = clone(rec)
	s.mu.Unlock()
}

func (s *Store) Get(_ context.Context, id string) (bot.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	if !ok {
		return bot.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return clone(r), nil
}

func (s *Store) List(context.Context) ([]bot.Record, error) {
	return s.filter(func(bot.Record) bool { return true }), nil
}

func (s *Store) ListByStatus(_ context.Context, statuses ...bot.Status) ([]bot.Record, error) {
	return s.filter(func(r bot.Record) bool { return slices.Contains(statuses, r.Status) }), nil
}

func (s *Store) filter(keep func(bot.Record) bool) []bot.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bot.Record
	for _, r := range s.recs {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Store) UpdateState(_ context.Context, id string, st bot.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	r.SetState(st)
	r.UpdatedAt = time.Now().UTC()
	s.recs[id] = r
	return nil
}

func (s *Store) UpdateSpec(_ context.Context, rec bot.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[rec.ID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, rec.ID)
	}
	name := strings.TrimSpace(rec.Name)
	for id, other := range s.recs {
		if id != rec.ID && other.Name == name {
			return fmt.Errorf("%w: %s", store.ErrConflict, name)
		}
	}
	r.Name = name
	r.Kind = rec.Kind
	r.Config = rec.Config
	r.AutoRestart = rec.AutoRestart
	r.UpdatedAt = time.Now().UTC()
	s.recs[rec.ID] = clone(r)
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	delete(s.recs, id)
	return nil
}

func clone(r bot.Record) bot.Record {
	if r.Config != nil {
		cfg := make(map[string]any, len(r.Config))
		for k, v := range r.Config {
			cfg[k] = v
		}
		r.Config = cfg
	}
	if r.LastStartedAt != nil {
		t := *r.LastStartedAt
		r.LastStartedAt = &t
	}
	if r.LastCrashAt != nil {
		t := *r.LastCrashAt
		r.LastCrashAt = &t
	}
	return r
}
