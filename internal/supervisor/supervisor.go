// Package supervisor owns the fleet of bot processes: it starts, stops and
// restarts them, mirrors every status change into the record store and runs
// the health-check loop that turns dead processes into crashes and, when
// allowed, automatic restarts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/history"
	"github.com/loykin/botvisr/internal/metrics"
	"github.com/loykin/botvisr/internal/process"
	"github.com/loykin/botvisr/internal/store"
)

// Supervisor is safe for concurrent use. Lifecycle operations on one bot are
// serialized; operations on different bots run in parallel.
type Supervisor struct {
	cfg     Config
	store   store.Store
	hist    history.Multi
	hopts   process.Options
	log     *slog.Logger
	now     func() time.Time
	sampleG singleflight.Group

	mu        sync.Mutex
	handles   map[string]*process.Handle
	lastCrash map[string]time.Time // last crash that triggered an auto-restart
	pending   map[string]struct{}  // crashed bots waiting for the backoff window
	locks     map[string]*sync.Mutex

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	bg sync.WaitGroup // history deliveries
}

type Option func(*Supervisor)

// WithHistory adds lifecycle event sinks.
func WithHistory(sinks ...history.Sink) Option {
	return func(s *Supervisor) { s.hist = append(s.hist, sinks...) }
}

// WithLineSink forwards captured output lines of every bot to ls.
func WithLineSink(ls process.LineSink) Option {
	return func(s *Supervisor) { s.hopts.Sink = ls }
}

// WithSampler replaces the gopsutil resource sampler.
func WithSampler(sm process.Sampler) Option {
	return func(s *Supervisor) { s.hopts.Sampler = sm }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a supervisor over st. The monitoring loop is not started.
func New(st store.Store, cfg Config, opts ...Option) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = process.DefaultShutdownTimeout
	}
	if cfg.Kinds == nil {
		cfg.Kinds = bot.DefaultRegistry()
	}
	s := &Supervisor{
		cfg:       cfg,
		store:     st,
		log:       slog.Default(),
		now:       time.Now,
		handles:   make(map[string]*process.Handle),
		lastCrash: make(map[string]time.Time),
		pending:   make(map[string]struct{}),
		locks:     make(map[string]*sync.Mutex),
	}
	s.hopts = process.Options{
		Kinds:           cfg.Kinds,
		WorkDir:         cfg.BotsDir,
		Logs:            cfg.Logs,
		Env:             cfg.Env,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Sampler:         process.PsSampler{Interval: cfg.SampleInterval},
	}
	for _, o := range opts {
		o(s)
	}
	s.hopts.Logger = s.log
	return s
}

func (s *Supervisor) botLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Supervisor) handle(id string) *process.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

// Tracked reports whether the supervisor holds a process handle for id.
func (s *Supervisor) Tracked(id string) bool { return s.handle(id) != nil }

// TrackedIDs returns the ids of all tracked bots in sorted order.
func (s *Supervisor) TrackedIDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// StartBot spawns the process of a bot. Every path ends with the record in
// Running or Crashed.
func (s *Supervisor) StartBot(ctx context.Context, id string) error {
	l := s.botLock(id)
	l.Lock()
	defer l.Unlock()
	return s.startLocked(ctx, id, false)
}

func (s *Supervisor) startLocked(ctx context.Context, id string, auto bool) error {
	if h := s.handle(id); h != nil {
		if h.IsRunning() {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
		}
		// died before the health check noticed
		if err := s.crashed(ctx, id, h); err != nil {
			return err
		}
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	// tracked before Starting is written so an active record always has a handle
	h := process.New(rec, s.hopts)
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	st := rec.State()
	st.Status = bot.StatusStarting
	st.ProcessID = 0
	if err := s.writeState(ctx, &rec, st); err != nil {
		h.Close()
		s.drop(id)
		return err
	}

	if err := h.Start(); err != nil {
		h.Close()
		s.drop(id)
		st.Status = bot.StatusCrashed
		if werr := s.writeState(ctx, &rec, st); werr != nil {
			s.log.Error("persist start failure", "bot_id", id, "error", werr)
		}
		metrics.IncStartFailure(id)
		s.emit(history.EventStartFailed, rec, 0, err)
		if auto && !configError(err) {
			s.mu.Lock()
			s.pending[id] = struct{}{}
			s.mu.Unlock()
		}
		s.log.Error("bot start failed", "bot_id", id, "bot", rec.Name, "error", err)
		return err
	}

	pid, _ := h.PID()
	started, _ := h.StartTime()
	started = started.UTC()
	st.Status = bot.StatusRunning
	st.ProcessID = pid
	st.LastStartedAt = &started

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	if err := s.writeState(ctx, &rec, st); err != nil {
		// the process is up and tracked; the next transition rewrites the row
		s.log.Error("persist running state", "bot_id", id, "error", err)
	}
	metrics.IncStart(id)
	ev := history.EventStart
	if auto {
		ev = history.EventRestart
		metrics.IncAutoRestart(id)
	}
	s.emit(ev, rec, pid, nil)
	s.log.Info("bot started", "bot_id", id, "bot", rec.Name, "pid", pid, "auto", auto)
	return nil
}

// StopBot stops a bot. Stopping a bot without a process succeeds and only
// resets its record to Stopped.
func (s *Supervisor) StopBot(ctx context.Context, id string, force bool) error {
	l := s.botLock(id)
	l.Lock()
	defer l.Unlock()
	return s.stopLocked(ctx, id, force)
}

func (s *Supervisor) stopLocked(ctx context.Context, id string, force bool) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if h := s.handle(id); h != nil && errors.Is(err, store.ErrNotFound) {
			// record vanished underneath a live process
			_ = h.Stop(true)
			h.Close()
			s.drop(id)
		}
		return err
	}
	s.mu.Lock()
	h := s.handles[id]
	delete(s.pending, id)
	s.mu.Unlock()

	st := rec.State()
	if h == nil {
		if st.Status == bot.StatusStopped && st.ProcessID == 0 {
			return nil
		}
		st.Status = bot.StatusStopped
		st.ProcessID = 0
		return s.writeState(ctx, &rec, st)
	}

	st.Status = bot.StatusStopping
	st.ProcessID = 0
	if err := s.writeState(ctx, &rec, st); err != nil {
		s.log.Warn("persist stopping state", "bot_id", id, "error", err)
	}

	pid, _ := h.PID()
	stopErr := h.Stop(force)
	h.Close()
	s.drop(id)

	if stopErr != nil && !errors.Is(stopErr, process.ErrNotRunning) {
		st.Status = bot.StatusCrashed
		if err := s.writeState(ctx, &rec, st); err != nil {
			s.log.Error("persist stop failure", "bot_id", id, "error", err)
		}
		s.log.Error("bot stop failed", "bot_id", id, "bot", rec.Name, "error", stopErr)
		return stopErr
	}

	st.Status = bot.StatusStopped
	if err := s.writeState(ctx, &rec, st); err != nil {
		return err
	}
	metrics.IncStop(id)
	s.emit(history.EventStop, rec, pid, nil)
	s.log.Info("bot stopped", "bot_id", id, "bot", rec.Name, "force", force)
	return nil
}

func (s *Supervisor) drop(id string) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
}

// RestartBot stops the bot best-effort, pauses, then starts it.
func (s *Supervisor) RestartBot(ctx context.Context, id string) error {
	if err := s.StopBot(ctx, id, false); err != nil {
		s.log.Warn("stop before restart failed", "bot_id", id, "error", err)
	}
	if s.cfg.RestartPause > 0 {
		t := time.NewTimer(s.cfg.RestartPause)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return s.StartBot(ctx, id)
}

// DeleteBot removes the record of a bot that has no process.
func (s *Supervisor) DeleteBot(ctx context.Context, id string) error {
	l := s.botLock(id)
	l.Lock()
	defer l.Unlock()
	if s.handle(id) != nil {
		return fmt.Errorf("%w: %s", ErrActive, id)
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.Active() {
		return fmt.Errorf("%w: %s is %s", ErrActive, id, rec.Status)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pending, id)
	delete(s.lastCrash, id)
	delete(s.locks, id)
	s.mu.Unlock()
	metrics.ForgetBot(id)
	return nil
}

// LoadFromStore reconciles records left active by a previous run. They have
// no process in this supervisor, so they are reset to Stopped (after killing
// a verified orphan when configured) and restarted when auto-restart allows.
func (s *Supervisor) LoadFromStore(ctx context.Context) error {
	recs, err := s.store.ListByStatus(ctx, bot.StatusStarting, bot.StatusRunning, bot.StatusStopping)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}
	var restart []string
	for _, rec := range recs {
		if s.resetOrphan(ctx, rec) && rec.AutoRestart && s.cfg.AutoRestart {
			restart = append(restart, rec.ID)
		}
	}
	for _, id := range restart {
		if err := s.StartBot(ctx, id); err != nil {
			s.log.Warn("restart after reload failed", "bot_id", id, "error", err)
		}
	}
	return nil
}

func (s *Supervisor) resetOrphan(ctx context.Context, rec bot.Record) bool {
	l := s.botLock(rec.ID)
	l.Lock()
	defer l.Unlock()
	if s.handle(rec.ID) != nil {
		return false
	}
	if s.cfg.ReapOrphans && rec.ProcessID > 0 && rec.LastStartedAt != nil {
		if process.ReapOrphan(rec.ProcessID, *rec.LastStartedAt, s.cfg.ShutdownTimeout) {
			s.log.Warn("killed orphan bot process", "bot_id", rec.ID, "pid", rec.ProcessID)
		}
	}
	st := rec.State()
	st.Status = bot.StatusStopped
	st.ProcessID = 0
	if err := s.writeState(ctx, &rec, st); err != nil {
		s.log.Error("reset orphan record", "bot_id", rec.ID, "error", err)
		return false
	}
	return true
}

// StopAll stops every tracked bot one after another.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var errs []error
	for _, id := range s.TrackedIDs() {
		if err := s.StopBot(ctx, id, false); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// writeState persists st and mirrors it into rec. The write is detached from
// caller cancellation so the record never lags behind the process.
func (s *Supervisor) writeState(ctx context.Context, rec *bot.Record, st bot.State) error {
	from := rec.Status
	if err := s.store.UpdateState(context.WithoutCancel(ctx), rec.ID, st); err != nil {
		return fmt.Errorf("persist %s state of %s: %w", st.Status, rec.ID, err)
	}
	rec.SetState(st)
	metrics.RecordStateTransition(rec.ID, string(from), string(st.Status))
	return nil
}

// emit delivers a lifecycle event asynchronously; pid is the process the
// event refers to.
func (s *Supervisor) emit(t history.EventType, rec bot.Record, pid int, cause error) {
	if len(s.hist) == 0 {
		return
	}
	e := history.Event{
		Type:         t,
		OccurredAt:   s.now().UTC(),
		BotID:        rec.ID,
		Name:         rec.Name,
		Kind:         string(rec.Kind),
		PID:          pid,
		Status:       string(rec.Status),
		RestartCount: rec.RestartCount,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historySendTimeout)
		defer cancel()
		if err := s.hist.Send(ctx, e); err != nil {
			s.log.Warn("history sink failed", "event", t, "bot_id", e.BotID, "error", err)
		}
	}()
}
