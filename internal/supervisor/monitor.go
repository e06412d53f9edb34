package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/history"
	"github.com/loykin/botvisr/internal/metrics"
	"github.com/loykin/botvisr/internal/process"
	"github.com/loykin/botvisr/internal/store"
)

// Start launches the monitoring loop. Calling Start on a running loop is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return
	}
	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.loop(lctx, done)
	s.log.Info("supervisor monitoring started", "poll_interval", s.cfg.PollInterval,
		"restart_backoff", s.cfg.RestartBackoff)
}

// Shutdown stops the monitoring loop and waits for it and for pending history
// deliveries, bounded by ctx. Bot processes are left alone; call StopAll first
// to stop them.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var c context.CancelFunc
		ctx, c = context.WithTimeout(ctx, shutdownJoinTimeout)
		defer c()
	}
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("monitoring loop did not stop: %w", ctx.Err())
		}
	}
	flushed := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("history deliveries pending: %w", ctx.Err())
	}
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one health-check cycle over tracked bots and crashed bots
// waiting for a restart. Each bot is checked on its own goroutine; the call
// returns when all checks have finished.
func (s *Supervisor) CheckOnce(ctx context.Context) {
	s.mu.Lock()
	ids := make(map[string]struct{}, len(s.handles)+len(s.pending))
	for id := range s.handles {
		ids[id] = struct{}{}
	}
	for id := range s.pending {
		ids[id] = struct{}{}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.check(ctx, id)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) check(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("health check panicked", "bot_id", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	l := s.botLock(id)
	if !l.TryLock() {
		// a lifecycle operation is in flight; next cycle
		return
	}
	defer l.Unlock()

	if h := s.handle(id); h != nil {
		if h.IsRunning() {
			return
		}
		if err := s.crashed(ctx, id, h); err != nil {
			return
		}
	}
	s.maybeRestart(ctx, id)
}

// crashed records the death of a tracked process: the record goes to Crashed
// with its restart counter bumped, the handle is released and, when
// auto-restart applies, the bot joins the pending set. If the record cannot
// be read the handle stays tracked and the next cycle tries again.
func (s *Supervisor) crashed(ctx context.Context, id string, h *process.Handle) error {
	rec, err := s.store.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("crashed bot record unavailable", "bot_id", id, "error", err)
			return err
		}
		h.Close()
		s.drop(id)
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		s.log.Warn("crashed bot has no record", "bot_id", id)
		return err
	}
	exitErr := h.ExitErr()
	h.Close()
	s.drop(id)

	pid := rec.ProcessID
	now := s.now().UTC()
	st := rec.State()
	st.Status = bot.StatusCrashed
	st.ProcessID = 0
	st.LastCrashAt = &now
	st.RestartCount++
	if err := s.writeState(ctx, &rec, st); err != nil {
		s.log.Error("persist crash", "bot_id", id, "error", err)
	}
	metrics.IncCrash(id)
	if exitErr == nil {
		exitErr = errors.New("exit status 0")
	}
	s.emit(history.EventCrash, rec, pid, exitErr)
	s.log.Warn("bot crashed", "bot_id", id, "bot", rec.Name, "pid", pid, "restart_count", st.RestartCount,
		"error", exitErr)

	if rec.AutoRestart && s.cfg.AutoRestart {
		s.mu.Lock()
		s.pending[id] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}

// maybeRestart restarts a pending bot once the backoff window since its last
// automatic restart has elapsed. Otherwise it stays pending for a later cycle.
func (s *Supervisor) maybeRestart(ctx context.Context, id string) {
	s.mu.Lock()
	_, pending := s.pending[id]
	last, seen := s.lastCrash[id]
	s.mu.Unlock()
	if !pending || ctx.Err() != nil {
		return
	}
	now := s.now()
	if seen && now.Sub(last) <= s.cfg.RestartBackoff {
		s.log.Debug("restart suppressed by backoff", "bot_id", id,
			"retry_in", s.cfg.RestartBackoff-now.Sub(last))
		return
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("pending bot record unavailable", "bot_id", id, "error", err)
		return
	}
	if err != nil || !rec.AutoRestart || !s.cfg.AutoRestart || rec.Status != bot.StatusCrashed {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.lastCrash[id] = now
	delete(s.pending, id)
	s.mu.Unlock()

	if err := s.startLocked(ctx, id, true); err != nil {
		s.log.Error("automatic restart failed", "bot_id", id, "error", err)
	}
}
