package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/env"
	"github.com/loykin/botvisr/internal/logger"
)

var (
	ErrAlreadyRunning = errors.New("process already running")
	ErrNotRunning     = errors.New("process not running")
	ErrSpawn          = errors.New("spawn failed")
)

// Environment keys identifying the bot to its child process.
const (
	EnvBotID   = "BOT_ID"
	EnvBotType = "BOT_TYPE"
	EnvBotName = "BOT_NAME"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	defaultKillWait        = 2 * time.Second
	defaultDrainTimeout    = time.Second
)

// Options are shared by every handle of a supervisor.
type Options struct {
	Kinds           bot.Registry
	WorkDir         string
	Logs            logger.FileConfig
	Env             *env.Env
	ShutdownTimeout time.Duration
	// KillWait bounds the wait for the child to be reaped after SIGKILL.
	KillWait time.Duration
	// DrainTimeout bounds the wait for capture loops during cleanup.
	DrainTimeout time.Duration
	Sampler      Sampler
	Sink         LineSink
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Kinds == nil {
		o.Kinds = bot.DefaultRegistry()
	}
	if o.Env == nil {
		o.Env = env.FromOS()
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.KillWait <= 0 {
		o.KillWait = defaultKillWait
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.Sampler == nil {
		o.Sampler = PsSampler{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Handle owns one OS child process of a bot: spawn, output capture, stop and
// resource sampling. A Handle is reusable after Stop, but the supervisor
// creates a fresh one per start.
type Handle struct {
	rec  bot.Record
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	startTime time.Time
	waitDone  chan struct{} // closed once cmd.Wait returns
	exitErr   error
	dest      *logDest
	pipes     []*os.File // read ends owned by the capture loops
	captureWG sync.WaitGroup
}

// New creates a handle for rec. The record is copied; later changes to it do
// not affect the handle.
func New(rec bot.Record, opts Options) *Handle {
	opts = opts.withDefaults()
	cfg := make(map[string]any, len(rec.Config))
	for k, v := range rec.Config {
		cfg[k] = v
	}
	rec.Config = cfg
	return &Handle{
		rec:  rec,
		opts: opts,
		log:  opts.Logger.With("bot_id", rec.ID),
	}
}

// BotID returns the id of the bot this handle runs.
func (h *Handle) BotID() string { return h.rec.ID }

// Environment returns the environment the child is started with.
func (h *Handle) Environment() []string {
	return h.opts.Env.Merge(h.overlay())
}

func (h *Handle) overlay() map[string]string {
	m := h.rec.EnvConfig()
	m[EnvBotID] = h.rec.ID
	m[EnvBotType] = string(h.rec.Kind)
	m[EnvBotName] = h.rec.Name
	return m
}

// Start spawns the child. Configuration problems wrap bot.ErrUnknownKind,
// bot.ErrMissingEntrypoint or bot.ErrMissingConfig; OS failures wrap ErrSpawn.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aliveLocked() {
		return ErrAlreadyRunning
	}

	ep, err := h.opts.Kinds.Resolve(h.rec.Kind)
	if err != nil {
		return err
	}
	if err := ep.CheckScript(h.opts.WorkDir); err != nil {
		return err
	}
	overlay := h.overlay()
	lookup := func(k string) (string, bool) {
		if v, ok := overlay[k]; ok {
			return v, true
		}
		return h.opts.Env.Lookup(k)
	}
	if err := ep.Check(lookup); err != nil {
		return fmt.Errorf("bot %s: %w", h.rec.Name, err)
	}

	w, err := h.opts.Logs.BotWriter(h.rec.ID)
	if err != nil {
		return fmt.Errorf("open bot log: %w", err)
	}
	dest := &logDest{w: w}

	outR, outW, err := os.Pipe()
	if err != nil {
		dest.close()
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		dest.close()
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	// #nosec G204 -- command comes from the operator's kind registry
	cmd := exec.Command(ep.Command[0], ep.Command[1:]...)
	cmd.Dir = h.opts.WorkDir
	cmd.Env = h.opts.Env.Merge(overlay)
	cmd.Stdout = outW
	cmd.Stderr = errW
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		dest.close()
		h.log.Error("spawn failed", "bot", h.rec.Name, "error", err)
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	// the child holds its own copies of the write ends
	closeAll(outW, errW)

	done := make(chan struct{})
	h.cmd = cmd
	h.startTime = time.Now()
	h.waitDone = done
	h.exitErr = nil
	h.dest = dest
	h.pipes = []*os.File{outR, errR}

	h.captureWG.Add(2)
	go h.capture(outR, LevelInfo, dest)
	go h.capture(errR, LevelError, dest)
	go h.reap(cmd, done)

	h.log.Info("bot process started", "bot", h.rec.Name, "pid", cmd.Process.Pid)
	return nil
}

// reap is the single waiter of cmd.
func (h *Handle) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	h.mu.Lock()
	if h.cmd == cmd {
		h.exitErr = err
	}
	h.mu.Unlock()
	close(done)
}

func (h *Handle) aliveLocked() bool {
	if h.cmd == nil || h.waitDone == nil {
		return false
	}
	select {
	case <-h.waitDone:
		return false
	default:
		return true
	}
}

// IsRunning is a non-blocking liveness probe.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aliveLocked()
}

// PID returns the child's pid while it runs.
func (h *Handle) PID() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.aliveLocked() {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

// StartTime returns the spawn instant while the child runs.
func (h *Handle) StartTime() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.aliveLocked() {
		return time.Time{}, false
	}
	return h.startTime, true
}

// Uptime returns time since spawn while the child runs.
func (h *Handle) Uptime() (time.Duration, bool) {
	st, ok := h.StartTime()
	if !ok {
		return 0, false
	}
	return time.Since(st), true
}

// ExitErr returns the result of the last Wait, nil while running or after a
// clean exit.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// ResourceUsage samples CPU and RSS. It reports false when the child is not
// running or vanished while being sampled.
func (h *Handle) ResourceUsage(ctx context.Context) (Usage, bool) {
	pid, ok := h.PID()
	if !ok {
		return Usage{}, false
	}
	u, err := h.opts.Sampler.Sample(ctx, pid)
	if err != nil {
		h.log.Debug("resource sample unavailable", "pid", pid, "error", err)
		return Usage{}, false
	}
	return u, true
}

// Stop terminates the child. The graceful path sends SIGTERM to the process
// group and escalates to SIGKILL after the shutdown timeout; force kills
// immediately. Cleanup runs on every path once the child was found alive.
func (h *Handle) Stop(force bool) error {
	h.mu.Lock()
	if !h.aliveLocked() {
		h.mu.Unlock()
		return ErrNotRunning
	}
	pid := h.cmd.Process.Pid
	done := h.waitDone
	h.mu.Unlock()

	defer h.cleanup()

	if !force {
		if err := terminateGroup(pid); err != nil {
			h.log.Warn("terminate signal failed, killing", "pid", pid, "error", err)
		} else {
			select {
			case <-done:
				h.log.Info("bot process stopped", "bot", h.rec.Name, "pid", pid)
				return nil
			case <-time.After(h.opts.ShutdownTimeout):
				h.log.Warn("bot did not exit in time, killing", "bot", h.rec.Name, "pid", pid,
					"timeout", h.opts.ShutdownTimeout)
			}
		}
	}

	if err := killGroup(pid); err != nil {
		h.log.Debug("kill signal failed", "pid", pid, "error", err)
	}
	select {
	case <-done:
		h.log.Info("bot process killed", "bot", h.rec.Name, "pid", pid)
		return nil
	case <-time.After(h.opts.KillWait):
		return fmt.Errorf("process %d did not exit after kill", pid)
	}
}

// Close releases the handle. A child that is still alive is killed first.
func (h *Handle) Close() {
	if h.IsRunning() {
		if err := h.Stop(true); err != nil && !errors.Is(err, ErrNotRunning) {
			h.log.Error("kill on close failed", "bot", h.rec.Name, "error", err)
		}
		return
	}
	h.cleanup()
}

// cleanup waits briefly for the capture loops, closes the log destination
// and clears the process reference. It is safe to call more than once.
func (h *Handle) cleanup() {
	drained := make(chan struct{})
	go func() {
		h.captureWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(h.opts.DrainTimeout):
		// something else still holds the pipes open
		h.mu.Lock()
		closeAll(h.pipes...)
		h.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dest != nil {
		h.dest.close()
		h.dest = nil
	}
	h.pipes = nil
	h.cmd = nil
	h.startTime = time.Time{}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
