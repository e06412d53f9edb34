// Package botvisr supervises long-running bot processes (Telegram and
// Discord bots) described by persisted records.
package botvisr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/botvisr/internal/bot"
	cfg "github.com/loykin/botvisr/internal/config"
	"github.com/loykin/botvisr/internal/history"
	hfactory "github.com/loykin/botvisr/internal/history/factory"
	"github.com/loykin/botvisr/internal/logstream"
	"github.com/loykin/botvisr/internal/metrics"
	iapi "github.com/loykin/botvisr/internal/server"
	"github.com/loykin/botvisr/internal/stats"
	"github.com/loykin/botvisr/internal/store"
	sfactory "github.com/loykin/botvisr/internal/store/factory"
	"github.com/loykin/botvisr/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Record = bot.Record

type Status = bot.Status

type Kind = bot.Kind

type BotStatus = supervisor.BotStatus

type HistorySink = history.Sink

type HistoryEvent = history.Event

const (
	StatusStopped  = bot.StatusStopped
	StatusStarting = bot.StatusStarting
	StatusRunning  = bot.StatusRunning
	StatusStopping = bot.StatusStopping
	StatusCrashed  = bot.StatusCrashed
)

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotFound       = store.ErrNotFound
	ErrUnknownKind    = bot.ErrUnknownKind
	ErrMissingConfig  = bot.ErrMissingConfig
)

// LoadConfig reads a TOML file over the defaults and BOTVISR_* variables.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config { return cfg.Default() }

// Daemon wires a supervisor to its store, history sinks, log hub, resource
// collector and HTTP surface.
type Daemon struct {
	Supervisor *supervisor.Supervisor
	Store      store.Store
	Logs       *logstream.Hub
	Resources  *metrics.ResourceCollector
	Stats      *stats.Collector

	cfg    *Config
	log    *slog.Logger
	sinks  history.Multi
	events iapi.EventSource
	srv    *http.Server
}

// New opens the store and history sinks named by c and builds the
// supervisor. Nothing runs until Start.
func New(c *Config, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{c.Paths.BotsDir, c.Paths.LogsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	supCfg, err := supervisor.FromConfig(c)
	if err != nil {
		return nil, err
	}

	st, err := sfactory.NewFromDSN(c.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}

	d := &Daemon{Store: st, cfg: c, log: log}
	for _, h := range c.History {
		sink, err := hfactory.NewSinkFromDSN(h.DSN)
		if err != nil {
			_ = d.sinks.Close()
			_ = st.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		d.sinks = append(d.sinks, sink)
		if es, ok := sink.(iapi.EventSource); ok && d.events == nil {
			d.events = es
		}
	}

	d.Resources = metrics.NewResourceCollector(c.ResourceConfig())
	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("register metrics", "error", err)
		}
		if err := d.Resources.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("register resource metrics", "error", err)
		}
	}

	d.Logs = logstream.New(supCfg.Logs, c.Server.LogBuffer)
	d.Supervisor = supervisor.New(st, supCfg,
		supervisor.WithHistory(d.sinks...),
		supervisor.WithLineSink(d.Logs),
		supervisor.WithLogger(log))
	d.Stats = stats.New(d.Supervisor, st, c.Paths.BotsDir, log)
	return d, nil
}

// Start reconciles records left by a previous run, then starts the
// monitoring loop and resource collection.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Supervisor.LoadFromStore(ctx); err != nil {
		return err
	}
	d.Supervisor.Start(ctx)
	d.Resources.Start(ctx, d.Supervisor.ResourceSamples)
	return nil
}

// Handler returns the HTTP API without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return iapi.NewRouter(d.deps(), d.cfg.Server.BasePath).Handler()
}

// Serve binds the configured listen address and serves the API in the background.
func (d *Daemon) Serve() (*http.Server, error) {
	srv, err := iapi.NewServer(d.cfg.Server.Listen, d.cfg.Server.BasePath, d.deps())
	if err != nil {
		return nil, err
	}
	d.srv = srv
	return srv, nil
}

func (d *Daemon) deps() iapi.Deps {
	return iapi.Deps{
		Supervisor: d.Supervisor,
		Store:      d.Store,
		Logs:       d.Logs,
		Resources:  d.Resources,
		Stats:      d.Stats,
		Events:     d.events,
		Logger:     d.log,
	}
}

// Close stops the HTTP server and every bot, waits for the monitoring loop,
// then releases sinks and the store.
func (d *Daemon) Close(ctx context.Context) error {
	var errs []error
	if d.srv != nil {
		if err := d.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := d.Supervisor.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.Supervisor.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	d.Resources.Stop()
	if err := d.sinks.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	if err := d.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
