package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/loykin/botvisr"
	"github.com/loykin/botvisr/internal/config"
	"github.com/loykin/botvisr/internal/logger"
)

// ServeFlags holds flags for serve.
type ServeFlags struct {
	Daemonize   bool
	LogFile     string
	StopTimeout time.Duration
}

// createServeCommand creates the serve command
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the supervisor daemon and its HTTP API",
		Long: `Start the supervisor daemon. Bots recorded as running by a previous
run are reconciled and, when auto restart is on, started again.

Examples:
  botvisr serve config.toml
  botvisr serve --config config.toml --daemonize --logfile /var/log/botvisr.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if f.Daemonize {
				if err := daemonize(f.LogFile, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path, f.StopTimeout, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "stdout/stderr target when daemonized")
	cmd.Flags().DurationVar(&f.StopTimeout, "stop-timeout", 30*time.Second, "time allowed for stopping bots on shutdown")
	return cmd
}

// runServe runs the daemon until ctx is cancelled, then stops every bot.
func runServe(ctx context.Context, path string, stopTimeout time.Duration, stderr io.Writer) error {
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(c.LoggerConfig(), stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	lock, err := acquireLock(c.Paths.LockFile)
	if err != nil {
		return err
	}
	defer releaseLock(lock, log)

	d, err := botvisr.New(c, log)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		_ = d.Close(context.Background())
		return err
	}
	if _, err := d.Serve(); err != nil {
		_ = d.Close(context.Background())
		return err
	}
	log.Info("botvisr serving", "listen", c.Server.Listen, "base_path", c.Server.BasePath)

	<-ctx.Done()
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return d.Close(sctx)
}

var errLocked = errors.New("another botvisr instance holds the lock")

// acquireLock takes an exclusive lock on path and records our pid in it.
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errLocked, path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock, log *slog.Logger) {
	if err := lock.Unlock(); err != nil {
		log.Warn("release lock", "error", err)
	}
}
