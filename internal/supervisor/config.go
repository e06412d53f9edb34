package supervisor

import (
	"time"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/config"
	"github.com/loykin/botvisr/internal/env"
	"github.com/loykin/botvisr/internal/logger"
)

const (
	DefaultPollInterval = 5 * time.Second
	shutdownJoinTimeout = 5 * time.Second
	historySendTimeout  = 5 * time.Second
)

// Config holds the supervisor tunables. They are fixed for its lifetime.
type Config struct {
	PollInterval    time.Duration
	RestartBackoff  time.Duration
	ShutdownTimeout time.Duration
	RestartPause    time.Duration
	SampleInterval  time.Duration
	// AutoRestart is the global kill-switch; a bot restarts only when both
	// this and its own flag are set.
	AutoRestart bool
	// ReapOrphans kills children of a previous run found by LoadFromStore.
	ReapOrphans bool
	BotsDir     string
	Logs        logger.FileConfig
	Kinds       bot.Registry
	Env         *env.Env
}

// FromConfig builds the supervisor configuration from a loaded file config.
func FromConfig(c *config.Config) (Config, error) {
	kinds, err := c.Registry()
	if err != nil {
		return Config{}, err
	}
	e, err := c.Environment()
	if err != nil {
		return Config{}, err
	}
	return Config{
		PollInterval:    c.Supervisor.PollInterval,
		RestartBackoff:  c.Supervisor.RestartBackoff,
		ShutdownTimeout: c.Supervisor.ShutdownTimeout,
		RestartPause:    c.Supervisor.RestartPause,
		SampleInterval:  c.Supervisor.SampleInterval,
		AutoRestart:     c.Supervisor.AutoRestart,
		ReapOrphans:     c.Supervisor.ReapOrphans,
		BotsDir:         c.Paths.BotsDir,
		Logs:            c.LoggerConfig().File,
		Kinds:           kinds,
		Env:             e,
	}, nil
}
