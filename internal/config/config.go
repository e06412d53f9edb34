package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/env"
	"github.com/loykin/botvisr/internal/logger"
	"github.com/loykin/botvisr/internal/metrics"
)

// EnvPrefix prefixes environment overrides, e.g. BOTVISR_SUPERVISOR_POLL_INTERVAL.
const EnvPrefix = "BOTVISR"

// Config represents the top-level TOML structure.
type Config struct {
	Env        []string              `mapstructure:"env"`
	EnvFiles   []string              `mapstructure:"env_files"`
	Supervisor SupervisorConfig      `mapstructure:"supervisor"`
	Paths      PathsConfig           `mapstructure:"paths"`
	Kinds      map[string]KindConfig `mapstructure:"kinds"`
	Store      StoreConfig           `mapstructure:"store"`
	History    []HistoryConfig       `mapstructure:"history"`
	Log        LogConfig             `mapstructure:"log"`
	Server     ServerConfig          `mapstructure:"server"`
	Metrics    MetricsConfig         `mapstructure:"metrics"`
}

type SupervisorConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RestartBackoff  time.Duration `mapstructure:"restart_backoff"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RestartPause    time.Duration `mapstructure:"restart_pause"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	AutoRestart     bool          `mapstructure:"auto_restart"`
	ReapOrphans     bool          `mapstructure:"reap_orphans"`
}

type PathsConfig struct {
	BotsDir  string `mapstructure:"bots_dir"`
	LogsDir  string `mapstructure:"logs_dir"`
	LockFile string `mapstructure:"lock_file"`
}

// KindConfig overrides the entrypoint of a bot kind. RequiredEnv keeps the
// built-in requirements when empty.
type KindConfig struct {
	Command     []string   `mapstructure:"command"`
	RequiredEnv [][]string `mapstructure:"required_env"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	BasePath  string `mapstructure:"base_path"`
	LogBuffer int    `mapstructure:"log_buffer"`
}

type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CollectInterval time.Duration `mapstructure:"collect_interval"`
	MaxHistory      int           `mapstructure:"max_history"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supervisor.poll_interval", "5s")
	v.SetDefault("supervisor.restart_backoff", "10s")
	v.SetDefault("supervisor.shutdown_timeout", "10s")
	v.SetDefault("supervisor.restart_pause", "1s")
	v.SetDefault("supervisor.sample_interval", "100ms")
	v.SetDefault("supervisor.auto_restart", true)
	v.SetDefault("supervisor.reap_orphans", true)
	v.SetDefault("paths.bots_dir", "./bots")
	v.SetDefault("paths.logs_dir", "./bots/logs")
	v.SetDefault("paths.lock_file", "./bots/botvisr.lock")
	v.SetDefault("store.dsn", "sqlite://./bots/botvisr.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "/api/v1")
	v.SetDefault("server.log_buffer", 100)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.collect_interval", "5s")
	v.SetDefault("metrics.max_history", 100)
}

// Load reads path (TOML) over the defaults and applies BOTVISR_* environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the built-in defaults without reading the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Validate rejects non-positive intervals and overrides of unknown kinds.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"supervisor.poll_interval":    c.Supervisor.PollInterval,
		"supervisor.shutdown_timeout": c.Supervisor.ShutdownTimeout,
		"supervisor.sample_interval":  c.Supervisor.SampleInterval,
	}
	for k, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, d))
		}
	}
	if c.Supervisor.RestartBackoff < 0 {
		errs = append(errs, fmt.Errorf("supervisor.restart_backoff must not be negative"))
	}
	if c.Supervisor.RestartPause < 0 {
		errs = append(errs, fmt.Errorf("supervisor.restart_pause must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.CollectInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.collect_interval must be positive"))
	}
	if strings.TrimSpace(c.Paths.BotsDir) == "" {
		errs = append(errs, errors.New("paths.bots_dir is required"))
	}
	if strings.TrimSpace(c.Paths.LogsDir) == "" {
		errs = append(errs, errors.New("paths.logs_dir is required"))
	}
	for name, kc := range c.Kinds {
		if _, err := bot.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("kinds.%s: %w", name, err))
			continue
		}
		if len(kc.Command) == 0 {
			errs = append(errs, fmt.Errorf("kinds.%s: command is required", name))
		}
	}
	for i, h := range c.History {
		if strings.TrimSpace(h.DSN) == "" {
			errs = append(errs, fmt.Errorf("history[%d]: dsn is required", i))
		}
	}
	return errors.Join(errs...)
}

// Registry returns the built-in kind registry with the configured overrides applied.
func (c *Config) Registry() (bot.Registry, error) {
	r := bot.DefaultRegistry()
	for name, kc := range c.Kinds {
		k, err := bot.ParseKind(name)
		if err != nil {
			return nil, err
		}
		var required [][]string
		if len(kc.RequiredEnv) > 0 {
			required = kc.RequiredEnv
		}
		if err := r.Override(k, kc.Command, required); err != nil {
			return nil, fmt.Errorf("kinds.%s: %w", name, err)
		}
	}
	return r, nil
}

// Environment snapshots the OS environment and layers env_files then env on
// top as operator-wide variables.
func (c *Config) Environment() (*env.Env, error) {
	var globals []string
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		globals = append(globals, pairs...)
	}
	globals = append(globals, c.Env...)
	return env.FromOS().WithGlobals(globals), nil
}

// LoggerConfig maps the [log] and [paths] sections onto logger.Config.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Path:   c.Log.File,
		File: logger.FileConfig{
			Dir:        c.Paths.LogsDir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

func (c *Config) ResourceConfig() metrics.ResourceConfig {
	return metrics.ResourceConfig{
		Enabled:    c.Metrics.Enabled,
		Interval:   c.Metrics.CollectInterval,
		MaxHistory: c.Metrics.MaxHistory,
	}
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order. Blank lines and lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}
