package bot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnknownKind is returned for a kind outside the supported set.
	ErrUnknownKind = errors.New("unknown bot kind")
	// ErrMissingConfig is returned when a required environment key is absent.
	ErrMissingConfig = errors.New("missing required bot config")
	// ErrMissingEntrypoint is returned when the script of a kind is not on disk.
	ErrMissingEntrypoint = errors.New("bot entrypoint not found")
)

// Kind identifies which entrypoint a bot runs.
type Kind string

const (
	KindTelegramUserbot Kind = "telegram_userbot"
	KindTelegramBot     Kind = "telegram_bot"
	KindDiscordBot      Kind = "discord_bot"
)

var kinds = []Kind{KindTelegramUserbot, KindTelegramBot, KindDiscordBot}

// Kinds lists the supported kinds.
func Kinds() []Kind { return append([]Kind(nil), kinds...) }

func (k Kind) String() string { return string(k) }

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Entrypoint is what a kind launches. Command runs with the bots directory as
// working directory. Script, when set, is a path relative to that directory
// that must exist before spawning. RequiredEnv holds groups of keys; each group
// is satisfied when any one of its keys has a non-empty value.
type Entrypoint struct {
	Command     []string
	Script      string
	RequiredEnv [][]string
}

// CheckScript verifies Script exists under dir.
func (e Entrypoint) CheckScript(dir string) error {
	if e.Script == "" {
		return nil
	}
	p := filepath.Join(dir, e.Script)
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("%w: %s", ErrMissingEntrypoint, p)
	}
	return nil
}

// Check verifies lookup satisfies every required group.
func (e Entrypoint) Check(lookup func(string) (string, bool)) error {
	for _, group := range e.RequiredEnv {
		ok := false
		for _, k := range group {
			if v, found := lookup(k); found && strings.TrimSpace(v) != "" {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: one of %s", ErrMissingConfig, strings.Join(group, ", "))
		}
	}
	return nil
}

// Registry maps every supported kind to its entrypoint.
type Registry map[Kind]Entrypoint

// DefaultRegistry returns the stock python entrypoints shipped under
// <botsDir>/examples.
func DefaultRegistry() Registry {
	python := func(name string, required ...[]string) Entrypoint {
		script := filepath.Join("examples", name)
		return Entrypoint{Command: []string{"python3", script}, Script: script, RequiredEnv: required}
	}
	return Registry{
		KindTelegramUserbot: python("telegram_userbot.py", []string{"API_ID"}, []string{"API_HASH"}, []string{"PHONE"}),
		KindTelegramBot:     python("telegram_bot.py", []string{"TOKEN", "BOT_TOKEN"}),
		KindDiscordBot:      python("discord_bot.py", []string{"TOKEN", "DISCORD_TOKEN"}),
	}
}

// Override replaces the command of a kind and drops its script check. A nil
// requiredEnv keeps the existing requirements.
func (r Registry) Override(k Kind, command []string, requiredEnv [][]string) error {
	if _, err := ParseKind(string(k)); err != nil {
		return err
	}
	if len(command) == 0 {
		return fmt.Errorf("kind %s: command must not be empty", k)
	}
	ep := r[k]
	ep.Command = append([]string(nil), command...)
	ep.Script = ""
	if requiredEnv != nil {
		ep.RequiredEnv = requiredEnv
	}
	r[k] = ep
	return nil
}

// Resolve returns the entrypoint for k.
func (r Registry) Resolve(k Kind) (Entrypoint, error) {
	ep, ok := r[k]
	if !ok || len(ep.Command) == 0 {
		return Entrypoint{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return ep, nil
}
