package supervisor

import (
	"errors"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/process"
	"github.com/loykin/botvisr/internal/store"
)

var (
	// ErrAlreadyRunning is returned by StartBot for a bot with a live process.
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrActive is returned when deleting a bot that still has a process.
	ErrActive = errors.New("bot is active; stop it first")
)

// Reason codes returned to API clients.
const (
	CodeAlreadyRunning = "already_running"
	CodeUnknownKind    = "unknown_kind"
	CodeMissingConfig  = "missing_config"
	CodeSpawnFailed    = "spawn_failed"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeActive         = "bot_active"
	CodeInternal       = "internal"
)

// Code maps an error returned by the supervisor or the store to a stable
// reason code. A nil error has no code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, process.ErrAlreadyRunning):
		return CodeAlreadyRunning
	case errors.Is(err, bot.ErrUnknownKind):
		return CodeUnknownKind
	case errors.Is(err, bot.ErrMissingConfig), errors.Is(err, bot.ErrMissingEntrypoint):
		return CodeMissingConfig
	case errors.Is(err, process.ErrSpawn):
		return CodeSpawnFailed
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrActive):
		return CodeActive
	}
	return CodeInternal
}

// configError reports failures that a retry cannot fix.
func configError(err error) bool {
	return errors.Is(err, bot.ErrUnknownKind) ||
		errors.Is(err, bot.ErrMissingConfig) ||
		errors.Is(err, bot.ErrMissingEntrypoint)
}
