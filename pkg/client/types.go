package client

import "time"

// CreateRequest describes a new bot record.
type CreateRequest struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Config      map[string]any `json:"config,omitempty"`
	AutoRestart *bool          `json:"auto_restart,omitempty"`
}

// Bot is a persisted bot record as returned by the daemon.
type Bot struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	Config        map[string]any `json:"config,omitempty"`
	Status        string         `json:"status"`
	AutoRestart   bool           `json:"auto_restart"`
	ProcessID     int            `json:"process_id,omitempty"`
	RestartCount  int            `json:"restart_count"`
	LastStartedAt *time.Time     `json:"last_started_at,omitempty"`
	LastCrashAt   *time.Time     `json:"last_crash_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Usage is the CPU and memory use of a bot process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMMB      float64 `json:"ram_mb"`
}

// ProcessStatus is the live view of a tracked bot process.
type ProcessStatus struct {
	BotID     string    `json:"bot_id"`
	Alive     bool      `json:"alive"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UptimeSec float64   `json:"uptime_seconds"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// Status pairs a record with its process; Process is nil for untracked bots.
type Status struct {
	Bot     Bot            `json:"bot"`
	Process *ProcessStatus `json:"process"`
}

type logLines struct {
	Lines []string `json:"lines"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
