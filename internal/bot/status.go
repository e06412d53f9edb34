package bot

import "fmt"

// Status is the persisted lifecycle state of a bot.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
)

var allStatuses = []Status{StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusCrashed}

// Statuses returns every known status in state machine order.
func Statuses() []Status { return append([]Status(nil), allStatuses...) }

func (s Status) String() string { return string(s) }

// Active reports whether a bot in this status must have a tracked process.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

// ParseStatus converts a stored value back into a Status.
func ParseStatus(v string) (Status, error) {
	for _, s := range allStatuses {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown bot status %q", v)
}
