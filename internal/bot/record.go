package bot

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is the persisted description of a bot together with its last known state.
// Status, ProcessID, RestartCount, LastStartedAt and LastCrashAt are written by the
// supervisor only.
type Record struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Kind          Kind           `json:"kind"`
	Config        map[string]any `json:"config,omitempty"`
	Status        Status         `json:"status"`
	AutoRestart   bool           `json:"auto_restart"`
	ProcessID     int            `json:"process_id,omitempty"`
	RestartCount  int            `json:"restart_count"`
	LastStartedAt *time.Time     `json:"last_started_at,omitempty"`
	LastCrashAt   *time.Time     `json:"last_crash_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate checks the fields an operator is allowed to set.
func (r Record) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("bot name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("bot name %q is too long (max 100 characters)", name)
	}
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	for k := range r.Config {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("bot %q: config contains an empty key", name)
		}
		if strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("bot %q: config key %q contains invalid characters", name, k)
		}
	}
	return nil
}

// EnvConfig flattens Config into environment form: keys uppercased, values
// stringified. Strings are passed verbatim, everything else in Python literal
// form since the bot entrypoints are Python scripts.
func (r Record) EnvConfig() map[string]string {
	out := make(map[string]string, len(r.Config))
	for k, v := range r.Config {
		out[strings.ToUpper(k)] = stringify(v)
	}
	return out
}

// ConfigKeys returns Config keys in sorted order.
func (r Record) ConfigKeys() []string {
	keys := make([]string, 0, len(r.Config))
	for k := range r.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return pyRepr(v)
}

// pyRepr renders v the way a Python child expects to read it back: None,
// True/False, floats with a fractional part, quoted strings inside containers.
func pyRepr(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return pyQuote(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return pyFloat(x)
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			return x.String()
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return pyFloat(f)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = pyRepr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = pyQuote(k) + ": " + pyRepr(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func pyFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if f != 0 && (exp < -4 || exp >= 16) {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func pyQuote(s string) string {
	q := "'"
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		q = `"`
	}
	r := strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\t", `\t`, "\r", `\r`, q, `\`+q)
	return q + r.Replace(s) + q
}

// State is the supervisor-owned part of a Record.
type State struct {
	Status        Status
	ProcessID     int
	RestartCount  int
	LastStartedAt *time.Time
	LastCrashAt   *time.Time
}

// State extracts the supervisor-owned fields.
func (r Record) State() State {
	return State{
		Status:        r.Status,
		ProcessID:     r.ProcessID,
		RestartCount:  r.RestartCount,
		LastStartedAt: r.LastStartedAt,
		LastCrashAt:   r.LastCrashAt,
	}
}

// SetState overwrites the supervisor-owned fields.
func (r *Record) SetState(s State) {
	r.Status = s.Status
	r.ProcessID = s.ProcessID
	r.RestartCount = s.RestartCount
	r.LastStartedAt = s.LastStartedAt
	r.LastCrashAt = s.LastCrashAt
}
