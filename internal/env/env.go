package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env is an immutable environment snapshot used to build child environments.
// It never writes to the supervisor's own process environment.
type Env struct {
	base    Var // snapshot of the OS environment
	globals Var // operator-wide variables, ${VAR} expanded against base
}

// FromOS snapshots the current process environment.
func FromOS() *Env {
	return FromList(os.Environ())
}

// FromList builds an Env from "K=V" pairs. Malformed entries are skipped.
func FromList(kvs []string) *Env {
	return &Env{base: parse(kvs), globals: Var{}}
}

// WithGlobals returns a copy whose globals are extended by kvs ("K=V").
// ${VAR} references in values are expanded against the base and earlier globals.
func (e *Env) WithGlobals(kvs []string) *Env {
	out := &Env{base: e.base, globals: make(Var, len(e.globals)+len(kvs))}
	for k, v := range e.globals {
		out.globals[k] = v
	}
	for _, kv := range kvs {
		k, v, ok := split(kv)
		if !ok {
			continue
		}
		out.globals[k] = expand(v, out.lookup)
	}
	return out
}

// Lookup returns the effective value of k before any per-bot overlay.
func (e *Env) Lookup(k string) (string, bool) { return e.lookup(k) }

func (e *Env) lookup(k string) (string, bool) {
	if v, ok := e.globals[k]; ok {
		return v, true
	}
	v, ok := e.base[k]
	return v, ok
}

// Merge composes base, then globals, then overlay, and returns a sorted
// "K=V" slice. Overlay values are used verbatim.
func (e *Env) Merge(overlay map[string]string) []string {
	m := make(Var, len(e.base)+len(e.globals)+len(overlay))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.globals {
		m[k] = v
	}
	for k, v := range overlay {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			continue
		}
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	return m
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expand replaces ${VAR} occurrences once, without recursion. Unknown
// variables expand to the empty string.
func expand(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		v, _ := lookup(s[i+2 : i+j])
		b.WriteString(v)
		s = s[i+j+1:]
	}
}
