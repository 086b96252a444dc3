// Package env composes the environment of spawned commands.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers global variables over an optional OS environment base.
// Per-command overrides are applied by Merge.
type Env struct {
	Var   Var  // global variables (K->V)
	UseOS bool // start from the host environment
	base  Var
}

// New returns an Env with no globals. useOS selects whether the host
// environment is inherited.
func New(useOS bool) *Env {
	return &Env{Var: make(Var), UseOS: useOS}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := Split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

// WithSet returns a copy of e with K=V added to the globals.
func (e *Env) WithSet(k, v string) *Env {
	cp := &Env{Var: make(Var, len(e.Var)+1), UseOS: e.UseOS, base: e.base}
	for gk, gv := range e.Var {
		cp.Var[gk] = gv
	}
	if k != "" {
		cp.Var[k] = v
	}
	return cp
}

// WithPairs returns a copy of e with every KEY=VALUE pair added.
func (e *Env) WithPairs(pairs []string) *Env {
	cp := e.WithSet("", "")
	for _, kv := range pairs {
		if k, v, ok := Split(kv); ok {
			cp.Var[k] = v
		}
	}
	return cp
}

// Split parses KEY=VALUE. Entries without '=' or with an empty key are rejected.
func Split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// Validate checks that every entry is a KEY=VALUE pair.
func Validate(pairs []string) error {
	for i, kv := range pairs {
		if _, _, ok := Split(kv); !ok {
			return fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv)
		}
	}
	return nil
}

// Merge composes the final environment list applying order:
// base = OS env (when UseOS), then global overrides, then perCmd overrides.
// ${VAR} references are expanded against the composed map (one level, no
// recursion). The result is sorted by key.
func (e *Env) Merge(perCmd []string) []string {
	m := make(Var)
	if e.UseOS {
		if e.base == nil {
			e.FromOS()
		}
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perCmd {
		if k, v, ok := Split(kv); ok {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func expand(s string, m Var) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		key := s[start+2 : start+end]
		b.WriteString(s[:start])
		if v, ok := m[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : start+end+1])
		}
		s = s[start+end+1:]
	}
	b.WriteString(s)
	return b.String()
}
