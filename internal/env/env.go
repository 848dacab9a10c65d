package env

import (
	"os"
	"sort"
	"strings"
)

// Var is a set of environment variables keyed by name.
type Var map[string]string

// Env composes the environment handed to a spawned backend process.
// Precedence, lowest to highest: OS environment, global overrides set
// via Set, per-launch "K=V" entries passed to Merge.
type Env struct {
	Var  Var // global overrides (K->V)
	base Var // cached OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base. Merge calls
// it lazily, so explicit use is only needed to re-snapshot after the OS
// environment changed.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := splitKV(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

// Set records a global override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge composes the final environment in "K=V" form. Values may reference
// other variables as ${NAME}; references are resolved once against the
// composed map (no recursion), unknown names are left as written. The
// result is sorted for determinism. Malformed entries (no '=', empty key)
// are dropped.
func (e *Env) Merge(perLaunch []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(perLaunch))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perLaunch {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func splitKV(kv string) (k, v string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expand resolves ${NAME} references in s against m. Only the braced form
// is recognized; bare $NAME is left for the shell, and unknown names stay
// verbatim so the child can still see them.
func expand(s string, m Var) string {
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
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		name := s[i+2 : i+2+j]
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
