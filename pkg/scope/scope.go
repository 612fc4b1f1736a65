// Package scope turns caller identity headers into scope maps and enforces
// subset matching against stored session scopes.
package scope

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// HeaderPrefix is the prefix of every scope-carrying request header.
const HeaderPrefix = "X-Cognition-Scope-"

// Scope is an immutable set of identity assertions. An empty scope means
// unscoped.
type Scope map[string]string

// Matches reports whether target carries every key/value pair in s.
// An empty scope matches everything.
func (s Scope) Matches(target map[string]string) bool {
	for k, v := range s {
		if target[k] != v {
			return false
		}
	}
	return true
}

// Config selects which scope keys the server recognizes and whether they
// are mandatory.
type Config struct {
	// Enabled makes every configured key mandatory on every request.
	// When false, scopes still participate in filtering if provided.
	Enabled bool

	// Keys is the ordered list of recognized scope keys, e.g. ["user","project"].
	Keys []string
}

// MissingScopeError rejects a request that omitted mandatory scope headers.
type MissingScopeError struct {
	MissingHeaders []string
}

func (e *MissingScopeError) Error() string {
	return fmt.Sprintf("missing required scope headers: %s", strings.Join(e.MissingHeaders, ", "))
}

// HeaderName maps a scope key to its request header. Underscores become
// hyphens with each segment title-cased: "user_id" -> "X-Cognition-Scope-User-Id".
func HeaderName(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
		}
	}
	return HeaderPrefix + strings.Join(parts, "-")
}

// Harness extracts and validates scopes per a fixed configuration.
type Harness struct {
	cfg Config
}

// NewHarness creates a harness for cfg.
func NewHarness(cfg Config) *Harness {
	return &Harness{cfg: cfg}
}

// Enabled reports whether scope enforcement is mandatory.
func (h *Harness) Enabled() bool { return h.cfg.Enabled }

// Extract reads the configured scope headers from headers, dropping empty
// values. When enforcement is enabled and any configured key is absent, it
// returns a *MissingScopeError naming every missing header.
func (h *Harness) Extract(headers http.Header) (Scope, error) {
	s := Scope{}
	var missing []string
	for _, key := range h.cfg.Keys {
		val := strings.TrimSpace(headers.Get(HeaderName(key)))
		if val == "" {
			missing = append(missing, HeaderName(key))
			continue
		}
		s[key] = val
	}
	if h.cfg.Enabled && len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingScopeError{MissingHeaders: missing}
	}
	if len(s) == 0 {
		return nil, nil
	}
	return s, nil
}

// PrincipalKey returns the rate-limit key for s: the value of the first
// configured scope key when present, else fallback (typically a session ID).
func (h *Harness) PrincipalKey(s Scope, fallback string) string {
	for _, key := range h.cfg.Keys {
		if v, ok := s[key]; ok {
			return v
		}
	}
	return fallback
}
