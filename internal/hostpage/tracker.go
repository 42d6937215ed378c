package hostpage

import (
	"net/url"
	"regexp"
)

// Tracker derives the active context identifier from the host page URL and
// reports changes. The identifier comes from the configured path pattern's
// first capture group; URLs the pattern does not match fall back to the full
// URL so distinct locations never share a context by accident.
type Tracker struct {
	pattern *regexp.Regexp
	current string
}

// NewTracker returns a tracker with no current context. The first Update
// always reports a change.
func NewTracker(pattern *regexp.Regexp) *Tracker {
	return &Tracker{pattern: pattern}
}

// Current returns the last derived context identifier.
func (t *Tracker) Current() string { return t.current }

// Update derives the context identifier for rawURL and reports whether it
// differs from the current one. The new identifier becomes current either way.
func (t *Tracker) Update(rawURL string) (string, bool) {
	id := t.derive(rawURL)
	changed := id != t.current
	t.current = id
	return id, changed
}

func (t *Tracker) derive(rawURL string) string {
	if t.pattern != nil {
		path := rawURL
		if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
			path = u.Path
		}
		if m := t.pattern.FindStringSubmatch(path); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return rawURL
}
