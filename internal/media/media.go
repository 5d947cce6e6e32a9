// Package media normalizes asset URLs returned by the portal API against the
// backend origin that serves uploads.
package media

import (
	"net/url"
	"strings"
)

type Resolver struct {
	Origin string
}

func NewResolver(origin string) Resolver {
	return Resolver{Origin: strings.TrimRight(origin, "/")}
}

// Resolve returns an absolute URL for raw. Absolute, data: and blob: URLs pass
// through unchanged.
func (r Resolver) Resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "data:"), strings.HasPrefix(lower, "blob:"):
		return raw
	case strings.HasPrefix(raw, "//"):
		scheme := "https"
		if u, err := url.Parse(r.Origin); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		return scheme + ":" + raw
	}

	origin := strings.TrimRight(r.Origin, "/")
	return origin + "/" + strings.TrimLeft(raw, "/")
}
