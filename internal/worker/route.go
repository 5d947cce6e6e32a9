package worker

import (
	"net/http"
	"path"
	"strings"

	"portal-shell-go/internal/cache"
)

type Strategy string

const (
	NetworkFirst         Strategy = "network-first"
	CacheFirst           Strategy = "cache-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	NetworkOnly          Strategy = "network-only"
)

// Route is the handling decided for one request. Each partition is served by
// exactly one strategy.
type Route struct {
	Name      string
	Strategy  Strategy
	Partition string
}

var (
	routeNavigation = Route{Name: "navigation", Strategy: NetworkFirst, Partition: cache.Pages}
	routeAsset      = Route{Name: "asset", Strategy: StaleWhileRevalidate, Partition: cache.Assets}
	routeImage      = Route{Name: "image", Strategy: CacheFirst, Partition: cache.Media}
	routeAPIList    = Route{Name: "api-list", Strategy: StaleWhileRevalidate, Partition: cache.API}
	routeAPI        = Route{Name: "api", Strategy: NetworkFirst, Partition: cache.API}
	routeAuth       = Route{Name: "auth", Strategy: NetworkOnly}
	routePassthru   = Route{Name: "passthrough", Strategy: NetworkOnly}
)

var (
	assetDests = map[string]bool{"script": true, "style": true, "worker": true, "sharedworker": true, "font": true}
	assetExts  = map[string]bool{".js": true, ".mjs": true, ".css": true, ".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".map": true}
	imageExts  = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true, ".avif": true}
	listParams = []string{"limit", "offset", "page"}
)

// Classify picks the route for r.
func Classify(r *http.Request) Route {
	p := r.URL.Path
	if underPath(p, "/auth") || underPath(p, "/api/auth") {
		return routeAuth
	}
	if r.Method != http.MethodGet || !sameOrigin(r) {
		return routePassthru
	}

	if strings.HasPrefix(p, "/api/") {
		q := r.URL.Query()
		for _, k := range listParams {
			if q.Has(k) {
				return routeAPIList
			}
		}
		return routeAPI
	}

	dest := r.Header.Get("Sec-Fetch-Dest")
	ext := strings.ToLower(path.Ext(p))
	switch {
	case r.Header.Get("Sec-Fetch-Mode") == "navigate" || dest == "document":
		return routeNavigation
	case assetDests[dest] || assetExts[ext]:
		return routeAsset
	case dest == "image" || imageExts[ext]:
		return routeImage
	case strings.Contains(r.Header.Get("Accept"), "text/html"):
		return routeNavigation
	}
	return routePassthru
}

// underPath reports whether p is prefix itself or a path below it.
func underPath(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// sameOrigin reports whether r targets the shell itself rather than a
// third-party origin given in absolute form.
func sameOrigin(r *http.Request) bool {
	return r.URL.Host == "" || strings.EqualFold(r.URL.Host, r.Host)
}
