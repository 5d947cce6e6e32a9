package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"portal-shell-go/internal/cache"
	"portal-shell-go/internal/obs"
)

const maxCachedBody = 8 << 20

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// ServeHTTP answers a request from the network, the cache, or both,
// depending on its route.
func (r *Runtime) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	route := Classify(req)
	switch route.Strategy {
	case NetworkFirst:
		timeout := r.cfg.APITimeout
		if route == routeNavigation {
			timeout = r.cfg.NavTimeout
		}
		r.networkFirst(w, req, route, timeout)
	case CacheFirst:
		r.cacheFirst(w, req, route)
	case StaleWhileRevalidate:
		r.staleWhileRevalidate(w, req, route)
	default:
		r.networkOnly(w, req, route)
	}
}

func cacheKey(req *http.Request) string {
	if req.URL.RawQuery == "" {
		return req.URL.Path
	}
	return req.URL.Path + "?" + req.URL.RawQuery
}

func (r *Runtime) networkFirst(w http.ResponseWriter, req *http.Request, route Route, timeout time.Duration) {
	ctx := req.Context()
	c := r.partition(route.Partition)
	key := cacheKey(req)

	e, err := r.fetch(req, timeout)
	if err == nil {
		r.store(ctx, c, key, e)
		r.write(w, e, "MISS", route)
		return
	}
	r.logger.Debug("network failed, trying cache", zap.String("key", key), zap.Error(err))

	if cached, cerr := c.Match(ctx, key); cerr == nil {
		r.write(w, cached, "STALE", route)
		return
	}
	if route == routeNavigation {
		for _, fallback := range []string{"/", OfflinePage} {
			if cached, cerr := c.Match(ctx, fallback); cerr == nil {
				r.write(w, cached, "OFFLINE", route)
				return
			}
		}
	}
	obs.CacheResults.WithLabelValues(route.Partition, string(route.Strategy), "error").Inc()
	http.Error(w, "Offline", http.StatusServiceUnavailable)
}

func (r *Runtime) cacheFirst(w http.ResponseWriter, req *http.Request, route Route) {
	ctx := req.Context()
	c := r.partition(route.Partition)
	key := cacheKey(req)

	if cached, err := c.Match(ctx, key); err == nil {
		r.write(w, cached, "HIT", route)
		return
	}
	e, err := r.fetch(req, 0)
	if err != nil {
		r.logger.Debug("cache-first fetch failed", zap.String("key", key), zap.Error(err))
		obs.CacheResults.WithLabelValues(route.Partition, string(route.Strategy), "error").Inc()
		http.Error(w, "Gateway timeout", http.StatusGatewayTimeout)
		return
	}
	r.store(ctx, c, key, e)
	r.write(w, e, "MISS", route)
}

func (r *Runtime) staleWhileRevalidate(w http.ResponseWriter, req *http.Request, route Route) {
	ctx := req.Context()
	c := r.partition(route.Partition)
	key := cacheKey(req)

	if cached, err := c.Match(ctx, key); err == nil {
		r.write(w, cached, "HIT", route)
		r.revalidateInBackground(req, c, key)
		return
	}
	e, err := r.fetch(req, r.cfg.APITimeout)
	if err != nil {
		r.logger.Debug("swr fetch failed", zap.String("key", key), zap.Error(err))
		obs.CacheResults.WithLabelValues(route.Partition, string(route.Strategy), "error").Inc()
		http.Error(w, "Gateway timeout", http.StatusGatewayTimeout)
		return
	}
	r.store(ctx, c, key, e)
	r.write(w, e, "MISS", route)
}

func (r *Runtime) revalidateInBackground(req *http.Request, c cache.Cache, key string) {
	bgReq := req.Clone(context.Background())
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		e, err := r.fetch(bgReq, r.cfg.APITimeout)
		if err != nil {
			r.logger.Debug("revalidate failed", zap.String("key", key), zap.Error(err))
			return
		}
		r.store(context.Background(), c, key, e)
	}()
}

func (r *Runtime) networkOnly(w http.ResponseWriter, req *http.Request, route Route) {
	e, err := r.fetch(req, 0)
	if err != nil {
		r.logger.Debug("network-only fetch failed", zap.String("path", req.URL.Path), zap.Error(err))
		obs.CacheResults.WithLabelValues("", string(route.Strategy), "error").Inc()
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	r.write(w, e, "BYPASS", route)
}

// store caches successful responses only.
func (r *Runtime) store(ctx context.Context, c cache.Cache, key string, e *cache.Entry) {
	if e.Status != http.StatusOK || strings.Contains(e.Header.Get("Cache-Control"), "no-store") {
		return
	}
	if err := c.Put(ctx, key, e); err != nil {
		r.logger.Warn("cache put failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Runtime) write(w http.ResponseWriter, e *cache.Entry, result string, route Route) {
	obs.CacheResults.WithLabelValues(route.Partition, string(route.Strategy), strings.ToLower(result)).Inc()
	for k, vs := range e.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Cache", result)
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

// fetch forwards req upstream and reads the whole response. A zero timeout
// means no deadline beyond the request's own context.
func (r *Runtime) fetch(req *http.Request, timeout time.Duration) (*cache.Entry, error) {
	ctx := req.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := *req.URL
	if sameOrigin(req) {
		target.Scheme = r.upstream.Scheme
		target.Host = r.upstream.Host
		target.Path = strings.TrimRight(r.upstream.Path, "/") + req.URL.Path
	}

	var body io.Reader
	if req.Body != nil && req.Method != http.MethodGet && req.Method != http.MethodHead {
		body = req.Body
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Host = ""

	resp, err := r.http.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if len(data) > maxCachedBody {
		return nil, errors.New("upstream body too large")
	}

	h := resp.Header.Clone()
	for _, k := range hopHeaders {
		h.Del(k)
	}
	h.Del("Content-Length")
	return &cache.Entry{Status: resp.StatusCode, Header: h, Body: data, StoredAt: r.now()}, nil
}
