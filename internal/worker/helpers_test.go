package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portal-shell-go/internal/cache"
	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/models"
)

type fakePage struct {
	status int
	body   string
	ctype  string
}

// fakeUpstream is the portal as seen through the worker's transport.
type fakeUpstream struct {
	mu      sync.Mutex
	offline bool
	block   bool
	pages   map[string]fakePage
	hits    map[string]int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{pages: map[string]fakePage{}, hits: map[string]int{}}
}

func (f *fakeUpstream) set(path string, status int, body, ctype string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[path] = fakePage{status: status, body: body, ctype: ctype}
}

func (f *fakeUpstream) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeUpstream) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeUpstream) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.hits[req.URL.Path]++
	offline, block := f.offline, f.block
	p, ok := f.pages[req.URL.Path]
	f.mu.Unlock()

	if offline {
		return nil, errors.New("dial tcp: connection refused")
	}
	if block {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
	if !ok {
		p = fakePage{status: http.StatusNotFound, body: "not found", ctype: "text/plain"}
	}
	return &http.Response{
		StatusCode: p.status,
		Header:     http.Header{"Content-Type": {p.ctype}},
		Body:       io.NopCloser(strings.NewReader(p.body)),
		Request:    req,
	}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	shown []Shown
}

func (n *fakeNotifier) ShowNotification(_ context.Context, title string, opts models.NotificationOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.shown = append(n.shown, Shown{Title: title, Options: opts})
	return nil
}

type fakeWindow struct {
	id       string
	url      string
	calls    []string
	posted   []clients.Message
	navError error
}

func (w *fakeWindow) ID() string  { return w.id }
func (w *fakeWindow) URL() string { return w.url }
func (w *fakeWindow) PostMessage(m clients.Message) error {
	w.posted = append(w.posted, m)
	return nil
}
func (w *fakeWindow) Navigate(_ context.Context, u string) error {
	w.calls = append(w.calls, "navigate "+u)
	if w.navError != nil {
		return w.navError
	}
	w.url = u
	return nil
}
func (w *fakeWindow) Focus(context.Context) error {
	w.calls = append(w.calls, "focus")
	return nil
}

type fakeClients struct {
	windows []*fakeWindow
	opened  []string
	claimed int
}

func (c *fakeClients) MatchAll(bool) []clients.WindowClient {
	out := make([]clients.WindowClient, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, w)
	}
	return out
}

func (c *fakeClients) Claim() int {
	c.claimed++
	return len(c.windows)
}

func (c *fakeClients) Broadcast(m clients.Message) int {
	for _, w := range c.windows {
		_ = w.PostMessage(m)
	}
	return len(c.windows)
}

func (c *fakeClients) OpenWindow(_ context.Context, u string) error {
	c.opened = append(c.opened, u)
	return nil
}

type testEnv struct {
	rt       *Runtime
	up       *fakeUpstream
	storage  *cache.MemoryStorage
	clients  *fakeClients
	notifier *fakeNotifier
	tray     *Tray
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		up:       newFakeUpstream(),
		storage:  cache.NewMemoryStorage(),
		clients:  &fakeClients{},
		notifier: &fakeNotifier{},
		tray:     NewTray(),
	}
	rt, err := New(Config{
		Upstream:   "http://portal.upstream",
		Origin:     "http://portal.test",
		Version:    "v1",
		NavTimeout: 50 * time.Millisecond,
		APITimeout: 50 * time.Millisecond,
	}, Options{
		Storage:   env.storage,
		Transport: env.up,
		Clients:   env.clients,
		Notifier:  env.notifier,
		Badger:    env.tray,
	})
	require.NoError(t, err)
	env.rt = rt
	return env
}
