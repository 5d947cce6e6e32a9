// Package worker is the shell's service worker: it proxies the portal with
// per-partition cache strategies, shows push notifications, and relays
// notification events to open windows.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"portal-shell-go/internal/cache"
	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/media"
	"portal-shell-go/internal/models"
)

type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

const OfflinePage = "/offline.html"

// PrecacheRoutes are the app routes stored in the pages partition on install.
var PrecacheRoutes = []string{
	"/", "/news", "/events", "/schedule", "/profile",
	"/notifications", "/settings", "/login", OfflinePage,
}

// Notifier displays a notification on the platform.
type Notifier interface {
	ShowNotification(ctx context.Context, title string, opts models.NotificationOptions) error
}

// Badger sets the application badge. Platforms without badges leave it nil.
type Badger interface {
	SetAppBadge(ctx context.Context, n int) error
	ClearAppBadge(ctx context.Context) error
}

// Clients is the set of open windows.
type Clients interface {
	MatchAll(includeUncontrolled bool) []clients.WindowClient
	Claim() int
	Broadcast(m clients.Message) int
	OpenWindow(ctx context.Context, url string) error
}

type Config struct {
	Upstream string // portal origin requests are forwarded to
	Origin   string // the shell's own origin, used for click routing
	// MediaOrigin serves uploads; relative push icons resolve against it.
	// Defaults to Upstream.
	MediaOrigin string
	Version     string
	NavTimeout  time.Duration
	APITimeout  time.Duration
	Precache    []string
}

type Runtime struct {
	cfg       Config
	upstream  *url.URL
	origin    *url.URL
	media     media.Resolver
	storage   cache.Storage
	http      *http.Client
	clients   Clients
	notifier  Notifier
	badger    Badger
	logger    *zap.Logger
	now       func() time.Time
	bg        sync.WaitGroup

	mu    sync.Mutex
	state State
}

type Options struct {
	Storage   cache.Storage
	Transport http.RoundTripper
	Clients   Clients
	Notifier  Notifier
	Badger    Badger
	Logger    *zap.Logger
}

func New(cfg Config, o Options) (*Runtime, error) {
	up, err := url.Parse(cfg.Upstream)
	if err != nil || up.Scheme == "" || up.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", cfg.Upstream)
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", cfg.Origin, err)
	}
	if o.Storage == nil || o.Clients == nil || o.Notifier == nil {
		return nil, errors.New("worker: storage, clients and notifier are required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 5 * time.Second
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 4 * time.Second
	}
	if cfg.Precache == nil {
		cfg.Precache = PrecacheRoutes
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	transport := o.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Runtime{
		cfg:      cfg,
		upstream: up,
		origin:   origin,
		media:    media.NewResolver(firstNonEmpty(cfg.MediaOrigin, cfg.Upstream)),
		storage:  o.Storage,
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clients:  o.Clients,
		notifier: o.Notifier,
		badger:   o.Badger,
		logger:   o.Logger,
		now:      time.Now,
		state:    StateInstalling,
	}, nil
}

func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	r.logger.Info("worker state", zap.String("from", string(prev)), zap.String("to", string(s)))
}

func (r *Runtime) partition(name string) cache.Cache {
	return r.storage.Open(cache.Versioned(name, r.cfg.Version))
}

// Install fills the pages partition with the precache routes. Routes that
// cannot be fetched are skipped, except the offline page.
func (r *Runtime) Install(ctx context.Context) error {
	pages := r.partition(cache.Pages)
	stored := 0
	for _, route := range r.cfg.Precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, route, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/html")

		e, err := r.fetch(req, r.cfg.NavTimeout)
		if err == nil && e.Status != http.StatusOK {
			err = fmt.Errorf("status %d", e.Status)
		}
		if err != nil {
			if route == OfflinePage {
				return fmt.Errorf("precache %s: %w", route, err)
			}
			r.logger.Warn("precache skipped", zap.String("route", route), zap.Error(err))
			continue
		}
		if err := pages.Put(ctx, route, e); err != nil {
			return fmt.Errorf("store %s: %w", route, err)
		}
		stored++
	}
	r.logger.Info("installed", zap.Int("precached", stored), zap.Int("routes", len(r.cfg.Precache)))
	r.setState(StateWaiting)
	return nil
}

// Activate drops caches from other versions and takes control of every open
// window.
func (r *Runtime) Activate(ctx context.Context) error {
	keep := map[string]bool{}
	for _, p := range []string{cache.Pages, cache.Assets, cache.Media, cache.API} {
		keep[cache.Versioned(p, r.cfg.Version)] = true
	}
	names, err := r.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, n := range names {
		if keep[n] {
			continue
		}
		if err := r.storage.Delete(ctx, n); err != nil {
			r.logger.Warn("delete old cache", zap.String("cache", n), zap.Error(err))
		}
	}

	r.setState(StateActivated)
	claimed := r.clients.Claim()
	r.clients.Broadcast(clients.Message{Type: clients.Activated})
	r.logger.Info("activated", zap.Int("clients", claimed))
	return nil
}

// HandleMessage processes a message sent by a window.
func (r *Runtime) HandleMessage(ctx context.Context, m clients.Message) error {
	switch m.Type {
	case clients.SkipWaiting:
		if r.State() != StateWaiting {
			return nil
		}
		return r.Activate(ctx)
	case clients.NotificationClick:
		return r.NotificationClick(ctx, notificationData(m), m.Action)
	case clients.NotificationDismiss:
		r.NotificationClose(ctx, notificationData(m))
		return nil
	default:
		r.logger.Debug("ignore message", zap.String("type", m.Type))
		return nil
	}
}

func notificationData(m clients.Message) models.NotificationData {
	if m.Options != nil {
		d := m.Options.Data
		if d.ID == "" {
			d.ID = m.ID
		}
		return d
	}
	return models.NotificationData{ID: m.ID, URL: m.URL}
}

// Wait blocks until background revalidations finish.
func (r *Runtime) Wait() {
	r.bg.Wait()
}
