package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const queueSize = 32

// ErrQueueFull is returned when a window is not draining its messages.
var ErrQueueFull = errors.New("clients: window queue full")

// WindowClient is an open portal window as seen from the shell.
type WindowClient interface {
	ID() string
	URL() string
	PostMessage(m Message) error
	Navigate(ctx context.Context, url string) error
	Focus(ctx context.Context) error
}

// Opener opens a new window on url when no existing one can be reused.
type Opener func(ctx context.Context, url string) error

type Window struct {
	id         string
	mu         sync.Mutex
	url        string
	controlled bool
	out        chan Message
}

func (w *Window) ID() string { return w.id }

func (w *Window) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}

func (w *Window) Controlled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controlled
}

// PostMessage queues m without blocking.
func (w *Window) PostMessage(m Message) error {
	select {
	case w.out <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Window) Navigate(_ context.Context, u string) error {
	if err := w.PostMessage(Message{Type: Navigate, URL: u}); err != nil {
		return err
	}
	w.mu.Lock()
	w.url = u
	w.mu.Unlock()
	return nil
}

func (w *Window) Focus(_ context.Context) error {
	return w.PostMessage(Message{Type: Focus})
}

// Messages is the window's outbound queue.
func (w *Window) Messages() <-chan Message { return w.out }

type Hub struct {
	mu      sync.Mutex
	windows []*Window
	opener  Opener
	logger  *zap.Logger
}

func NewHub(opener Opener, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opener == nil {
		opener = func(ctx context.Context, u string) error {
			logger.Info("open window requested", zap.String("url", u))
			return nil
		}
	}
	return &Hub{opener: opener, logger: logger}
}

// Register adds a window currently showing pageURL. New windows are
// uncontrolled until the next Claim.
func (h *Hub) Register(pageURL string) *Window {
	w := &Window{id: uuid.NewString(), url: pageURL, out: make(chan Message, queueSize)}
	h.mu.Lock()
	h.windows = append(h.windows, w)
	h.mu.Unlock()
	return w
}

func (h *Hub) Unregister(w *Window) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.windows {
		if cur == w {
			h.windows = append(h.windows[:i], h.windows[i+1:]...)
			return
		}
	}
}

// MatchAll returns open windows in registration order.
func (h *Hub) MatchAll(includeUncontrolled bool) []WindowClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]WindowClient, 0, len(h.windows))
	for _, w := range h.windows {
		if includeUncontrolled || w.Controlled() {
			out = append(out, w)
		}
	}
	return out
}

// Claim takes control of every open window and returns how many there are.
func (h *Hub) Claim() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.windows {
		w.mu.Lock()
		w.controlled = true
		w.mu.Unlock()
	}
	return len(h.windows)
}

// Broadcast posts m to every window, controlled or not. It returns the number
// of windows that accepted it.
func (h *Hub) Broadcast(m Message) int {
	n := 0
	for _, w := range h.MatchAll(true) {
		if err := w.PostMessage(m); err != nil {
			h.logger.Debug("drop message", zap.String("window", w.ID()), zap.String("type", m.Type), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

func (h *Hub) OpenWindow(ctx context.Context, u string) error {
	return h.opener(ctx, u)
}

// ServeSSE streams messages to one window until it disconnects. The page URL
// comes from the url query parameter, falling back to the Referer.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		pageURL = r.Referer()
	}
	if _, err := url.Parse(pageURL); err != nil {
		http.Error(w, "Invalid url", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	win := h.Register(pageURL)
	defer h.Unregister(win)
	h.logger.Debug("window connected", zap.String("window", win.ID()), zap.String("url", pageURL))

	fmt.Fprintf(w, "event: hello\ndata: %s\n\n", win.ID())
	flusher.Flush()

	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()

	for {
		select {
		case msg := <-win.Messages():
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("encode message", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			h.logger.Debug("window disconnected", zap.String("window", win.ID()))
			return
		}
	}
}
