package worker

import (
	"context"
	"sync"
	"time"

	"portal-shell-go/internal/models"
)

// Shown is a notification currently on display.
type Shown struct {
	Title   string                     `json:"title"`
	Options models.NotificationOptions `json:"options"`
	ShownAt time.Time                  `json:"shown_at"`
}

// Tray is the shell's own notification area. A notification with the tag of
// one already shown replaces it.
type Tray struct {
	mu       sync.Mutex
	items    []Shown
	badge    int
	hasBadge bool
}

func NewTray() *Tray {
	return &Tray{}
}

func (t *Tray) ShowNotification(_ context.Context, title string, opts models.NotificationOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(opts.Tag)
	t.items = append(t.items, Shown{Title: title, Options: opts, ShownAt: time.Now()})
	return nil
}

// Notifications lists shown notifications, newest last. An empty tag lists all.
func (t *Tray) Notifications(tag string) []Shown {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Shown
	for _, s := range t.items {
		if tag == "" || s.Options.Tag == tag {
			out = append(out, s)
		}
	}
	return out
}

// Take removes and returns the notification with tag.
func (t *Tray) Take(tag string) (Shown, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(tag)
}

func (t *Tray) removeLocked(tag string) (Shown, bool) {
	for i, s := range t.items {
		if s.Options.Tag == tag {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return s, true
		}
	}
	return Shown{}, false
}

func (t *Tray) SetAppBadge(_ context.Context, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.badge, t.hasBadge = n, true
	return nil
}

func (t *Tray) ClearAppBadge(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.badge, t.hasBadge = 0, false
	return nil
}

// Badge returns the badge count and whether one is set.
func (t *Tray) Badge() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.badge, t.hasBadge
}
