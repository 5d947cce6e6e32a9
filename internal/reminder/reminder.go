// Package reminder shows local notifications ahead of upcoming timed items
// such as classes. Nothing is persisted: the schedule lives as long as the
// Scheduler and is rebuilt from scratch on every Set.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"portal-shell-go/internal/models"
	"portal-shell-go/internal/pushsub"
)

const DefaultLead = 10 * time.Minute

type Item struct {
	// ID may arrive as a JSON number or string; it can be empty.
	ID    models.NotificationID `json:"id"`
	Title string                `json:"title"`
	When  time.Time             `json:"when"`
	URL   string                `json:"url,omitempty"`
	// MinutesBefore overrides DefaultLead when set.
	MinutesBefore *int `json:"minutesBefore,omitempty"`
}

// tag groups repeated reminders for the same item. Items without an id are
// told apart by their start time.
func (it Item) tag() string {
	if it.ID != "" {
		return "reminder:" + it.ID.String()
	}
	return "reminder:" + strconv.FormatInt(it.When.Unix(), 10)
}

func (it Item) lead() time.Duration {
	if it.MinutesBefore != nil {
		return time.Duration(*it.MinutesBefore) * time.Minute
	}
	return DefaultLead
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Notifier interface {
	ShowNotification(ctx context.Context, title string, opts models.NotificationOptions) error
}

type Permissions interface {
	Permission() pushsub.Permission
}

type Options struct {
	Clock Clock
	// Registration shows through the worker so the notification outlives the
	// page. Page is used when it is nil or fails.
	Registration Notifier
	Page         Notifier
	Permissions  Permissions
	Logger       *zap.Logger
}

type Scheduler struct {
	clock  Clock
	reg    Notifier
	page   Notifier
	perms  Permissions
	logger *zap.Logger

	mu     sync.Mutex
	timers map[int]Timer // by position in the last Set
	gen    uint64
}

func New(o Options) *Scheduler {
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Scheduler{
		clock:  o.Clock,
		reg:    o.Registration,
		page:   o.Page,
		perms:  o.Permissions,
		logger: o.Logger,
		timers: make(map[int]Timer),
	}
}

// Set replaces the schedule with items. Items that already started are
// skipped; items whose lead time has passed fire at once.
func (s *Scheduler) Set(items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	now := s.clock.Now()
	gen := s.gen
	for i, it := range items {
		if !it.When.After(now) {
			continue
		}
		delay := max(it.When.Add(-it.lead()).Sub(now), 0)
		s.timers[i] = s.clock.AfterFunc(delay, func() { s.fire(gen, i, it) })
	}
	s.logger.Debug("reminders scheduled", zap.Int("items", len(items)), zap.Int("timers", len(s.timers)))
}

// Stop cancels every pending reminder.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Pending reports the number of live timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) stopLocked() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.gen++
}

func (s *Scheduler) fire(gen uint64, slot int, it Item) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, slot)
	s.mu.Unlock()

	if s.perms == nil || s.perms.Permission() != pushsub.PermissionGranted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := models.NotificationOptions{
		Body: fmt.Sprintf("Начало в %s", it.When.Local().Format("15:04")),
		Tag:  it.tag(),
		Data: models.NotificationData{URL: it.URL, ID: it.ID, Type: "reminder"},
	}
	if s.reg != nil {
		err := s.reg.ShowNotification(ctx, it.Title, opts)
		if err == nil {
			return
		}
		s.logger.Debug("registration notification failed", zap.String("id", it.ID.String()), zap.Error(err))
	}
	if s.page == nil {
		return
	}
	if err := s.page.ShowNotification(ctx, it.Title, opts); err != nil {
		s.logger.Warn("reminder not shown", zap.String("id", it.ID.String()), zap.Error(err))
	}
}
