// Package feed keeps the notification list a portal window renders: paged
// from the API, fed live by pushes relayed from the shell, with read state
// tracked optimistically.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/models"
	"portal-shell-go/internal/obs"
)

const (
	PageSize = 20
	MaxSeen  = 5000
)

type API interface {
	Notifications(ctx context.Context, limit, offset int) (models.NotificationPage, error)
	MarkRead(ctx context.Context, ids []models.NotificationID) error
	MarkAllRead(ctx context.Context) error
}

type Badger interface {
	SetAppBadge(ctx context.Context, n int) error
	ClearAppBadge(ctx context.Context) error
}

// State is a copy of the feed for rendering.
type State struct {
	Items   []models.Notification
	HasMore bool
	Loading bool
	Unread  int
}

type Feed struct {
	api    API
	badger Badger
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	items        []models.Notification
	seen         map[models.NotificationID]struct{}
	seenOrder    []models.NotificationID
	maxSeen      int
	offset       int
	hasMore      bool
	loading      bool
	serverUnread int
	badge        int
}

// New returns an empty feed. badger may be nil.
func New(api API, badger Badger, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		api:     api,
		badger:  badger,
		logger:  logger,
		now:     time.Now,
		seen:    make(map[models.NotificationID]struct{}),
		maxSeen: MaxSeen,
		hasMore: true,
		badge:   -1,
	}
}

// Load fetches the next page, or the first page when reset is set. A call made
// while another load is in flight returns immediately.
func (f *Feed) Load(ctx context.Context, reset bool) error {
	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return nil
	}
	f.loading = true
	offset := f.offset
	if reset {
		offset = 0
	}
	f.mu.Unlock()

	page, err := f.api.Notifications(ctx, PageSize, offset)

	f.mu.Lock()
	f.loading = false
	if err != nil {
		f.mu.Unlock()
		obs.FeedLoads.WithLabelValues("error").Inc()
		return fmt.Errorf("load notifications: %w", err)
	}
	if reset {
		f.items = nil
		f.seen = make(map[models.NotificationID]struct{})
		f.seenOrder = nil
		f.offset = 0
	}
	added := 0
	for _, n := range page.Items {
		if f.markSeen(n.ID) {
			f.items = append(f.items, n)
			added++
		}
	}
	f.offset += len(page.Items)
	f.hasMore = page.HasMore
	f.serverUnread = page.UnreadCount
	unread := f.unreadLocked()
	f.mu.Unlock()

	obs.FeedLoads.WithLabelValues("ok").Inc()
	f.logger.Debug("feed page loaded",
		zap.Int("offset", offset),
		zap.Int("returned", len(page.Items)),
		zap.Int("added", added),
		zap.Bool("has_more", page.HasMore))
	f.syncBadge(ctx, unread)
	return nil
}

// LoadMore fetches the next page unless a load is in flight or the server
// reported no more pages.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	skip := f.loading || !f.hasMore
	f.mu.Unlock()
	if skip {
		return nil
	}
	return f.Load(ctx, false)
}

// MarkRead flips id to read locally, then tells the API. API failures are
// logged and not rolled back.
func (f *Feed) MarkRead(ctx context.Context, id models.NotificationID) {
	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == id && !f.items[i].Read {
			f.items[i].Read = true
			if f.serverUnread > 0 {
				f.serverUnread--
			}
			break
		}
	}
	unread := f.unreadLocked()
	f.mu.Unlock()

	f.syncBadge(ctx, unread)
	if err := f.api.MarkRead(ctx, []models.NotificationID{id}); err != nil {
		f.logger.Warn("mark read failed", zap.String("id", id.String()), zap.Error(err))
	}
}

func (f *Feed) MarkAllRead(ctx context.Context) {
	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.serverUnread = 0
	f.mu.Unlock()

	f.syncBadge(ctx, 0)
	if err := f.api.MarkAllRead(ctx); err != nil {
		f.logger.Warn("mark all read failed", zap.Error(err))
	}
}

// UnreadCount is the larger of the local and the server-reported count.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unreadLocked()
}

func (f *Feed) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]models.Notification, len(f.items))
	copy(items, f.items)
	return State{
		Items:   items,
		HasMore: f.hasMore,
		Loading: f.loading,
		Unread:  f.unreadLocked(),
	}
}

// HandleMessage applies a message relayed by the shell. It has the signature
// clients.Tab.Listen expects.
func (f *Feed) HandleMessage(ctx context.Context, m clients.Message) {
	switch m.Type {
	case clients.PushNotification:
		f.addPushed(ctx, m)
	case clients.NotificationMarkRead:
		id := messageID(m)
		if id == "" {
			return
		}
		f.MarkRead(ctx, id)
	case clients.NotificationClosed:
		// dismissed unread; nothing changes
	}
}

func (f *Feed) addPushed(ctx context.Context, m clients.Message) {
	n := models.Notification{
		ID:        messageID(m),
		Title:     m.Title,
		CreatedAt: f.now(),
	}
	if o := m.Options; o != nil {
		n.Body = o.Body
		n.Icon = o.Icon
		n.Type = o.Data.Type
		n.URL = o.Data.URL
		if o.Timestamp > 0 {
			n.CreatedAt = time.UnixMilli(o.Timestamp)
		}
	}
	if n.ID == "" {
		n.ID = models.NotificationID("push-" + uuid.NewString())
	}

	f.mu.Lock()
	if !f.markSeen(n.ID) {
		f.mu.Unlock()
		return
	}
	f.items = append([]models.Notification{n}, f.items...)
	f.serverUnread++
	unread := f.unreadLocked()
	f.mu.Unlock()

	f.syncBadge(ctx, unread)
}

func messageID(m clients.Message) models.NotificationID {
	if m.ID != "" {
		return m.ID
	}
	if m.Options != nil {
		return m.Options.Data.ID
	}
	return ""
}

// markSeen records id and reports whether it was new. The oldest ids are
// forgotten once maxSeen is reached.
func (f *Feed) markSeen(id models.NotificationID) bool {
	if _, ok := f.seen[id]; ok {
		return false
	}
	if len(f.seenOrder) >= f.maxSeen {
		delete(f.seen, f.seenOrder[0])
		f.seenOrder = f.seenOrder[1:]
	}
	f.seen[id] = struct{}{}
	f.seenOrder = append(f.seenOrder, id)
	return true
}

func (f *Feed) unreadLocked() int {
	local := 0
	for _, n := range f.items {
		if !n.Read {
			local++
		}
	}
	return max(local, f.serverUnread)
}

// syncBadge mirrors unread onto the app badge when it changed.
func (f *Feed) syncBadge(ctx context.Context, unread int) {
	f.mu.Lock()
	changed := unread != f.badge
	f.badge = unread
	f.mu.Unlock()
	if !changed || f.badger == nil {
		return
	}

	var err error
	if unread > 0 {
		err = f.badger.SetAppBadge(ctx, unread)
	} else {
		err = f.badger.ClearAppBadge(ctx)
	}
	if err != nil {
		f.logger.Debug("badge update failed", zap.Int("unread", unread), zap.Error(err))
	}
}
