package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/models"
)

type fakeAPI struct {
	mu       sync.Mutex
	pages    map[int]models.NotificationPage
	offsets  []int
	marked   [][]models.NotificationID
	allRead  int
	err      error
	markErr  error
	block    chan struct{}
	inFlight chan struct{}
}

func (a *fakeAPI) Notifications(_ context.Context, limit, offset int) (models.NotificationPage, error) {
	if a.block != nil {
		a.inFlight <- struct{}{}
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offsets = append(a.offsets, offset)
	if a.err != nil {
		return models.NotificationPage{}, a.err
	}
	return a.pages[offset], nil
}

func (a *fakeAPI) MarkRead(_ context.Context, ids []models.NotificationID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marked = append(a.marked, ids)
	return a.markErr
}

func (a *fakeAPI) MarkAllRead(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allRead++
	return a.markErr
}

type fakeBadger struct {
	sets    []int
	cleared int
}

func (b *fakeBadger) SetAppBadge(_ context.Context, n int) error {
	b.sets = append(b.sets, n)
	return nil
}

func (b *fakeBadger) ClearAppBadge(context.Context) error {
	b.cleared++
	return nil
}

func notes(ids ...int) []models.Notification {
	out := make([]models.Notification, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Notification{
			ID:    models.NotificationID(fmt.Sprint(id)),
			Title: fmt.Sprintf("n%d", id),
		})
	}
	return out
}

func ids(items []models.Notification) []models.NotificationID {
	out := make([]models.NotificationID, 0, len(items))
	for _, n := range items {
		out = append(out, n.ID)
	}
	return out
}

func TestLoadDedupesOverlappingPages(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(1, 2, 3), UnreadCount: 3, HasMore: true},
		3: {Items: notes(3, 4), UnreadCount: 4, HasMore: false},
	}}
	f := New(api, nil, nil)

	require.NoError(t, f.Load(context.Background(), false))
	require.NoError(t, f.LoadMore(context.Background()))

	s := f.Snapshot()
	assert.Equal(t, []models.NotificationID{"1", "2", "3", "4"}, ids(s.Items))
	assert.False(t, s.HasMore)
	assert.Equal(t, []int{0, 3}, api.offsets)

	// offset advanced by the two items returned, not the page size
	f.mu.Lock()
	assert.Equal(t, 5, f.offset)
	f.mu.Unlock()
}

func TestLoadMoreStopsWhenNoMorePages(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(1), HasMore: false},
	}}
	f := New(api, nil, nil)
	require.NoError(t, f.Load(context.Background(), false))
	require.NoError(t, f.LoadMore(context.Background()))
	assert.Equal(t, []int{0}, api.offsets)
}

func TestLoadMoreIsNoOpWhileLoading(t *testing.T) {
	api := &fakeAPI{
		pages:    map[int]models.NotificationPage{0: {Items: notes(1), HasMore: true}},
		block:    make(chan struct{}),
		inFlight: make(chan struct{}, 1),
	}
	f := New(api, nil, nil)

	done := make(chan error, 1)
	go func() { done <- f.Load(context.Background(), false) }()
	<-api.inFlight

	assert.True(t, f.Snapshot().Loading)
	require.NoError(t, f.LoadMore(context.Background()))
	require.NoError(t, f.Load(context.Background(), false))

	close(api.block)
	require.NoError(t, <-done)
	assert.Equal(t, []int{0}, api.offsets)
}

func TestResetReplacesList(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(1, 2), UnreadCount: 2, HasMore: true},
	}}
	f := New(api, nil, nil)
	require.NoError(t, f.Load(context.Background(), false))

	api.pages[0] = models.NotificationPage{Items: notes(5, 1), UnreadCount: 1}
	require.NoError(t, f.Load(context.Background(), true))

	s := f.Snapshot()
	assert.Equal(t, []models.NotificationID{"5", "1"}, ids(s.Items))
	assert.Equal(t, []int{0, 0}, api.offsets)
	assert.Equal(t, 2, s.Unread)
}

func TestLoadErrorKeepsState(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(1), HasMore: true},
	}}
	f := New(api, nil, nil)
	require.NoError(t, f.Load(context.Background(), false))

	api.err = errors.New("offline")
	err := f.LoadMore(context.Background())
	require.Error(t, err)

	s := f.Snapshot()
	assert.Len(t, s.Items, 1)
	assert.False(t, s.Loading)
	assert.True(t, s.HasMore)
}

func TestUnreadIsMaxOfLocalAndServer(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(1, 2), UnreadCount: 7, HasMore: true},
	}}
	f := New(api, nil, nil)
	require.NoError(t, f.Load(context.Background(), false))
	assert.Equal(t, 7, f.UnreadCount())

	f.mu.Lock()
	f.serverUnread = 0
	f.mu.Unlock()
	assert.Equal(t, 2, f.UnreadCount())
}

func TestMarkReadIsOptimistic(t *testing.T) {
	api := &fakeAPI{
		pages:   map[int]models.NotificationPage{0: {Items: notes(1, 2), UnreadCount: 2}},
		markErr: errors.New("boom"),
	}
	b := &fakeBadger{}
	f := New(api, b, nil)
	require.NoError(t, f.Load(context.Background(), false))

	f.MarkRead(context.Background(), "1")

	s := f.Snapshot()
	assert.True(t, s.Items[0].Read)
	assert.False(t, s.Items[1].Read)
	assert.Equal(t, 1, s.Unread)
	assert.Equal(t, [][]models.NotificationID{{"1"}}, api.marked)
	assert.Equal(t, []int{2, 1}, b.sets)

	f.MarkAllRead(context.Background())
	assert.Equal(t, 0, f.UnreadCount())
	assert.Equal(t, 1, api.allRead)
	assert.Equal(t, 1, b.cleared)
}

func TestPushMessagePrependsOnce(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(1), UnreadCount: 1},
	}}
	b := &fakeBadger{}
	f := New(api, b, nil)
	require.NoError(t, f.Load(context.Background(), false))

	msg := clients.Message{
		Type:  clients.PushNotification,
		Title: "Новая оценка",
		Options: &models.NotificationOptions{
			Body: "Математика: 5",
			Tag:  "app:id:9",
			Data: models.NotificationData{ID: "9", URL: "/grades", Type: "grade"},
		},
	}
	f.HandleMessage(context.Background(), msg)
	f.HandleMessage(context.Background(), msg)

	s := f.Snapshot()
	require.Equal(t, []models.NotificationID{"9", "1"}, ids(s.Items))
	assert.Equal(t, "Математика: 5", s.Items[0].Body)
	assert.Equal(t, "/grades", s.Items[0].URL)
	assert.Equal(t, "grade", s.Items[0].Type)
	assert.Equal(t, 2, s.Unread)
	assert.Equal(t, []int{1, 2}, b.sets)
}

func TestPushAndPageOverlap(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(9, 1), UnreadCount: 2},
	}}
	f := New(api, nil, nil)
	f.HandleMessage(context.Background(), clients.Message{Type: clients.PushNotification, ID: "9", Title: "x"})
	require.NoError(t, f.Load(context.Background(), false))

	assert.Equal(t, []models.NotificationID{"9", "1"}, ids(f.Snapshot().Items))
}

func TestPushWithoutIDGetsSynthesizedID(t *testing.T) {
	f := New(&fakeAPI{}, nil, nil)
	f.HandleMessage(context.Background(), clients.Message{Type: clients.PushNotification, Title: "a"})
	f.HandleMessage(context.Background(), clients.Message{Type: clients.PushNotification, Title: "b"})

	s := f.Snapshot()
	require.Len(t, s.Items, 2)
	assert.NotEmpty(t, s.Items[0].ID)
	assert.NotEqual(t, s.Items[0].ID, s.Items[1].ID)
}

func TestMarkReadMessageMirrorsOtherTab(t *testing.T) {
	api := &fakeAPI{pages: map[int]models.NotificationPage{
		0: {Items: notes(4), UnreadCount: 1},
	}}
	f := New(api, nil, nil)
	require.NoError(t, f.Load(context.Background(), false))

	f.HandleMessage(context.Background(), clients.Message{Type: clients.NotificationMarkRead, ID: "4"})
	f.HandleMessage(context.Background(), clients.Message{Type: clients.NotificationClosed, ID: "4"})

	assert.True(t, f.Snapshot().Items[0].Read)
	assert.Equal(t, 0, f.UnreadCount())
	assert.Equal(t, [][]models.NotificationID{{"4"}}, api.marked)
}

func TestSeenSetIsBounded(t *testing.T) {
	f := New(&fakeAPI{}, nil, nil)
	f.maxSeen = 2
	f.mu.Lock()
	assert.True(t, f.markSeen("a"))
	assert.True(t, f.markSeen("b"))
	assert.False(t, f.markSeen("a"))
	assert.True(t, f.markSeen("c"))
	assert.Len(t, f.seen, 2)
	assert.True(t, f.markSeen("a"), "oldest id is forgotten")
	f.mu.Unlock()
}
