package cache

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStorage(t *testing.T, ttl time.Duration) *RedisStorage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	// DB 14 belongs to these tests alone; it is flushed.
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 14})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client, ttl)
}

func TestRedisPutMatchKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStorage(t, time.Hour)
	pages := s.Open(Versioned(Pages, "v1"))

	e := &Entry{
		Status:   200,
		Header:   http.Header{"Content-Type": {"text/html"}},
		Body:     []byte("<h1>news</h1>"),
		StoredAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, pages.Put(ctx, "/news", e))
	require.NoError(t, pages.Put(ctx, "/", &Entry{Status: 200, Body: []byte("shell")}))

	got, err := pages.Match(ctx, "/news")
	require.NoError(t, err)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "text/html", got.Header.Get("Content-Type"))
	assert.Equal(t, "<h1>news</h1>", string(got.Body))
	assert.True(t, e.StoredAt.Equal(got.StoredAt))

	keys, err := pages.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/news"}, keys)

	_, err = s.Open(Versioned(Assets, "v1")).Match(ctx, "/news")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, pages.Delete(ctx, "/"))
	keys, err = pages.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/news"}, keys)
}

func TestRedisExpiredEntryIsPruned(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStorage(t, 200*time.Millisecond)
	c := s.Open(API)
	require.NoError(t, c.Put(ctx, "/api/notifications", &Entry{Status: 200}))

	assert.Eventually(t, func() bool {
		_, err := c.Match(ctx, "/api/notifications")
		return err == ErrMiss
	}, 2*time.Second, 50*time.Millisecond)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisDeletePartition(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStorage(t, time.Hour)
	old := s.Open("pages-v0")
	cur := s.Open("pages-v1")
	require.NoError(t, old.Put(ctx, "/", &Entry{Status: 200}))
	require.NoError(t, old.Put(ctx, "/news", &Entry{Status: 200}))
	require.NoError(t, cur.Put(ctx, "/", &Entry{Status: 200}))

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pages-v0", "pages-v1"}, names)

	require.NoError(t, s.Delete(ctx, "pages-v0"))

	names, err = s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pages-v1"}, names)
	_, err = old.Match(ctx, "/news")
	assert.ErrorIs(t, err, ErrMiss)
	keys, err := old.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = cur.Match(ctx, "/")
	assert.NoError(t, err)
}
