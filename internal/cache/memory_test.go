package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	pages := s.Open(Versioned(Pages, "v1"))
	require.NoError(t, pages.Put(ctx, "/news", &Entry{Status: 200, Body: []byte("news"), StoredAt: time.Now()}))

	_, err := s.Open(Versioned(Assets, "v1")).Match(ctx, "/news")
	assert.ErrorIs(t, err, ErrMiss)

	e, err := s.Open("pages-v1").Match(ctx, "/news")
	require.NoError(t, err)
	assert.Equal(t, "news", string(e.Body))

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets-v1", "pages-v1"}, names)

	require.NoError(t, s.Delete(ctx, "pages-v1"))
	_, err = s.Open("pages-v1").Match(ctx, "/news")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryEntriesAreCopied(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryStorage().Open(API)

	h := http.Header{"Content-Type": {"application/json"}}
	body := []byte(`{"a":1}`)
	require.NoError(t, c.Put(ctx, "/api/x", &Entry{Status: 200, Header: h, Body: body}))
	h.Set("Content-Type", "text/plain")
	body[0] = 'X'

	e, err := c.Match(ctx, "/api/x")
	require.NoError(t, err)
	assert.Equal(t, "application/json", e.Header.Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, string(e.Body))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/x"}, keys)
	require.NoError(t, c.Delete(ctx, "/api/x"))
	_, err = c.Match(ctx, "/api/x")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestVersioned(t *testing.T) {
	assert.Equal(t, "media", Versioned(Media, ""))
	assert.Equal(t, "media-v2", Versioned(Media, "v2"))
}
