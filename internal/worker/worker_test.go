package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-shell-go/internal/cache"
	"portal-shell-go/internal/clients"
)

func TestInstallPrecachesRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.up.set("/", 200, "shell", "text/html")
	env.up.set("/news", 200, "news", "text/html")
	env.up.set(OfflinePage, 200, "offline", "text/html")

	require.NoError(t, env.rt.Install(context.Background()))
	assert.Equal(t, StateWaiting, env.rt.State())

	keys, err := env.storage.Open("pages-v1").Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/", "/news", OfflinePage}, keys)
}

func TestInstallFailsWithoutOfflinePage(t *testing.T) {
	env := newTestEnv(t)
	env.up.set("/", 200, "shell", "text/html")

	require.Error(t, env.rt.Install(context.Background()))
	assert.Equal(t, StateInstalling, env.rt.State())
}

func TestSkipWaitingActivatesAndClaims(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.up.set(OfflinePage, 200, "offline", "text/html")
	win := &fakeWindow{id: "w1", url: "http://portal.test/"}
	env.clients.windows = []*fakeWindow{win}

	old := env.storage.Open("pages-v0")
	require.NoError(t, old.Put(ctx, "/", &cache.Entry{Status: 200}))

	// Not installed yet: nothing to activate.
	require.NoError(t, env.rt.HandleMessage(ctx, clients.Message{Type: clients.SkipWaiting}))
	assert.Equal(t, StateInstalling, env.rt.State())
	assert.Equal(t, 0, env.clients.claimed)

	require.NoError(t, env.rt.Install(ctx))
	require.NoError(t, env.rt.HandleMessage(ctx, clients.Message{Type: clients.SkipWaiting}))
	assert.Equal(t, StateActivated, env.rt.State())
	assert.Equal(t, 1, env.clients.claimed)
	require.Len(t, win.posted, 1)
	assert.Equal(t, clients.Activated, win.posted[0].Type)

	names, err := env.storage.Names(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "pages-v0")
	assert.Contains(t, names, "pages-v1")

	// A second request after activation is a no-op.
	require.NoError(t, env.rt.HandleMessage(ctx, clients.Message{Type: clients.SkipWaiting}))
	assert.Equal(t, 1, env.clients.claimed)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Upstream: "not a url"}, Options{})
	assert.Error(t, err)

	_, err = New(Config{Upstream: "http://portal.upstream"}, Options{})
	assert.Error(t, err)
}
