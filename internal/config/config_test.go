package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShellDefaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://portal.test")
	t.Setenv("API_URL", "")
	t.Setenv("NAV_TIMEOUT", "")

	cfg, err := LoadShell()
	require.NoError(t, err)
	assert.Equal(t, "http://portal.test", cfg.UpstreamURL)
	assert.Equal(t, "http://portal.test", cfg.MediaOrigin)
	assert.Equal(t, 5*time.Second, cfg.NavTimeout)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, "http://portal.test", cfg.APIURL)
	assert.Equal(t, "granted", cfg.NotificationPermission)
	assert.Equal(t, "webpush", cfg.PushIngress)
}

func TestLoadShellRejectsBadValues(t *testing.T) {
	t.Setenv("NAV_TIMEOUT", "soon")
	_, err := LoadShell()
	require.Error(t, err)

	t.Setenv("NAV_TIMEOUT", "3s")
	t.Setenv("CACHE_BACKEND", "disk")
	_, err = LoadShell()
	require.Error(t, err)

	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("PUSH_INGRESS", "both")
	_, err = LoadShell()
	require.Error(t, err)

	t.Setenv("PUSH_INGRESS", "redis")
	t.Setenv("NOTIFICATION_PERMISSION", "maybe")
	_, err = LoadShell()
	require.Error(t, err)

	t.Setenv("NOTIFICATION_PERMISSION", "denied")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "x")
	_, err = LoadShell()
	require.Error(t, err)
}

func TestLoadAPIRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := LoadAPI()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/portal")
	cfg, err := LoadAPI()
	require.NoError(t, err)
	assert.Equal(t, 86400, cfg.PushTTL)
	assert.Equal(t, "mailto:admin@example.com", cfg.VAPIDSubject)
}

func TestLoadTabDerivesFromShellURL(t *testing.T) {
	t.Setenv("SHELL_URL", "http://kiosk:8080")
	t.Setenv("API_URL", "")
	t.Setenv("PAGE_URL", "")
	t.Setenv("MEDIA_ORIGIN", "")

	cfg, err := LoadTab()
	require.NoError(t, err)
	assert.Equal(t, "http://kiosk:8080/api", cfg.APIURL)
	assert.Equal(t, "http://kiosk:8080/notifications", cfg.PageURL)
	assert.Equal(t, "http://kiosk:8080", cfg.MediaOrigin)
}
