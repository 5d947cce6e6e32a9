package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrayReplacesByTag(t *testing.T) {
	ctx := context.Background()
	tray := NewTray()

	for _, body := range []string{`{"title":"1","id":42}`, `{"title":"2","id":42}`, `{"title":"3","type":"news"}`} {
		p := ParsePush([]byte(body))
		require.NoError(t, tray.ShowNotification(ctx, p.Title, BuildOptions(p, 0)))
	}

	all := tray.Notifications("")
	require.Len(t, all, 2)
	byID := tray.Notifications("app:id:42")
	require.Len(t, byID, 1)
	assert.Equal(t, "2", byID[0].Title)

	s, ok := tray.Take("app:news")
	assert.True(t, ok)
	assert.Equal(t, "3", s.Title)
	_, ok = tray.Take("app:news")
	assert.False(t, ok)
}
