package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-shell-go/internal/cache"
	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/device"
	"portal-shell-go/internal/localstore"
	"portal-shell-go/internal/models"
	"portal-shell-go/internal/pushsub"
	"portal-shell-go/internal/reminder"
)

func newServerEnv(t *testing.T) (*Server, *clients.Hub, *Tray) {
	t.Helper()
	hub := clients.NewHub(func(context.Context, string) error { return nil }, nil)
	tray := NewTray()
	rt, err := New(Config{
		Upstream: "http://portal.upstream",
		Origin:   "http://portal.test",
		Version:  "v1",
	}, Options{
		Storage:   cache.NewMemoryStorage(),
		Transport: newFakeUpstream(),
		Clients:   hub,
		Notifier:  tray,
		Badger:    tray,
	})
	require.NoError(t, err)
	return NewServer(rt, hub, tray, nil), hub, tray
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestPushThenClickThroughServer(t *testing.T) {
	srv, hub, tray := newServerEnv(t)
	mux := srv.Routes()
	win := hub.Register("http://portal.test/")

	rec := post(mux, "/sw/push", `{"title":"Новая новость","id":42,"url":"/news/42"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, tray.Notifications("app:id:42"), 1)
	assert.Equal(t, clients.PushNotification, (<-win.Messages()).Type)

	rec = post(mux, "/sw/message", `{"type":"NOTIFICATION_CLICK","tag":"app:id:42"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, tray.Notifications(""))

	nav := <-win.Messages()
	assert.Equal(t, clients.Navigate, nav.Type)
	assert.Equal(t, "http://portal.test/news/42", nav.URL)
	assert.Equal(t, clients.Focus, (<-win.Messages()).Type)
}

func TestDismissBroadcastsClosed(t *testing.T) {
	srv, hub, tray := newServerEnv(t)
	mux := srv.Routes()
	win := hub.Register("http://portal.test/")

	post(mux, "/sw/push", `{"title":"x","id":"9"}`)
	<-win.Messages()

	rec := post(mux, "/sw/message", `{"type":"NOTIFICATION_DISMISS","tag":"app:id:9"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	m := <-win.Messages()
	assert.Equal(t, clients.NotificationClosed, m.Type)
	assert.Equal(t, "9", m.ID.String())
	assert.Empty(t, tray.Notifications(""))
}

func TestMessageHandlerRejectsBadInput(t *testing.T) {
	srv, _, _ := newServerEnv(t)
	mux := srv.Routes()

	assert.Equal(t, http.StatusBadRequest, post(mux, "/sw/message", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(mux, "/sw/message", `nope`).Code)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sw/push", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNotificationsHandlerReportsBadge(t *testing.T) {
	srv, _, _ := newServerEnv(t)
	mux := srv.Routes()
	post(mux, "/sw/push", `{"title":"x","unreadCount":4}`)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sw/notifications", nil))
	assert.Contains(t, rec.Body.String(), `"badge":4`)
	assert.Contains(t, rec.Body.String(), `"tag":"app"`)
}

func TestConsumePushes(t *testing.T) {
	srv, _, tray := newServerEnv(t)
	ch := make(chan *redis.Message, 2)
	ch <- &redis.Message{Channel: PushChannel(1), Payload: `{"title":"a","id":1}`}
	ch <- &redis.Message{Channel: PushChannel(1), Payload: "plain text"}
	close(ch)

	done := make(chan struct{})
	go func() {
		srv.rt.ConsumePushes(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on closed channel")
	}
	assert.Len(t, tray.Notifications(""), 2)
}

func TestRemindersHandler(t *testing.T) {
	srv, hub, tray := newServerEnv(t)
	sched := reminder.New(reminder.Options{
		Registration: tray,
		Page:         WindowNotifier{Clients: hub},
		Permissions:  pushsub.StaticPermissions(pushsub.PermissionGranted),
	})
	mux := srv.WithReminders(sched).Routes()

	soon := time.Now().Add(3 * time.Minute).UTC().Format(time.RFC3339)
	later := time.Now().Add(3 * time.Hour).UTC().Format(time.RFC3339)
	body := `[{"id":1,"title":"Математика","when":"` + soon + `","url":"/schedule"},` +
		`{"id":"2","title":"Физика","when":"` + later + `"}]`

	rec := post(mux, "/sw/reminders", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Eventually(t, func() bool {
		return len(tray.Notifications("reminder:1")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, sched.Pending())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sw/reminders", nil))
	assert.JSONEq(t, `{"pending":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/sw/reminders", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/sw/reminders", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPushRejectsOversizedBody(t *testing.T) {
	srv, _, tray := newServerEnv(t)
	mux := srv.WithPushSecret("s3cret").Routes()
	body := `{"title":"big","id":5,"body":"` + strings.Repeat("x", maxPushBody) + `"}`

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(body))
	req := httptest.NewRequest(http.MethodPost, "/sw/push", strings.NewReader(body))
	req.Header.Set("X-Push-Signature", hex.EncodeToString(mac.Sum(nil)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, tray.Notifications(""))

	plain, _, _ := newServerEnv(t)
	rec = post(plain.Routes(), "/sw/push", `{"title":"fits","body":"`+strings.Repeat("x", maxPushBody-32)+`"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWindowNotifier(t *testing.T) {
	hub := clients.NewHub(nil, nil)
	n := WindowNotifier{Clients: hub}

	err := n.ShowNotification(context.Background(), "x", models.NotificationOptions{Tag: "reminder:1"})
	assert.Error(t, err)

	win := hub.Register("http://portal.test/")
	require.NoError(t, n.ShowNotification(context.Background(), "x", models.NotificationOptions{Tag: "reminder:1"}))
	m := <-win.Messages()
	assert.Equal(t, clients.PushNotification, m.Type)
	assert.Equal(t, "reminder:1", m.Options.Tag)
}

func TestPushSignature(t *testing.T) {
	srv, _, tray := newServerEnv(t)
	mux := srv.WithPushSecret("s3cret").Routes()
	body := `{"title":"signed","id":5}`

	assert.Equal(t, http.StatusUnauthorized, post(mux, "/sw/push", body).Code)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(body))
	req := httptest.NewRequest(http.MethodPost, "/sw/push", strings.NewReader(body))
	req.Header.Set("X-Push-Signature", hex.EncodeToString(mac.Sum(nil)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, tray.Notifications("app:id:5"), 1)
}

func TestDevicePushEndToEnd(t *testing.T) {
	srv, _, tray := newServerEnv(t)
	dev, err := device.New("http://shell.test", localstore.NewMemory(), nil)
	require.NoError(t, err)
	shell := httptest.NewServer(srv.WithDevice(dev).Routes())
	defer shell.Close()

	vapidPriv, vapidPub, err := pushsub.NewVAPIDKeys()
	require.NoError(t, err)
	appKey, err := pushsub.DecodeKey(vapidPub)
	require.NoError(t, err)
	sub, err := dev.Subscribe(context.Background(), appKey)
	require.NoError(t, err)
	endpoint := shell.URL + sub.Endpoint[len("http://shell.test"):]

	deliver := func(endpoint string) int {
		resp, err := webpush.SendNotification([]byte(`{"title":"Новая новость","id":42,"type":"news","url":"/news/42"}`),
			&webpush.Subscription{Endpoint: endpoint, Keys: webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth}},
			&webpush.Options{Subscriber: "mailto:admin@example.com", VAPIDPublicKey: vapidPub, VAPIDPrivateKey: vapidPriv, TTL: 30})
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, deliver(endpoint))
	shown := tray.Notifications("app:id:42")
	require.Len(t, shown, 1)
	assert.Equal(t, "Новая новость", shown[0].Title)

	assert.Equal(t, http.StatusGone, deliver(shell.URL+device.EndpointPath+"stale"))
}
