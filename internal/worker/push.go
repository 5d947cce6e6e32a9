package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/models"
	"portal-shell-go/internal/obs"
)

const (
	DefaultTitle = "Уведомление"
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/badge-72.png"
	DefaultURL   = "/notifications"
	maxActions   = 2
)

var errEmptyPayload = errors.New("empty push payload")

type pushParser func(data []byte) (models.PushPayload, error)

// pushParsers are tried in order; each one only reports its own failure.
var pushParsers = []pushParser{parseJSONPush, parseTextPush}

func parseJSONPush(data []byte) (models.PushPayload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return models.PushPayload{}, errors.New("not a JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.PushPayload{}, err
	}

	// A mistyped optional field is dropped on its own.
	var p models.PushPayload
	p.Title, _ = field[string](fields, "title")
	p.Body, _ = field[string](fields, "body")
	p.Type, _ = field[string](fields, "type")
	p.URL, _ = field[string](fields, "url")
	p.Tag, _ = field[string](fields, "tag")
	p.Icon, _ = field[string](fields, "icon")
	p.Badge, _ = field[string](fields, "badge")
	p.Renotify, _ = field[bool](fields, "renotify")
	p.RequireInteraction, _ = field[bool](fields, "requireInteraction")
	p.Actions, _ = field[[]models.Action](fields, "actions")
	p.Data, _ = field[map[string]any](fields, "data")
	if id, ok := field[models.NotificationID](fields, "id"); ok {
		p.ID = &id
	}
	if ts, ok := field[float64](fields, "timestamp"); ok && ts > 0 {
		p.Timestamp = int64(ts)
	}
	if n, ok := field[float64](fields, "unreadCount"); ok {
		p.UnreadCount = &n
	}
	return p, nil
}

// field decodes fields[key] as T. Missing, null and mistyped values report
// false and leave the zero value.
func field[T any](fields map[string]json.RawMessage, key string) (T, bool) {
	var v T
	raw, ok := fields[key]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

func parseTextPush(data []byte) (models.PushPayload, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return models.PushPayload{}, errEmptyPayload
	}
	if !utf8.ValidString(text) {
		return models.PushPayload{}, errors.New("payload is not text")
	}
	return models.PushPayload{Title: DefaultTitle, Body: text}, nil
}

// ParsePush decodes a push message. It always yields a title.
func ParsePush(data []byte) models.PushPayload {
	p := models.PushPayload{Title: DefaultTitle}
	for _, parse := range pushParsers {
		if parsed, err := parse(data); err == nil {
			p = parsed
			break
		}
	}
	if strings.TrimSpace(p.Title) == "" {
		p.Title = DefaultTitle
	}
	return p
}

func dataString(p models.PushPayload, key string) string {
	switch v := p.Data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func payloadID(p models.PushPayload) models.NotificationID {
	if p.ID != nil && *p.ID != "" {
		return *p.ID
	}
	return models.NotificationID(dataString(p, "id"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NotificationTag groups pushes about the same entity so a newer one replaces
// the older one instead of stacking.
func NotificationTag(p models.PushPayload) string {
	if tag := firstNonEmpty(p.Tag, dataString(p, "tag")); tag != "" {
		return tag
	}
	if id := payloadID(p); id != "" {
		return "app:id:" + id.String()
	}
	if typ := firstNonEmpty(p.Type, dataString(p, "type")); typ != "" {
		return "app:" + typ
	}
	return "app"
}

// BuildOptions turns a parsed payload into platform notification options.
func BuildOptions(p models.PushPayload, nowMillis int64) models.NotificationOptions {
	actions := p.Actions
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}
	ts := p.Timestamp
	if ts == 0 {
		ts = nowMillis
	}
	return models.NotificationOptions{
		Body:               p.Body,
		Tag:                NotificationTag(p),
		Renotify:           p.Renotify,
		RequireInteraction: p.RequireInteraction,
		Icon:               firstNonEmpty(p.Icon, DefaultIcon),
		Badge:              firstNonEmpty(p.Badge, DefaultBadge),
		Timestamp:          ts,
		Actions:            actions,
		Data: models.NotificationData{
			URL:  firstNonEmpty(p.URL, dataString(p, "url"), DefaultURL),
			ID:   payloadID(p),
			Type: firstNonEmpty(p.Type, dataString(p, "type")),
		},
	}
}

// Push handles one push message: it updates the badge, shows the notification
// and tells every open window about it. Only a failure to show is returned.
func (r *Runtime) Push(ctx context.Context, data []byte) error {
	obs.PushEvents.WithLabelValues("push").Inc()
	p := ParsePush(data)
	opts := BuildOptions(p, r.now().UnixMilli())
	if p.Icon != "" {
		opts.Icon = r.media.Resolve(p.Icon)
	}

	if p.UnreadCount != nil {
		r.setBadge(ctx, int(*p.UnreadCount))
	}

	if err := r.notifier.ShowNotification(ctx, p.Title, opts); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}

	n := r.clients.Broadcast(clients.Message{
		Type:    clients.PushNotification,
		Title:   p.Title,
		Options: &opts,
	})
	r.logger.Debug("push shown", zap.String("tag", opts.Tag), zap.Int("windows", n))
	return nil
}

func (r *Runtime) setBadge(ctx context.Context, n int) {
	if r.badger == nil {
		return
	}
	var err error
	if n > 0 {
		err = r.badger.SetAppBadge(ctx, n)
	} else {
		err = r.badger.ClearAppBadge(ctx)
	}
	if err != nil {
		r.logger.Debug("set badge failed", zap.Error(err))
	}
}

// NotificationClick routes a click on a shown notification. mark_read only
// informs the windows; every other action opens the target.
func (r *Runtime) NotificationClick(ctx context.Context, data models.NotificationData, action string) error {
	obs.PushEvents.WithLabelValues("click").Inc()
	if action == "mark_read" {
		r.clients.Broadcast(clients.Message{Type: clients.NotificationMarkRead, ID: data.ID})
		return nil
	}
	return r.focusOrNavigate(ctx, r.resolve(firstNonEmpty(data.URL, "/")))
}

// NotificationClose tells windows a notification was dismissed unread.
func (r *Runtime) NotificationClose(_ context.Context, data models.NotificationData) {
	obs.PushEvents.WithLabelValues("close").Inc()
	r.clients.Broadcast(clients.Message{Type: clients.NotificationClosed, ID: data.ID})
}

// focusOrNavigate reuses the first same-origin window and only opens a new one
// when there is none.
func (r *Runtime) focusOrNavigate(ctx context.Context, target string) error {
	for _, w := range r.clients.MatchAll(true) {
		if !r.isOwnOrigin(w.URL()) {
			continue
		}
		if err := w.Navigate(ctx, target); err != nil {
			r.logger.Debug("navigate failed", zap.String("window", w.ID()), zap.Error(err))
			continue
		}
		if err := w.Focus(ctx); err != nil {
			r.logger.Debug("focus failed", zap.String("window", w.ID()), zap.Error(err))
		}
		return nil
	}
	return r.clients.OpenWindow(ctx, target)
}

func (r *Runtime) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return r.origin.String()
	}
	return r.origin.ResolveReference(u).String()
}

func (r *Runtime) isOwnOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.origin.Scheme) && strings.EqualFold(u.Host, r.origin.Host)
}
