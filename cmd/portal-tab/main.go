// Command portal-tab is a headless portal window. It keeps the notification
// feed in step with the shell's event stream and logs what a page would show.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"portal-shell-go/internal/api"
	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/config"
	"portal-shell-go/internal/feed"
	"portal-shell-go/internal/localstore"
	"portal-shell-go/internal/media"
	"portal-shell-go/internal/obs"
)

const reconnectDelay = 2 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadTab()
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    "portal-tab",
		Env:    cfg.Log.Env,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	state, err := localstore.OpenFile(cfg.StateFile)
	if err != nil {
		l.Fatal("open state file", zap.Error(err))
	}

	hc := api.NewHTTPClient(cfg.APITimeout)
	client, err := api.New(cfg.APIURL, hc, state, l)
	if err != nil {
		l.Fatal("api client", zap.Error(err))
	}
	if client.Token() == "" && cfg.Username != "" {
		if err := client.Login(ctx, cfg.Username, cfg.Password); err != nil {
			l.Fatal("login", zap.Error(err))
		}
	}

	resolver := media.NewResolver(cfg.MediaOrigin)
	f := feed.New(client, nil, l)
	reload := func(ctx context.Context) {
		if err := f.Load(ctx, true); err != nil {
			l.Warn("load feed", zap.Error(err))
			return
		}
		printFeed(l, resolver, f.Snapshot())
	}
	reload(ctx)

	// The event stream outlives API timeouts.
	tab := clients.NewTab(cfg.ShellURL, cfg.PageURL, nil, l)
	handle := func(ctx context.Context, m clients.Message) {
		if m.Type == clients.Activated {
			if tab.ControllerChanged() {
				l.Info("shell updated, reloading")
				reload(ctx)
			}
			return
		}
		f.HandleMessage(ctx, m)
		if m.Type == clients.PushNotification {
			printFeed(l, resolver, f.Snapshot())
		}
	}

	for {
		err := tab.Listen(ctx, handle)
		if ctx.Err() != nil {
			break
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Warn("event stream lost", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}
	l.Info("bye")
}

func printFeed(l *zap.Logger, r media.Resolver, s feed.State) {
	l.Info("feed", zap.Int("unread", s.Unread), zap.Int("items", len(s.Items)), zap.Bool("has_more", s.HasMore))
	for _, n := range s.Items {
		l.Info("notification",
			zap.String("id", n.ID.String()),
			zap.String("title", n.Title),
			zap.Bool("read", n.Read),
			zap.String("icon", r.Resolve(n.Icon)),
			zap.String("avatar", r.Resolve(n.AvatarURL)),
			zap.Time("created_at", n.CreatedAt),
		)
	}
}
