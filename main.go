package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal-shell-go/internal/api"
	"portal-shell-go/internal/cache"
	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/config"
	"portal-shell-go/internal/device"
	"portal-shell-go/internal/localstore"
	"portal-shell-go/internal/obs"
	"portal-shell-go/internal/pushsub"
	"portal-shell-go/internal/reminder"
	"portal-shell-go/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadShell()
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    "portal-shell",
		Env:    cfg.Log.Env,
		Ver:    cfg.CacheVersion,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	state, err := localstore.OpenFile(cfg.StateFile)
	if err != nil {
		l.Fatal("open state file", zap.Error(err))
	}

	// redis
	var rdb *redis.Client
	if cfg.CacheBackend == "redis" || cfg.PushIngress == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
	}

	var storage cache.Storage = cache.NewMemoryStorage()
	if cfg.CacheBackend == "redis" {
		storage = cache.NewRedisStorage(rdb, cfg.CacheTTL)
	}

	// worker
	hub := clients.NewHub(nil, l)
	tray := worker.NewTray()
	rt, err := worker.New(worker.Config{
		Upstream:    cfg.UpstreamURL,
		Origin:      cfg.PublicURL,
		MediaOrigin: cfg.MediaOrigin,
		Version:     cfg.CacheVersion,
		NavTimeout:  cfg.NavTimeout,
		APITimeout:  cfg.APITimeout,
	}, worker.Options{
		Storage:  storage,
		Clients:  hub,
		Notifier: tray,
		Badger:   tray,
		Logger:   l,
	})
	if err != nil {
		l.Fatal("worker init", zap.Error(err))
	}
	if err := rt.Install(ctx); err != nil {
		l.Fatal("install", zap.Error(err))
	}
	if err := rt.Activate(ctx); err != nil {
		l.Fatal("activate", zap.Error(err))
	}

	dev, err := device.New(cfg.PublicURL, state, l)
	if err != nil {
		l.Fatal("device init", zap.Error(err))
	}
	perms := pushsub.StaticPermissions(cfg.NotificationPermission)

	sched := reminder.New(reminder.Options{
		Registration: tray,
		Page:         worker.WindowNotifier{Clients: hub},
		Permissions:  perms,
		Logger:       l,
	})
	defer sched.Stop()

	srv := worker.NewServer(rt, hub, tray, l).
		WithDevice(dev).
		WithPushSecret(cfg.PushSecret).
		WithReminders(sched)

	// portal subscription
	client, err := api.New(cfg.APIURL, api.NewHTTPClient(cfg.APITimeout), state, l)
	if err != nil {
		l.Fatal("api client", zap.Error(err))
	}
	go func() {
		if client.Token() == "" && cfg.PortalUsername != "" {
			if err := client.Login(ctx, cfg.PortalUsername, cfg.PortalPassword); err != nil {
				l.Warn("portal login failed", zap.Error(err))
				return
			}
		}
		mgr := pushsub.NewManager(dev, perms, client, state, l)

		// Exactly one ingress per shell, so a push is never shown twice.
		if cfg.PushIngress == "redis" {
			if _, err := mgr.Unsubscribe(ctx); err != nil {
				l.Warn("drop web push subscription", zap.Error(err))
			}
			user, err := client.CurrentUser(ctx)
			if err != nil {
				l.Warn("resolve portal user", zap.Error(err))
				return
			}
			pubsub := rdb.Subscribe(ctx, worker.PushChannel(user.ID))
			defer func() { _ = pubsub.Close() }()
			l.Info("listening for pushes", zap.String("channel", worker.PushChannel(user.ID)))
			rt.ConsumePushes(ctx, pubsub.Channel())
			return
		}

		sub, err := mgr.EnsureFromServer(ctx)
		if err != nil {
			l.Warn("push subscription", zap.Error(err))
			return
		}
		if sub != nil {
			l.Info("push subscription ready", zap.String("endpoint", sub.Endpoint))
		}
	}()

	ms := obs.BootstrapMetricsServer(cfg.MetricsAddr, func(ctx context.Context) error {
		if rdb == nil {
			return nil
		}
		return rdb.Ping(ctx).Err()
	}, l)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	l.Info("shell started",
		zap.String("addr", httpSrv.Addr),
		zap.String("upstream", cfg.UpstreamURL),
		zap.String("cache", cfg.CacheBackend),
	)

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	_ = ms.Shutdown(shCtx)
	rt.Wait()
	l.Info("bye")
}
