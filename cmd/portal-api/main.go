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

	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal-shell-go/internal/config"
	"portal-shell-go/internal/handlers"
	"portal-shell-go/internal/obs"
	"portal-shell-go/internal/pushsub"
	"portal-shell-go/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    "portal-api",
		Env:    cfg.Log.Env,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	// Redis holds timelines, tokens and the push channel
	redisStore := store.NewRedisStore(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisStore.Client().Close() }()

	// PostgreSQL holds users and push subscriptions
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		l.Fatal("connect postgres", zap.Error(err))
	}
	defer func() { _ = pgStore.Close() }()

	if err := pgStore.RunMigrations(ctx); err != nil {
		l.Fatal("run migrations", zap.Error(err))
	}
	l.Info("database migrations completed")

	pub, priv := cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey
	if pub == "" || priv == "" {
		priv, pub, err = pushsub.NewVAPIDKeys()
		if err != nil {
			l.Fatal("generate VAPID keys", zap.Error(err))
		}
		l.Warn("VAPID keys not configured, generated a pair for this run",
			zap.String("VAPID_PUBLIC_KEY", pub),
			zap.String("VAPID_PRIVATE_KEY", priv),
		)
	}

	pusher := handlers.NewPusher(handlers.PusherConfig{
		PublicKey:  pub,
		PrivateKey: priv,
		Subject:    cfg.VAPIDSubject,
		TTL:        cfg.PushTTL,
	}, pgStore, l)

	sess := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	h := handlers.NewHandler(redisStore, pgStore, pusher, sess, l)
	h.InitAdmin(ctx, cfg.AdminPassword)

	ms := obs.BootstrapMetricsServer(cfg.MetricsAddr, h.Health, l)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	l.Info("portal api started", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
