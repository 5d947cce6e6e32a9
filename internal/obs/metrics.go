package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shell_cache_results_total",
		Help: "Responses served by the shell, by partition, strategy and outcome.",
	}, []string{"partition", "strategy", "result"})

	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shell_push_events_total",
		Help: "Push, click and close events handled by the shell.",
	}, []string{"event"})

	FeedLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_loads_total",
		Help: "Notification feed page loads by outcome.",
	}, []string{"result"})

	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_push_deliveries_total",
		Help: "Web push deliveries attempted by the API, by outcome.",
	}, []string{"result"})
)

func BootstrapMetricsServer(addr string, health func(context.Context) error, l *zap.Logger) *http.Server {
	ms := createMetricsServer(addr, health)

	go func() {
		l.Info("metrics listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server error", zap.Error(err))
		}
	}()

	return ms
}

func createMetricsServer(addr string, health func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := health(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}
