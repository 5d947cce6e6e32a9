package obs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestHealthz(t *testing.T) {
	var healthErr error
	ms := createMetricsServer(":0", func(context.Context) error { return healthErr })

	rec := httptest.NewRecorder()
	ms.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthErr = errors.New("redis down")
	rec = httptest.NewRecorder()
	ms.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: "chatty", App: "test"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
