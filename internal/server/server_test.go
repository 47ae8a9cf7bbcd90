package server_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/knowhow-portal/internal/metrics"
	"github.com/raphaelgruber/knowhow-portal/internal/server"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

func testLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestServerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := metrics.NewPrometheus(reg)
	require.NoError(t, err)
	prom.Transitioned(task.KindCrawlJob, task.StatePending, task.StateRunning)

	srv := server.New(metrics.Handler(reg), testLogger(io.Discard))
	require.Nil(t, srv.Addr())
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})

	resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `knowhow_tasks_transitions_total{from="pending",kind="crawl_job",to="running"} 1`)

	health, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServerStartFailsOnBusyPort(t *testing.T) {
	first := server.New(http.NotFoundHandler(), testLogger(io.Discard))
	require.NoError(t, first.Start("127.0.0.1:0"))
	defer first.Shutdown(context.Background())

	second := server.New(http.NotFoundHandler(), testLogger(io.Discard))
	err := second.Start(first.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen for metrics")
	assert.NoError(t, second.Shutdown(context.Background()))
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name:    "fast request logs at debug",
			handler: func(w http.ResponseWriter, _ *http.Request) {},
			want:    "level=DEBUG msg=\"request completed\"",
		},
		{
			name: "slow request logs at warn",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				time.Sleep(120 * time.Millisecond)
			},
			want: "level=WARN msg=\"slow request\"",
		},
		{
			name: "server error logs at error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want: "level=ERROR msg=\"request failed\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := server.LoggingMiddleware(testLogger(&buf))(tt.handler)

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), "path=/metrics")
		})
	}
}
