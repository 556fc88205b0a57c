package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

func TestStartMetricsServer_Endpoints(t *testing.T) {
	logger := log.WithField("test", "http")
	port := findFreePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", time.Second, true, func(context.Context) error { return nil }))
	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), logger, healthHandler)
	require.NotNil(t, srv)

	base := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, base+"/livez")

	for _, path := range []string{"/metrics", "/healthz", "/livez", "/readyz"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err, path)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, body, path)
		if path == "/livez" {
			assert.Equal(t, "ok", string(body))
		}
	}
}

func TestStartMetricsServer_ReadinessFailsOnCriticalChecker(t *testing.T) {
	logger := log.WithField("test", "http-readyz")
	port := findFreePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", time.Second, true,
		func(context.Context) error { return fmt.Errorf("connection refused") }))
	startMetricsServer(ctx, fmt.Sprintf(":%d", port), logger, healthHandler)

	base := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, base+"/livez")

	resp, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStartMetricsServer_ShutdownOnCancel(t *testing.T) {
	logger := log.WithField("test", "http-shutdown")
	port := findFreePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	startMetricsServer(ctx, fmt.Sprintf(":%d", port), logger, healthcheck.NewHandler(version.GetVersion()))

	url := fmt.Sprintf("http://localhost:%d/livez", port)
	waitForServer(t, url)

	cancel()

	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond, "server should stop after context cancellation")
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

func TestShutdownWorker(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	cancelCalled := false
	done := make(chan struct{})
	close(done)
	shutdownWorker(func() { cancelCalled = true }, done, logger)
	assert.True(t, cancelCalled)

	shutdownWorker(nil, nil, logger)
}

func TestRunWorker_StopsOnCancel(t *testing.T) {
	started := make(chan struct{})
	cancel, done := runWorker(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started

	shutdownWorker(cancel, done, log.WithField("test", "run-worker"))

	select {
	case <-done:
	default:
		t.Fatal("worker should be stopped")
	}
}

// findFreePort находит свободный порт для тестов.
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond, "server %s did not start", url)
}
