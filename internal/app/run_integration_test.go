package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
)

func TestRun_MemoryServesAPIAndShutsDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg) }()

	cartURL := "http://" + cfg.HTTPAddr + "/api/v1/cart"
	require.Eventually(t, func() bool {
		resp, err := http.Get(cartURL)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 25*time.Millisecond, "api did not become ready")

	resp, err := http.Get("http://" + cfg.MetricsAddr + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_InvalidHTTPAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "256.0.0.1:80"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer func() { _ = deps.closeFn() }()

	require.NotNil(t, deps.tx)
	require.NotNil(t, deps.outboxRepo)
	require.NotNil(t, deps.timelineRepo)
	require.NotNil(t, deps.idempotencyRepo)
	require.NotNil(t, deps.storageChecker)
	assert.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(context.Background()).Status)
}

func TestInitRuntimeDependencies_RedisSessions(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("SHOP_REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("redis address is not available")
	}

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		SessionDriver: SessionDriverRedis,
		RedisAddr:     addr,
		SessionTTL:    time.Minute,
	}, log.WithField("test", "redis-sessions"))
	if err != nil {
		t.Skipf("redis is not available: %v", err)
	}
	defer func() { _ = deps.closeFn() }()

	require.NotNil(t, deps.sessionChecker)
	assert.Equal(t, healthcheck.StatusHealthy, deps.sessionChecker.Check(context.Background()).Status)
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		SessionDriver: SessionDriverRedis,
		RedisAddr:     "127.0.0.1:1",
	}, log.WithField("test", "redis-down"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("SHOP_POSTGRES_TEST_DSN"))
}
