package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func okPing(context.Context) error { return nil }

func failingPing(context.Context) error { return errors.New("connection refused") }

func serveReport(t *testing.T, handler *Handler) (int, Report) {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var report Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	return w.Code, report
}

func TestHandler_Healthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewPingChecker("postgres", 0, true, okPing))

	code, report := serveReport(t, handler)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "v1.0.0", report.Version)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "postgres", report.Checks[0].Name)
}

func TestHandler_CriticalFailureIsUnavailable(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewPingChecker("postgres", 0, true, failingPing))
	handler.RegisterChecker("sessions", NewPingChecker("redis", 0, false, okPing))

	code, report := serveReport(t, handler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "redis", report.Checks[0].Name, "checks are ordered by registration name")
}

func TestHandler_DegradedStaysAvailable(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("sessions", NewPingChecker("redis", 0, false, failingPing))

	code, report := serveReport(t, handler)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestHandler_ChecksRunConcurrently(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	handler := NewHandler("dev")
	handler.RegisterChecker("storage", NewPingChecker("postgres", time.Second, true, slow))
	handler.RegisterChecker("sessions", NewPingChecker("redis", time.Second, false, slow))

	start := time.Now()
	report := handler.Run(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Less(t, time.Since(start), 190*time.Millisecond)
}

func TestHandler_NilCheckerIgnored(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("sessions", nil)

	report := handler.Run(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Checks)
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	cases := []struct {
		name     string
		critical bool
		ping     func(context.Context) error
		wantCode int
		wantBody string
	}{
		{name: "ready", critical: true, ping: okPing, wantCode: http.StatusOK, wantBody: "ready"},
		{name: "storage down", critical: true, ping: failingPing, wantCode: http.StatusServiceUnavailable, wantBody: "not ready"},
		{name: "sessions down", critical: false, ping: failingPing, wantCode: http.StatusOK, wantBody: "ready"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("dev")
			handler.RegisterChecker("dep", NewPingChecker("dep", 0, tc.critical, tc.ping))

			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantBody, w.Body.String())
		})
	}
}

func TestPingChecker(t *testing.T) {
	cases := []struct {
		name     string
		critical bool
		ping     func(context.Context) error
		want     Status
	}{
		{name: "ok", critical: true, ping: okPing, want: StatusHealthy},
		{name: "critical failure", critical: true, ping: failingPing, want: StatusUnhealthy},
		{name: "optional failure", critical: false, ping: failingPing, want: StatusDegraded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check := NewPingChecker("postgres", 0, tc.critical, tc.ping).Check(context.Background())
			assert.Equal(t, tc.want, check.Status)
			if tc.want != StatusHealthy {
				assert.Equal(t, "connection refused", check.Message)
			}
		})
	}
}

func TestPingChecker_RespectsTimeout(t *testing.T) {
	checker := NewPingChecker("redis", 20*time.Millisecond, true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Message, "deadline exceeded")
}

func TestOutboxBacklogChecker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		stats domain.OutboxStats
		err   error
		want  Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "fresh backlog", stats: domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-time.Minute)}, want: StatusHealthy},
		{name: "stuck backlog", stats: domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-time.Hour)}, want: StatusDegraded},
		{name: "stats error", err: errors.New("db closed"), want: StatusDegraded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checker := NewOutboxBacklogChecker(func(context.Context) (domain.OutboxStats, error) {
				return tc.stats, tc.err
			}, 5*time.Minute)
			checker.now = func() time.Time { return now }

			check := checker.Check(context.Background())
			assert.Equal(t, "order-events", check.Name)
			assert.Equal(t, tc.want, check.Status)
			if tc.want == StatusDegraded {
				assert.NotEmpty(t, check.Message)
			}
		})
	}
}
