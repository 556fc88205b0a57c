package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const defaultCheckTimeout = 2 * time.Second

// Status: состояние зависимости или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report: ответ /healthz.
type Report struct {
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Checks        []Check   `json:"checks"`
	Version       string    `json:"version,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость магазина. ctx ограничивает проверку сверху.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler отдаёт /healthz и /readyz. Проверки выполняются параллельно.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
}

// NewHandler создаёт Handler для версии сервиса version.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker добавляет проверку. Повторная регистрация имени заменяет проверку.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	if checker == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Run выполняет все проверки. Худший статус становится статусом сервиса.
func (h *Handler) Run(ctx context.Context) Report {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checkers = append(checkers, h.checkers[name])
	}
	h.mu.RUnlock()

	checks := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		i, checker := i, checker
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := checker.Check(ctx)
			if check.Name == "" {
				check.Name = names[i]
			}
			checks[i] = check
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		overall = worse(overall, check.Status)
	}
	return Report{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отдаёт JSON-отчёт. 503 только при unhealthy: degraded магазин принимает заказы.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Run(r.Context())

	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}

// ReadinessHandler отвечает, можно ли направлять в сервис покупателей.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Run(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler всегда отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// PingChecker проверяет хранилище или хранилище сессий через ping.
// Некритичная зависимость при ошибке переводит сервис в degraded, а не в unhealthy.
type PingChecker struct {
	name     string
	timeout  time.Duration
	critical bool
	ping     func(ctx context.Context) error
}

// NewPingChecker создаёт проверку. timeout<=0 означает 2 секунды.
func NewPingChecker(name string, timeout time.Duration, critical bool, ping func(ctx context.Context) error) *PingChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &PingChecker{name: name, timeout: timeout, critical: critical, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.ping(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err == nil {
		return check
	}

	check.Message = err.Error()
	check.Status = StatusDegraded
	if c.critical {
		check.Status = StatusUnhealthy
	}
	return check
}

// OutboxBacklogChecker следит за очередью событий заказов. Если самое старое
// неопубликованное событие ждёт дольше maxAge, брокер не принимает события:
// сервис degraded, заказы продолжают приниматься.
type OutboxBacklogChecker struct {
	stats  func(ctx context.Context) (domain.OutboxStats, error)
	maxAge time.Duration
	now    func() time.Time
}

// NewOutboxBacklogChecker создаёт проверку очереди outbox.
func NewOutboxBacklogChecker(stats func(ctx context.Context) (domain.OutboxStats, error), maxAge time.Duration) *OutboxBacklogChecker {
	return &OutboxBacklogChecker{stats: stats, maxAge: maxAge, now: time.Now}
}

func (c *OutboxBacklogChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
	defer cancel()

	start := time.Now()
	stats, err := c.stats(ctx)
	check := Check{Name: "order-events", Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		check.Status = StatusDegraded
		check.Message = err.Error()
	case stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero():
		age := c.now().Sub(stats.OldestPendingAt)
		if age > c.maxAge {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d order events pending, oldest for %s", stats.PendingCount, age.Truncate(time.Second))
		}
	}
	return check
}
