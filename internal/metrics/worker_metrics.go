package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics описывает фоновые воркеры: публикацию outbox и обслуживание ключей оформления заказа.
// Все методы безопасно вызывать на nil.
type WorkerMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
	keySweeps        *prometheus.CounterVec
	keysSwept        *prometheus.CounterVec
}

// NewWorkerMetrics регистрирует метрики в default registry.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewWorkerMetricsWithRegisterer(registerer prometheus.Registerer) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkerMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		keySweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_checkout_key_sweeps_total",
			Help: "Total number of checkout key sweeps grouped by result",
		}, []string{"result"}),
		keysSwept: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_checkout_keys_swept_total",
			Help: "Total number of checkout keys removed by the sweeper grouped by reason",
		}, []string{"reason"}),
	}
}

// RecordPublish учитывает попытку публикации: sent, retry_error, failed, dlq_failed.
func (m *WorkerMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog выставляет размер и возраст очереди pending-сообщений.
func (m *WorkerMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}

// RecordKeySweep учитывает проход по ключам оформления: освобождённые брошенные и удалённые истёкшие.
func (m *WorkerMetrics) RecordKeySweep(err error, released, expired int) {
	if m == nil {
		return
	}
	if released > 0 {
		m.keysSwept.WithLabelValues("stale").Add(float64(released))
	}
	if expired > 0 {
		m.keysSwept.WithLabelValues("expired").Add(float64(expired))
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.keySweeps.WithLabelValues(result).Inc()
}
