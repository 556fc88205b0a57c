package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций со складом и корзиной для label "result".
const (
	ResultOK           = "ok"
	ResultOutOfStock   = "out_of_stock"
	ResultInsufficient = "insufficient"
	ResultError        = "error"
)

// ShopMetrics содержит метрики склада, корзины и оформления заказов.
// Все методы безопасно вызывать на nil.
type ShopMetrics struct {
	// Склад
	stockReservations *prometheus.CounterVec
	stockReleased     prometheus.Counter

	// Корзина
	cartMutations     *prometheus.CounterVec
	reconcileWarnings *prometheus.CounterVec

	// Заказы
	ordersPlaced     *prometheus.CounterVec
	ordersAborted    prometheus.Counter
	ordersCanceled   prometheus.Counter
	ordersDeleted    prometheus.Counter
	assemblyDuration *prometheus.HistogramVec
	checkoutsActive  prometheus.Gauge

	notifications  *prometheus.CounterVec
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewShopMetrics регистрирует метрики в default registry.
func NewShopMetrics() *ShopMetrics {
	return NewShopMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewShopMetricsWithRegisterer регистрирует метрики в переданном registry (или переиспользует уже зарегистрированные).
func NewShopMetricsWithRegisterer(registerer prometheus.Registerer) *ShopMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ShopMetrics{
		stockReservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_stock_reservations_total",
			Help: "Total number of stock reservations grouped by result",
		}, []string{"result"}),
		stockReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_released_units_total",
			Help: "Total number of stock units returned by order cancellation or deletion",
		}),
		cartMutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_cart_mutations_total",
			Help: "Total number of cart mutations grouped by operation, cart kind and result",
		}, []string{"op", "kind", "result"}),
		reconcileWarnings: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_cart_reconcile_warnings_total",
			Help: "Total number of lines adjusted by pre-checkout reconciliation",
		}, []string{"kind"}),
		ordersPlaced: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_orders_placed_total",
			Help: "Total number of orders placed grouped by cart kind",
		}, []string{"kind"}),
		ordersAborted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_aborted_total",
			Help: "Total number of order assemblies rolled back",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_canceled_total",
			Help: "Total number of orders canceled",
		}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_deleted_total",
			Help: "Total number of orders deleted",
		}),
		assemblyDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_assembly_duration_seconds",
			Help:    "Duration of order assembly transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"kind"}),
		checkoutsActive: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_checkouts_in_flight",
			Help: "Number of checkouts currently being processed",
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_notifications_total",
			Help: "Total number of order confirmation notifications grouped by result",
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

// RecordReservation учитывает попытку списания остатка.
func (m *ShopMetrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.stockReservations.WithLabelValues(result).Inc()
}

// RecordReleased учитывает возвращённые на склад единицы.
func (m *ShopMetrics) RecordReleased(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.stockReleased.Add(float64(units))
}

// RecordCartMutation учитывает изменение корзины.
func (m *ShopMetrics) RecordCartMutation(op, kind, result string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op, kind, result).Inc()
}

// RecordReconcileWarning учитывает урезанную или удалённую при сверке позицию.
func (m *ShopMetrics) RecordReconcileWarning(kind string) {
	if m == nil {
		return
	}
	m.reconcileWarnings.WithLabelValues(kind).Inc()
}

// RecordOrderPlaced учитывает оформленный заказ и время сборки.
func (m *ShopMetrics) RecordOrderPlaced(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(kind).Inc()
	m.assemblyDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordOrderAborted учитывает откат сборки заказа.
func (m *ShopMetrics) RecordOrderAborted() {
	if m == nil {
		return
	}
	m.ordersAborted.Inc()
}

// RecordOrderCanceled увеличивает счётчик отменённых заказов.
func (m *ShopMetrics) RecordOrderCanceled() {
	if m == nil {
		return
	}
	m.ordersCanceled.Inc()
}

// RecordOrderDeleted увеличивает счётчик удалённых заказов.
func (m *ShopMetrics) RecordOrderDeleted() {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
}

// CheckoutStarted увеличивает количество оформляемых заказов.
func (m *ShopMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutsActive.Inc()
}

// CheckoutFinished уменьшает количество оформляемых заказов.
func (m *ShopMetrics) CheckoutFinished() {
	if m == nil {
		return
	}
	m.checkoutsActive.Dec()
}

// RecordNotification учитывает результат отправки подтверждения.
func (m *ShopMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ShopMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ShopMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
