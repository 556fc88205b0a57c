package order

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/stock"
)

const defaultNotifyTo = "orders@localhost"

// Service превращает корзину в заказ и ведёт его жизненный цикл.
type Service struct {
	tx       domain.TxManager
	carts    *cart.Service
	ledger   *stock.Ledger
	notifier domain.Notifier
	notifyTo string
	logger   *log.Entry
	metrics  *metrics.ShopMetrics
	now      func() time.Time
	newID    func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier задаёт канал подтверждений и адрес получателя.
func WithNotifier(notifier domain.Notifier, to string) Option {
	return func(s *Service) {
		s.notifier = notifier
		if to != "" {
			s.notifyTo = to
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService создаёт сервис заказов.
func NewService(tx domain.TxManager, carts *cart.Service, ledger *stock.Ledger, options ...Option) *Service {
	s := &Service{
		tx:       tx,
		carts:    carts,
		ledger:   ledger,
		notifyTo: defaultNotifyTo,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-service")
	}
	if s.ledger == nil {
		s.ledger = stock.NewLedger(stock.WithLogger(s.logger), stock.WithMetrics(s.metrics))
	}
	return s
}
