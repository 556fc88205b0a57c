package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/stock"
)

const (
	defaultSessionTTL = 14 * 24 * time.Hour
	defaultOrderLimit = 20
	maxOrderLimit     = 100
)

// Server: HTTP API магазина поверх echo.
type Server struct {
	carts      *cart.Service
	orders     *order.Service
	catalog    *stock.Catalog
	guard      *idempotency.Guard
	logger     *log.Entry
	metrics    *metrics.HTTPMetrics
	sessionTTL time.Duration
	adminToken string
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithIdempotency включает защиту checkout по Idempotency-Key.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(s *Server) { s.guard = guard }
}

// WithSessionTTL задаёт срок жизни cookie гостевой сессии.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithAdminToken закрывает /admin токеном из заголовка X-Admin-Token.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// NewServer создаёт HTTP API.
func NewServer(carts *cart.Service, orders *order.Service, catalog *stock.Catalog, options ...Option) *Server {
	s := &Server{
		carts:      carts,
		orders:     orders,
		catalog:    catalog,
		logger:     log.WithField("component", "http-api"),
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Echo собирает echo-приложение со всеми маршрутами /api/v1.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(echomw.Recover())
	e.Use(s.requestLog)
	e.Use(echomw.BodyLimit("1M"))

	api := e.Group("/api/v1", s.identity)

	api.GET("/cart", s.getCart)
	api.POST("/cart/items", s.addItem)
	api.PATCH("/cart/items/:key", s.changeQuantity)
	api.DELETE("/cart/items/:key", s.removeItem)
	api.DELETE("/cart", s.clearCart)
	api.POST("/cart/reconcile", s.reconcile)
	api.POST("/checkout", s.checkout)

	api.GET("/orders", s.listOrders)
	api.GET("/orders/:id", s.getOrder)
	api.GET("/orders/:id/timeline", s.orderTimeline)
	api.DELETE("/orders/:id", s.deleteOwnOrder)

	api.GET("/products/:id", s.getProduct)

	admin := api.Group("/admin", s.adminAuth())
	admin.POST("/products", s.createProduct)
	admin.PUT("/products/:id/qty", s.setProductQty)
	admin.PUT("/products/:id/price", s.setProductPrice)
	admin.POST("/products/:id/sizes", s.createSize)
	admin.PUT("/sizes/:id", s.setSizeQty)
	admin.DELETE("/sizes/:id", s.deleteSize)
	admin.POST("/orders/:id/status", s.advanceStatus)
	admin.POST("/orders/:id/cancel", s.cancelOrder)
	admin.DELETE("/orders/:id", s.deleteOrder)

	return e
}
