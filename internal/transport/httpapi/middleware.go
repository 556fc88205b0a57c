package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/service/cart"
)

const (
	// SessionCookie: cookie с идентификатором гостевой сессии.
	SessionCookie = "shop_session"
	// CustomerHeader: идентификатор покупателя, проставляемый шлюзом аутентификации.
	CustomerHeader = "X-Customer-ID"
	// IdempotencyHeader: ключ идемпотентности оформления заказа.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader помечает ответ, воспроизведённый по ключу идемпотентности.
	ReplayedHeader = "Idempotency-Replayed"
	// AdminTokenHeader: токен административных маршрутов.
	AdminTokenHeader = "X-Admin-Token"

	sessionContextKey  = "shop.session_id"
	customerContextKey = "shop.customer_id"
)

// identity выдаёт гостю cookie сессии и запоминает покупателя из заголовка.
func (s *Server) identity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID := ""
		if cookie, err := c.Cookie(SessionCookie); err == nil {
			if parsed, err := uuid.Parse(cookie.Value); err == nil {
				sessionID = parsed.String()
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			c.SetCookie(&http.Cookie{
				Name:     SessionCookie,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(s.sessionTTL / time.Second),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(sessionContextKey, sessionID)
		c.Set(customerContextKey, strings.TrimSpace(c.Request().Header.Get(CustomerHeader)))
		return next(c)
	}
}

// requestLog пишет одну строку на запрос и учитывает его в метриках.
func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		elapsed := time.Since(started)
		s.metrics.ObserveRequest(c.Request().Method, c.Path(), status, elapsed)
		s.logger.WithFields(log.Fields{
			"method":      c.Request().Method,
			"route":       c.Path(),
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		}).Debug("http request")
		return nil
	}
}

// adminAuth защищает административные маршруты токеном. Пустой токен отключает проверку.
func (s *Server) adminAuth() echo.MiddlewareFunc {
	if s.adminToken == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.KeyAuthWithConfig(echomw.KeyAuthConfig{
		KeyLookup: "header:" + AdminTokenHeader,
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminToken)) == 1, nil
		},
	})
}

func customerID(c echo.Context) string {
	id, _ := c.Get(customerContextKey).(string)
	return id
}

func sessionID(c echo.Context) string {
	id, _ := c.Get(sessionContextKey).(string)
	return id
}

// handleFor выбирает корзину: покупатель из заголовка, иначе гость по cookie.
func handleFor(c echo.Context) cart.Handle {
	if id := customerID(c); id != "" {
		return cart.Customer(id)
	}
	return cart.Guest(sessionID(c))
}

func requireCustomer(c echo.Context) (string, error) {
	id := customerID(c)
	if id == "" {
		return "", errCustomerRequired
	}
	return id, nil
}
