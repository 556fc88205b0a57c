package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
)

// checkout оформляет заказ. С заголовком Idempotency-Key повтор того же запроса
// возвращает сохранённый ответ и не создаёт второй заказ. Отказы, которые зависят от
// корзины или остатков (сверка, нехватка товара, прерванная транзакция), не сохраняются:
// повтор с тем же ключом оформляет заказ заново.
func (s *Server) checkout(c echo.Context) error {
	var draft domain.OrderDraft
	if err := c.Bind(&draft); err != nil {
		return invalidBody(err)
	}

	h := handleFor(c)
	body, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	scope := domain.NewCheckoutScope(h.Kind(), subjectOf(h))
	hash := idempotency.RequestHash([]byte(h.Kind()), []byte(scope.Subject), body)

	resp, err := s.guard.Execute(c.Request().Context(), scope, c.Request().Header.Get(IdempotencyHeader), hash,
		func(ctx context.Context) idempotency.Response {
			return s.runCheckout(ctx, h, draft)
		})
	if err != nil {
		return err
	}

	if resp.Replayed {
		c.Response().Header().Set(ReplayedHeader, "true")
	}
	return c.JSONBlob(resp.Status, resp.Body)
}

func (s *Server) runCheckout(ctx context.Context, h cart.Handle, draft domain.OrderDraft) idempotency.Response {
	placed, report, err := s.orders.Checkout(ctx, h, draft)
	if err == nil {
		resp := jsonResponse(http.StatusCreated, toOrderResponse(placed))
		resp.OrderID = placed.ID
		return resp
	}

	status, code := statusFor(err)
	draftRejected := errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrTransactionAborted)
	if draftRejected {
		status, code = http.StatusUnprocessableEntity, "invalid_draft"
	}
	body := errorBody(status, code, err)
	if errors.Is(err, domain.ErrNeedsRecheck) {
		r := toReportResponse(report)
		body.Report = &r
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("cart", h.Kind()).Error("checkout failed")
	}
	resp := jsonResponse(status, body)
	resp.Retryable = !draftRejected
	return resp
}

func jsonResponse(status int, v any) idempotency.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return idempotency.Response{Status: http.StatusInternalServerError, Body: []byte(`{"error":"Internal Server Error","code":"internal"}`)}
	}
	return idempotency.Response{Status: status, Body: body}
}

func subjectOf(h cart.Handle) string {
	switch h := h.(type) {
	case cart.GuestHandle:
		return h.SessionID
	case cart.CustomerHandle:
		return h.CustomerID
	default:
		return ""
	}
}

func (s *Server) listOrders(c echo.Context) error {
	customer, err := requireCustomer(c)
	if err != nil {
		return err
	}

	limit := defaultOrderLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(limit, maxOrderLimit)
	}

	orders, err := s.orders.ListByCustomer(c.Request().Context(), customer, limit)
	if err != nil {
		return err
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getOrder(c echo.Context) error {
	o, err := s.visibleOrder(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toOrderResponse(o))
}

func (s *Server) orderTimeline(c echo.Context) error {
	o, err := s.visibleOrder(c)
	if err != nil {
		return err
	}

	events, err := s.orders.Timeline(c.Request().Context(), o.ID)
	if err != nil {
		return err
	}
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) deleteOwnOrder(c echo.Context) error {
	customer, err := requireCustomer(c)
	if err != nil {
		return err
	}
	if err := s.orders.DeleteForCustomer(c.Request().Context(), customer, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// visibleOrder отдаёт заказ владельцу. Гостевой заказ без покупателя доступен по id.
func (s *Server) visibleOrder(c echo.Context) (domain.Order, error) {
	o, err := s.orders.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domain.Order{}, err
	}

	customer := customerID(c)
	switch {
	case o.CustomerID == nil:
		return o, nil
	case customer != "" && o.OwnedBy(customer):
		return o, nil
	default:
		return domain.Order{}, domain.ErrOrderNotFound
	}
}
