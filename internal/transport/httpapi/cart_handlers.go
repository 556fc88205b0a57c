package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func (s *Server) getCart(c echo.Context) error {
	view, err := s.carts.View(c.Request().Context(), handleFor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(view))
}

func (s *Server) addItem(c echo.Context) error {
	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	if req.Quantity < 0 {
		return domain.ErrItemQtyInvalid
	}

	var size *decimal.Decimal
	if raw := strings.TrimSpace(req.Size); raw != "" {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%w: size %q", domain.ErrValidation, raw)
		}
		size = &value
	}

	view, err := s.carts.AddItem(c.Request().Context(), handleFor(c), req.ProductID, size, req.Quantity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(view))
}

func (s *Server) changeQuantity(c echo.Context) error {
	var req changeQtyRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}

	view, err := s.carts.ChangeQuantity(c.Request().Context(), handleFor(c), domain.LineKey(c.Param("key")), req.Quantity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(view))
}

func (s *Server) removeItem(c echo.Context) error {
	view, err := s.carts.RemoveItem(c.Request().Context(), handleFor(c), domain.LineKey(c.Param("key")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(view))
}

func (s *Server) clearCart(c echo.Context) error {
	if err := s.carts.Clear(c.Request().Context(), handleFor(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reconcile(c echo.Context) error {
	ctx := c.Request().Context()
	h := handleFor(c)

	report, err := s.carts.ReconcileBeforeCheckout(ctx, h)
	if err != nil {
		return err
	}
	view, err := s.carts.View(ctx, h)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reconcileResponse{
		Report: toReportResponse(report),
		Cart:   toCartResponse(view),
	})
}

func invalidBody(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
}
