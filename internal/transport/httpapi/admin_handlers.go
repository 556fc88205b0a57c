package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func (s *Server) getProduct(c echo.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	p, err := s.catalog.GetProduct(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toProductResponse(p))
}

func (s *Server) createProduct(c echo.Context) error {
	var req createProductRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}

	price, err := parseDecimal("price", req.Price)
	if err != nil {
		return err
	}
	product := domain.Product{
		ID:         req.ID,
		CategoryID: req.CategoryID,
		Name:       req.Name,
		Slug:       req.Slug,
		Price:      price,
		Qty:        req.Qty,
	}
	for _, sz := range req.Sizes {
		value, err := parseDecimal("size", sz.Value)
		if err != nil {
			return err
		}
		product.Sizes = append(product.Sizes, domain.Size{Value: value, Qty: sz.Qty})
	}

	created, err := s.catalog.CreateProduct(c.Request().Context(), product)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toProductResponse(created))
}

func (s *Server) setProductQty(c echo.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var req qtyRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	if err := s.catalog.SetProductQty(c.Request().Context(), id, req.Qty); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setProductPrice(c echo.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var req priceRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	price, err := parseDecimal("price", req.Price)
	if err != nil {
		return err
	}
	if err := s.catalog.UpdateProductPrice(c.Request().Context(), id, price); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) createSize(c echo.Context) error {
	productID, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var req createSizeRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	value, err := parseDecimal("size", req.Value)
	if err != nil {
		return err
	}

	size, err := s.catalog.CreateSize(c.Request().Context(), productID, value, req.Qty)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sizeResponse{ID: size.ID, Value: domain.NormalizeSize(size.Value), Qty: size.Qty})
}

func (s *Server) setSizeQty(c echo.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	var req qtyRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	if err := s.catalog.SetSizeQty(c.Request().Context(), id, req.Qty); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteSize(c echo.Context) error {
	id, err := int64Param(c, "id")
	if err != nil {
		return err
	}
	if err := s.catalog.DeleteSize(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) advanceStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	if !req.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, req.Status)
	}

	updated, err := s.orders.AdvanceStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toOrderResponse(updated))
}

func (s *Server) cancelOrder(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}

	canceled, err := s.orders.Cancel(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toOrderResponse(canceled))
}

func (s *Server) deleteOrder(c echo.Context) error {
	if err := s.orders.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func int64Param(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	return id, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", domain.ErrValidation, field, raw)
	}
	return value, nil
}
