package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
)

var errCustomerRequired = errors.New("customer identity is required")

// statusFor сопоставляет доменную ошибку HTTP-статусу и машинному коду.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrTransactionAborted):
		return http.StatusConflict, "transaction_aborted"
	case domain.IsStockError(err):
		return http.StatusConflict, "out_of_stock"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrNeedsRecheck):
		return http.StatusConflict, "needs_recheck"
	case errors.Is(err, domain.ErrCartLocked):
		return http.StatusConflict, "cart_locked"
	case errors.Is(err, domain.ErrStockDerived):
		return http.StatusConflict, "stock_derived"
	case errors.Is(err, domain.ErrOrderStatusTransition):
		return http.StatusConflict, "status_transition"
	case domain.IsVersionConflict(err):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return http.StatusConflict, "request_in_progress"
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case errors.Is(err, domain.ErrCartEmpty):
		return http.StatusBadRequest, "cart_empty"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrPriceNegative),
		errors.Is(err, domain.ErrLineKeyInvalid),
		errors.Is(err, domain.ErrSizeRequired):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, errCustomerRequired):
		return http.StatusUnauthorized, "customer_required"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// errorBody строит тело ответа. Внутренние ошибки наружу не раскрываются.
func errorBody(status int, code string, err error) errorResponse {
	body := errorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		body.Error = http.StatusText(status)
	}
	if available, ok := domain.AvailableFrom(err); ok {
		body.Available = &available
	}
	return body
}

// handleError: централизованный echo.HTTPErrorHandler.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   errorResponse
	)
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		body = errorResponse{Error: http.StatusText(status), Code: "http"}
		if msg, ok := httpErr.Message.(string); ok {
			body.Error = msg
		}
	} else {
		var code string
		status, code = statusFor(err)
		body = errorBody(status, code, err)
	}

	entry := s.logger.WithError(err).WithField("path", c.Path())
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
