package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/stock"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
)

const checkoutBody = `{
	"first_name": "Анна",
	"last_name": "Смирнова",
	"phone": "+79001234567",
	"buying_type": "self",
	"payment_type": "cash"
}`

type testAPI struct {
	e       *echo.Echo
	catalog *stock.Catalog
	orders  *order.Service
}

func newTestAPI(t *testing.T, options ...httpapi.Option) *testAPI {
	t.Helper()

	store := memory.NewStore()
	ledger := stock.NewLedger()
	carts := cart.NewService(store, memory.NewSessionStore())
	seq := 0
	orders := order.NewService(store, carts, ledger,
		order.WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }),
		order.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("order-%d", seq)
		}),
	)
	catalog := stock.NewCatalog(store, ledger, nil)

	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)
	options = append([]httpapi.Option{
		httpapi.WithIdempotency(guard),
		httpapi.WithMetrics(metrics.NewHTTPMetricsWithRegisterer(prometheus.NewRegistry())),
	}, options...)
	srv := httpapi.NewServer(carts, orders, catalog, options...)

	return &testAPI{e: srv.Echo(), catalog: catalog, orders: orders}
}

func (a *testAPI) product(t *testing.T, name, price string, qty int, sizes ...domain.Size) domain.Product {
	t.Helper()
	p, err := a.catalog.CreateProduct(context.Background(), domain.Product{
		Name: name, Slug: name, Price: decimal.RequireFromString(price), Qty: qty, Sizes: sizes,
	})
	require.NoError(t, err)
	return p
}

type call struct {
	method, path, body string
	customer           string
	cookie             *http.Cookie
	headers            map[string]string
}

func (a *testAPI) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if c.customer != "" {
		req.Header.Set(httpapi.CustomerHeader, c.customer)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == httpapi.SessionCookie {
			return c
		}
	}
	t.Fatal("session cookie was not issued")
	return nil
}

func TestGuestCartFlow(t *testing.T) {
	api := newTestAPI(t)
	boots := api.product(t, "Ботинки", "2500", 0,
		domain.Size{Value: decimal.RequireFromString("38"), Qty: 2},
	)

	first := api.do(t, call{method: http.MethodGet, path: "/api/v1/cart"})
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(t, first)

	rec := api.do(t, call{
		method: http.MethodPost, path: "/api/v1/cart/items", cookie: cookie,
		body: fmt.Sprintf(`{"product_id": %d, "size": "38.0", "quantity": 2}`, boots.ID),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view struct {
		Lines []struct {
			Key  string `json:"key"`
			Size string `json:"size"`
			Qty  int    `json:"qty"`
		} `json:"lines"`
		TotalItems int    `json:"total_items"`
		TotalPrice string `json:"total_price"`
	}
	decode(t, rec, &view)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, fmt.Sprintf("%d-38", boots.ID), view.Lines[0].Key)
	assert.Equal(t, "38", view.Lines[0].Size)
	assert.Equal(t, 2, view.TotalItems)
	assert.Equal(t, "5000.00", view.TotalPrice)

	rec = api.do(t, call{
		method: http.MethodPatch, path: "/api/v1/cart/items/" + view.Lines[0].Key, cookie: cookie,
		body: `{"quantity": 3}`,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	var failure struct {
		Code      string `json:"code"`
		Available *int   `json:"available"`
	}
	decode(t, rec, &failure)
	assert.Equal(t, "out_of_stock", failure.Code)
	require.NotNil(t, failure.Available)
	assert.Equal(t, 2, *failure.Available)

	rec = api.do(t, call{method: http.MethodDelete, path: "/api/v1/cart/items/" + view.Lines[0].Key, cookie: cookie})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	assert.Empty(t, view.Lines)
}

func TestAddItem_OutOfStockAndUnknownProduct(t *testing.T) {
	api := newTestAPI(t)
	hat := api.product(t, "Шапка", "1000", 0)

	rec := api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: fmt.Sprintf(`{"product_id": %d}`, hat.ID)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":0`)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: `{"product_id": 999}`})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: `{"product_id": `})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_RecheckDoesNotBurnIdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	hat := api.product(t, "Шапка", "1000", 5)

	rec := api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: fmt.Sprintf(`{"product_id": %d, "quantity": 3}`, hat.ID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, api.catalog.SetProductQty(context.Background(), hat.ID, 2))

	checkout := call{
		method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1", body: checkoutBody,
		headers: map[string]string{httpapi.IdempotencyHeader: "key-1"},
	}
	first := api.do(t, checkout)
	require.Equal(t, http.StatusConflict, first.Code, first.Body.String())
	assert.Contains(t, first.Body.String(), `"needs_recheck"`)

	second := api.do(t, checkout)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Empty(t, second.Header().Get(httpapi.ReplayedHeader))

	third := api.do(t, checkout)
	require.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get(httpapi.ReplayedHeader))
	assert.JSONEq(t, second.Body.String(), third.Body.String())

	product, err := api.catalog.GetProduct(context.Background(), hat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, product.Qty)
}

func TestCheckout_InvalidDraftIsReplayed(t *testing.T) {
	api := newTestAPI(t)
	hat := api.product(t, "Шапка", "1000", 5)

	rec := api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: fmt.Sprintf(`{"product_id": %d}`, hat.ID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	checkout := call{
		method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1", body: `{"first_name": "Анна"}`,
		headers: map[string]string{httpapi.IdempotencyHeader: "key-draft"},
	}
	first := api.do(t, checkout)
	require.Equal(t, http.StatusUnprocessableEntity, first.Code, first.Body.String())

	second := api.do(t, checkout)
	require.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Equal(t, "true", second.Header().Get(httpapi.ReplayedHeader))
}

func TestCheckout_CustomerIdempotentReplay(t *testing.T) {
	api := newTestAPI(t)
	hat := api.product(t, "Шапка", "1000", 5)

	rec := api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: fmt.Sprintf(`{"product_id": %d, "quantity": 2}`, hat.ID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	checkout := call{
		method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1", body: checkoutBody,
		headers: map[string]string{httpapi.IdempotencyHeader: "key-1"},
	}
	first := api.do(t, checkout)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(httpapi.ReplayedHeader))

	var placed struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		FinalPrice string `json:"final_price"`
	}
	decode(t, first, &placed)
	assert.Equal(t, "order-1", placed.ID)
	assert.Equal(t, "new", placed.Status)
	assert.Equal(t, "2000.00", placed.FinalPrice)

	second := api.do(t, checkout)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(httpapi.ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	product, err := api.catalog.GetProduct(context.Background(), hat.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, product.Qty, "replay must not reserve stock twice")

	checkout.body = strings.Replace(checkoutBody, "cash", "card", 1)
	rec = api.do(t, checkout)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, call{method: http.MethodGet, path: "/api/v1/orders", customer: "c-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var list []struct {
		ID string `json:"id"`
	}
	decode(t, rec, &list)
	require.Len(t, list, 1)

	rec = api.do(t, call{method: http.MethodGet, path: "/api/v1/orders/order-1/timeline", customer: "c-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.EventOrderPlaced)

	rec = api.do(t, call{method: http.MethodGet, path: "/api/v1/orders/order-1", customer: "c-2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, call{method: http.MethodDelete, path: "/api/v1/orders/order-1", customer: "c-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	product, err = api.catalog.GetProduct(context.Background(), hat.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, product.Qty)
}

func TestCheckout_Failures(t *testing.T) {
	api := newTestAPI(t)
	hat := api.product(t, "Шапка", "1000", 2)

	rec := api.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1", body: checkoutBody})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cart_empty")

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1",
		body: `{"first_name": "Анна", "buying_type": "delivery", "payment_type": "card"}`})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_draft")

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: fmt.Sprintf(`{"product_id": %d, "quantity": 2}`, hat.ID)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, api.catalog.SetProductQty(context.Background(), hat.ID, 1))

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1", body: checkoutBody})
	require.Equal(t, http.StatusConflict, rec.Code)
	var failure struct {
		Code   string `json:"code"`
		Report struct {
			NeedsRecheck bool `json:"needs_recheck"`
			Warnings     []struct {
				Kind      string `json:"kind"`
				Available int    `json:"available"`
			} `json:"warnings"`
		} `json:"report"`
	}
	decode(t, rec, &failure)
	assert.Equal(t, "needs_recheck", failure.Code)
	assert.True(t, failure.Report.NeedsRecheck)
	require.Len(t, failure.Report.Warnings, 1)
	assert.Equal(t, "reduced", failure.Report.Warnings[0].Kind)
	assert.Equal(t, 1, failure.Report.Warnings[0].Available)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1", body: checkoutBody})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestOrders_RequireCustomer(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, call{method: http.MethodGet, path: "/api/v1/orders"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, call{method: http.MethodGet, path: "/api/v1/orders", customer: "c-1", body: "", headers: nil})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = api.do(t, call{method: http.MethodGet, path: "/api/v1/orders?limit=-1", customer: "c-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t, httpapi.WithAdminToken("secret"))
	admin := map[string]string{httpapi.AdminTokenHeader: "secret"}

	rec := api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/products",
		body: `{"name": "Шапка", "slug": "hat", "price": "1000", "qty": 1}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing token")

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/products", headers: map[string]string{httpapi.AdminTokenHeader: "wrong"},
		body: `{"name": "Шапка", "slug": "hat", "price": "1000", "qty": 1}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/products", headers: admin,
		body: `{"name": "Ботинки", "slug": "boots", "price": "2500", "sizes": [{"value": "38", "qty": 2}, {"value": "39", "qty": 1}]}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var product struct {
		ID    int64 `json:"id"`
		Qty   int   `json:"qty"`
		Sizes []struct {
			ID int64 `json:"id"`
		} `json:"sizes"`
	}
	decode(t, rec, &product)
	assert.Equal(t, 3, product.Qty)
	require.Len(t, product.Sizes, 2)

	rec = api.do(t, call{method: http.MethodPut, path: fmt.Sprintf("/api/v1/admin/products/%d/qty", product.ID), headers: admin, body: `{"qty": 10}`})
	assert.Equal(t, http.StatusConflict, rec.Code, "sized product qty is derived")

	rec = api.do(t, call{method: http.MethodPut, path: fmt.Sprintf("/api/v1/admin/sizes/%d", product.Sizes[0].ID), headers: admin, body: `{"qty": 5}`})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, call{method: http.MethodPut, path: fmt.Sprintf("/api/v1/admin/products/%d/price", product.ID), headers: admin, body: `{"price": "abc"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, call{method: http.MethodDelete, path: fmt.Sprintf("/api/v1/admin/sizes/%d", product.Sizes[1].ID), headers: admin})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/api/v1/products/%d", product.ID)})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &product)
	assert.Equal(t, 5, product.Qty)
	assert.Len(t, product.Sizes, 1)

	rec = api.do(t, call{method: http.MethodGet, path: "/api/v1/products/abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminOrderLifecycle(t *testing.T) {
	api := newTestAPI(t)
	hat := api.product(t, "Шапка", "1000", 3)

	rec := api.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", customer: "c-1",
		body: fmt.Sprintf(`{"product_id": %d, "quantity": 3}`, hat.ID)})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", customer: "c-1", body: checkoutBody})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/orders/order-1/status", body: `{"status": "in_progress"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"in_progress"`)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/orders/order-1/status", body: `{"status": "new"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/orders/order-1/status", body: `{"status": "lost"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/orders/order-1/cancel", body: `{"reason": "покупатель передумал"}`})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancel"`)

	product, err := api.catalog.GetProduct(context.Background(), hat.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, product.Qty)

	rec = api.do(t, call{method: http.MethodDelete, path: "/api/v1/admin/orders/order-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, call{method: http.MethodDelete, path: "/api/v1/admin/orders/order-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
