package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/memstore"
	"github.com/ariefcatur/go-retail-orders/internal/ordering"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	catalog := memstore.NewCatalog(
		orders.Product{ID: "p-1", Name: "Mug", Price: decimal.RequireFromString("5.00"), Active: true},
		orders.Product{ID: "p-2", Name: "Plate", Price: decimal.RequireFromString("2.00"), Active: false},
	)
	ledger := inventory.NewLedger(log, catalog)
	require.NoError(t, ledger.Load("p-1", 10))
	require.NoError(t, ledger.Load("p-2", 3))

	svc := ordering.NewService(log, ledger, catalog,
		memstore.NewCustomers(orders.Customer{ID: "c-1", Address: "12 Harbour Rd"}),
		memstore.NewOrders())

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	router := NewRouter(log)
	(&OrdersHandler{
		Orders:      svc,
		Idempotency: redisx.NewIdempotency(rdb),
		Cache:       redisx.NewStatusCache(rdb),
		Log:         log,
	}).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else {
		out = map[string]any{"list": raw}
	}
	return resp, out
}

func createBody(externalID string, qty int) map[string]any {
	return map[string]any{
		"external_id": externalID,
		"customer_id": "c-1",
		"items":       []map[string]any{{"product_id": "p-1", "qty": qty}},
	}
}

func TestCreateOrder_CreatesAndReservesStock(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, srv, http.MethodPost, "/orders", createBody("", 5))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "25.00", body["total_amount"])
	assert.Equal(t, "Pending", body["status"])
	assert.Equal(t, "12 Harbour Rd", body["shipping_address"])
	assert.NotEmpty(t, body["reservation_id"])

	resp, body = do(t, srv, http.MethodGet, "/products/p-1/stock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, body["available"])

	resp, body = do(t, srv, http.MethodGet, "/orders/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "order_not_found", body["error"])
}

func TestCreateOrder_ReplaysByExternalID(t *testing.T) {
	srv := newTestServer(t)

	resp, first := do(t, srv, http.MethodPost, "/orders", createBody("ext-1", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := do(t, srv, http.MethodPost, "/orders", createBody("ext-1", 2))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, true, second["replayed"])

	_, stock := do(t, srv, http.MethodGet, "/products/p-1/stock", nil)
	assert.EqualValues(t, 8, stock["available"])
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"insufficient", createBody("", 11), http.StatusConflict, "insufficient_stock"},
		{"unknown product", map[string]any{"customer_id": "c-1", "items": []map[string]any{{"product_id": "nope", "qty": 1}}}, http.StatusNotFound, "product_not_found"},
		{"inactive", map[string]any{"customer_id": "c-1", "items": []map[string]any{{"product_id": "p-2", "qty": 1}}}, http.StatusUnprocessableEntity, "product_inactive"},
		{"empty", map[string]any{"customer_id": "c-1", "items": []map[string]any{}}, http.StatusBadRequest, "invalid_request"},
		{"unknown field", map[string]any{"customer_id": "c-1", "user": "x"}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, srv, http.MethodPost, "/orders", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}

	_, stock := do(t, srv, http.MethodGet, "/products/p-1/stock", nil)
	assert.EqualValues(t, 10, stock["available"])
}

func TestOrderStatus_TransitionsAndCache(t *testing.T) {
	srv := newTestServer(t)

	_, created := do(t, srv, http.MethodPost, "/orders", createBody("", 3))
	id := created["id"].(string)

	resp, st := do(t, srv, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pending", st["status"])
	assert.Equal(t, true, st["cached"])

	resp, body := do(t, srv, http.MethodPut, "/orders/"+id+"/status", map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Cancelled", body["status"])
	assert.Nil(t, body["reservation_id"])

	_, stock := do(t, srv, http.MethodGet, "/products/p-1/stock", nil)
	assert.EqualValues(t, 10, stock["available"])

	_, st = do(t, srv, http.MethodGet, "/orders/"+id+"/status", nil)
	assert.Equal(t, "Cancelled", st["status"])

	resp, body = do(t, srv, http.MethodPut, "/orders/"+id+"/status", map[string]any{"status": "Cancelled"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_status_transition", body["error"])

	resp, body = do(t, srv, http.MethodPut, "/orders/"+id+"/status", map[string]any{"status": "Lost"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestCustomerOrdersAndStockEndpoints(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPost, "/orders", createBody("", 1))
	do(t, srv, http.MethodPost, "/orders", createBody("", 2))

	resp, body := do(t, srv, http.MethodGet, "/customers/c-1/orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []orderView
	require.NoError(t, json.Unmarshal(body["list"].(json.RawMessage), &list))
	assert.Len(t, list, 2)

	resp, body = do(t, srv, http.MethodPost, "/products/p-1/stock", map[string]any{"qty": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 11, body["available"])

	resp, body = do(t, srv, http.MethodGet, "/products/lowstock?threshold=3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var levels []inventory.StockLevel
	require.NoError(t, json.Unmarshal(body["list"].(json.RawMessage), &levels))
	assert.Equal(t, []inventory.StockLevel{{ProductID: "p-2", Available: 3}}, levels)

	resp, _ = do(t, srv, http.MethodGet, "/products/lowstock?threshold=-2", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type conflictingService struct{ OrderService }

func (conflictingService) CreateOrder(context.Context, ordering.CreateOrderRequest) (orders.Order, error) {
	return orders.Order{}, fmt.Errorf("reserve p-1: %w", orders.ErrConcurrencyConflict)
}

func TestCreateOrder_ConflictIsRetryable(t *testing.T) {
	router := NewRouter(zap.NewNop())
	(&OrdersHandler{Orders: conflictingService{}, Log: zap.NewNop()}).Register(router)

	rec := httptest.NewRecorder()
	b, _ := json.Marshal(createBody("", 1))
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(b)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "concurrency_conflict")
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
