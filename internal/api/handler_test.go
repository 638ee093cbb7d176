package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pizzaflow/internal/models"
	"pizzaflow/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	created *service.CreateOrderRequest
	applied models.OrderEvent
	err     error
}

func (f *fakeOrders) CreateOrder(_ context.Context, req *service.CreateOrderRequest) (*models.Order, error) {
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: 1, CustomerID: req.CustomerID, Status: models.OrderStatusPending, TotalAmount: decimal.NewFromInt(19)}, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	if orderID != 1 {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	return &models.Order{ID: 1, Status: models.OrderStatusPaid}, []models.OrderItem{{ID: 1, OrderID: 1, ProductID: "margherita", Quantity: 2}}, nil
}

func (f *fakeOrders) ApplyEvent(_ context.Context, orderID int64, event models.OrderEvent) (*models.Order, error) {
	f.applied = event
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusPreparing}, nil
}

func (f *fakeOrders) ListCustomerOrders(_ context.Context, customerID int64) ([]models.Order, error) {
	return []models.Order{{ID: 3, CustomerID: customerID}}, nil
}

type fakeInventory struct{}

func (fakeInventory) CreateStockItem(_ context.Context, req *service.CreateStockItemRequest) (*models.StockItem, error) {
	if req.ProductID == "dup" {
		return nil, fmt.Errorf("%w: exists", models.ErrInvalidInput)
	}
	return &models.StockItem{ID: 1, ProductID: req.ProductID, ProductName: req.ProductName, Quantity: req.Quantity}, nil
}

func (fakeInventory) GetStockItem(_ context.Context, productID string) (*models.StockItem, error) {
	if productID != "margherita" {
		return nil, models.ErrNotFound
	}
	return &models.StockItem{ProductID: productID, Quantity: 10, ReservedQuantity: 4}, nil
}

func (fakeInventory) ListStockItems(context.Context) ([]models.StockItem, error) {
	return []models.StockItem{{ProductID: "a", Quantity: 2}}, nil
}

func (fakeInventory) GetReservations(_ context.Context, orderID int64) ([]models.Reservation, error) {
	return []models.Reservation{{OrderID: orderID, ProductID: "a", Quantity: 1, Status: models.ReservationStatusReserved}}, nil
}

type fakePayments struct{}

func (fakePayments) GetPayment(_ context.Context, orderID int64) (*models.Payment, error) {
	return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
}

type fakeKitchen struct{}

func (fakeKitchen) ActiveOrders(context.Context) ([]models.KitchenOrder, error) {
	return []models.KitchenOrder{{OrderID: 1, Status: models.KitchenStatusQueued}}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRouter(orders *fakeOrders, checks map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(orders, fakeInventory{}, fakePayments{}, fakeKitchen{}, checks).SetupRoutes(router)
	return router
}

func do(router *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateOrder(t *testing.T) {
	orders := &fakeOrders{}
	router := newRouter(orders, nil)

	w := do(router, http.MethodPost, "/api/v1/orders",
		`{"customer_id":7,"items":[{"product_id":"margherita","quantity":2,"unit_price":"9.50"}]}`,
		"Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, orders.created)
	assert.Equal(t, "abc", orders.created.IdempotencyKey)
	assert.True(t, decimal.RequireFromString("9.5").Equal(orders.created.Items[0].UnitPrice))

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestCreateOrderRejectsBadBodies(t *testing.T) {
	router := newRouter(&fakeOrders{}, nil)

	for _, body := range []string{
		`not json`,
		`{"customer_id":7,"items":[]}`,
		`{"customer_id":7,"items":[{"product_id":"a","quantity":0}]}`,
	} {
		w := do(router, http.MethodPost, "/api/v1/orders", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestGetOrder(t *testing.T) {
	router := newRouter(&fakeOrders{}, nil)

	w := do(router, http.MethodGet, "/api/v1/orders/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items"`)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/orders/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/orders/abc", "").Code)
}

func TestApplyOrderEvent(t *testing.T) {
	orders := &fakeOrders{}
	router := newRouter(orders, nil)

	w := do(router, http.MethodPost, "/api/v1/orders/1/events", `{"event":"kitchen_accepted"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderEventKitchenAccepted, orders.applied)

	w = do(router, http.MethodPost, "/api/v1/orders/1/events", `{"event":"TELEPORT"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	orders.err = fmt.Errorf("%w: CANCEL on DELIVERED", models.ErrInvalidTransition)
	w = do(router, http.MethodPost, "/api/v1/orders/1/events", `{"event":"CANCEL"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestErrorMapping(t *testing.T) {
	orders := &fakeOrders{err: fmt.Errorf("%w: margherita", models.ErrInsufficientStock)}
	router := newRouter(orders, nil)

	w := do(router, http.MethodPost, "/api/v1/orders",
		`{"customer_id":7,"items":[{"product_id":"margherita","quantity":2}]}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	orders.err = errors.New("db down")
	w = do(router, http.MethodPost, "/api/v1/orders",
		`{"customer_id":7,"items":[{"product_id":"margherita","quantity":2}]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/orders/1/payment", "").Code)
}

func TestInventoryRoutes(t *testing.T) {
	router := newRouter(&fakeOrders{}, nil)

	w := do(router, http.MethodGet, "/api/v1/inventory/margherita", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, float64(6), view["available"])

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/inventory/ghost", "").Code)

	w = do(router, http.MethodPost, "/api/v1/inventory", `{"product_id":"calzone","product_name":"Calzone","quantity":5}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	w = do(router, http.MethodPost, "/api/v1/inventory", `{"product_id":"dup","product_name":"Dup","quantity":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/inventory", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/orders/4/reservations", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/customers/7/orders", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/kitchen/queue", "").Code)
}

func TestReadiness(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })
	broken := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	router := newRouter(&fakeOrders{}, map[string]Pinger{"postgres": healthy, "redis": healthy})
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", "").Code)

	router = newRouter(&fakeOrders{}, map[string]Pinger{"postgres": healthy, "redis": broken})
	w := do(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}
