package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pizzaflow/internal/lifecycle"
	"pizzaflow/internal/models"
	"pizzaflow/internal/service"
	"pizzaflow/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderAPI is the order surface the handlers need
type OrderAPI interface {
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error)
	ApplyEvent(ctx context.Context, orderID int64, event models.OrderEvent) (*models.Order, error)
	ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error)
}

// InventoryAPI is the stock surface the handlers need
type InventoryAPI interface {
	CreateStockItem(ctx context.Context, req *service.CreateStockItemRequest) (*models.StockItem, error)
	GetStockItem(ctx context.Context, productID string) (*models.StockItem, error)
	ListStockItems(ctx context.Context) ([]models.StockItem, error)
	GetReservations(ctx context.Context, orderID int64) ([]models.Reservation, error)
}

type PaymentAPI interface {
	GetPayment(ctx context.Context, orderID int64) (*models.Payment, error)
}

type KitchenAPI interface {
	ActiveOrders(ctx context.Context) ([]models.KitchenOrder, error)
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders    OrderAPI
	inventory InventoryAPI
	payments  PaymentAPI
	kitchen   KitchenAPI
	checks    map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderAPI, inventory InventoryAPI, payments PaymentAPI, kitchen KitchenAPI, checks map[string]Pinger) *Handler {
	return &Handler{
		orders:    orders,
		inventory: inventory,
		payments:  payments,
		kitchen:   kitchen,
		checks:    checks,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/events", h.applyOrderEvent)
		v1.GET("/orders/:id/reservations", h.getReservations)
		v1.GET("/orders/:id/payment", h.getPayment)
		v1.GET("/customers/:id/orders", h.listCustomerOrders)

		v1.POST("/inventory", h.createStockItem)
		v1.GET("/inventory", h.listStockItems)
		v1.GET("/inventory/:productId", h.getStockItem)

		v1.GET("/kitchen/queue", h.kitchenQueue)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"errors": failures,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "Failed to create order", err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.fail(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type orderEventRequest struct {
	Event string `json:"event" binding:"required"`
}

// applyOrderEvent lets operators drive kitchen and delivery steps, or cancel
func (h *Handler) applyOrderEvent(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req orderEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	event, err := lifecycle.ParseEvent(req.Event)
	if err != nil {
		h.fail(c, "Unknown event", err)
		return
	}

	order, err := h.orders.ApplyEvent(c.Request.Context(), orderID, event)
	if err != nil {
		h.fail(c, "Failed to apply event", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) listCustomerOrders(c *gin.Context) {
	customerID, ok := idParam(c, "id")
	if !ok {
		return
	}

	orders, err := h.orders.ListCustomerOrders(c.Request.Context(), customerID)
	if err != nil {
		h.fail(c, "Failed to list orders", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getReservations(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	reservations, err := h.inventory.GetReservations(c.Request.Context(), orderID)
	if err != nil {
		h.fail(c, "Failed to get reservations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

func (h *Handler) getPayment(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), orderID)
	if err != nil {
		h.fail(c, "Failed to get payment", err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *Handler) createStockItem(c *gin.Context) {
	var req service.CreateStockItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item, err := h.inventory.CreateStockItem(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "Failed to create stock item", err)
		return
	}

	c.JSON(http.StatusCreated, stockView(item))
}

func (h *Handler) listStockItems(c *gin.Context) {
	items, err := h.inventory.ListStockItems(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list stock", err)
		return
	}

	views := make([]gin.H, 0, len(items))
	for i := range items {
		views = append(views, stockView(&items[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

func (h *Handler) getStockItem(c *gin.Context) {
	item, err := h.inventory.GetStockItem(c.Request.Context(), c.Param("productId"))
	if err != nil {
		h.fail(c, "Failed to get stock item", err)
		return
	}

	c.JSON(http.StatusOK, stockView(item))
}

func (h *Handler) kitchenQueue(c *gin.Context) {
	orders, err := h.kitchen.ActiveOrders(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to read kitchen queue", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// stockView adds the derived available quantity
func stockView(item *models.StockItem) gin.H {
	return gin.H{
		"product_id":        item.ProductID,
		"product_name":      item.ProductName,
		"quantity":          item.Quantity,
		"reserved_quantity": item.ReservedQuantity,
		"available":         item.Available(),
		"version":           item.Version,
	}
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// fail maps domain errors onto HTTP status codes
func (h *Handler) fail(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConcurrencyConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
