package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pizzaflow/internal/lifecycle"
	"pizzaflow/internal/models"
	"pizzaflow/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService handles order business logic. It is the only writer of order status.
type OrderService struct {
	tx       TxRunner
	orders   OrderRepository
	recorder EventRecorder
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(tx TxRunner, orders OrderRepository, recorder EventRecorder) *OrderService {
	return &OrderService{
		tx:       tx,
		orders:   orders,
		recorder: recorder,
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID     int64              `json:"customer_id" binding:"required"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (r *CreateOrderRequest) validate() error {
	if r.CustomerID <= 0 {
		return fmt.Errorf("%w: customer_id must be positive", models.ErrInvalidInput)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: order has no items", models.ErrInvalidInput)
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product_id", models.ErrInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", models.ErrInvalidInput, i)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d unit_price must not be negative", models.ErrInvalidInput, i)
		}
	}
	return nil
}

// CreateOrder stores a PENDING order with its items and records ORDER_CREATED in the same
// transaction. Repeating a request with the same idempotency key returns the first order.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return existing, nil
	}

	order := &models.Order{
		CustomerID:     req.CustomerID,
		TotalAmount:    calculateTotal(req.Items),
		Status:         lifecycle.Initial,
		IdempotencyKey: req.IdempotencyKey,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orders.CreateOrder(ctx, order); err != nil {
			return err
		}

		event := models.OrderCreatedEvent{
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
			TotalAmount: order.TotalAmount,
			Items:       make([]models.OrderItemData, 0, len(req.Items)),
			CreatedAt:   order.CreatedAt,
		}
		for _, item := range req.Items {
			orderItem := &models.OrderItem{
				OrderID:   order.ID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			}
			if err := s.orders.CreateOrderItem(ctx, orderItem); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			event.Items = append(event.Items, models.OrderItemData{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}

		return s.recorder.Record(ctx, orderKey(order.ID), models.AggregateOrder, models.EventTypeOrderCreated, event)
	})
	if errors.Is(err, models.ErrConcurrencyConflict) {
		// a concurrent request with the same key won the insert
		if existing, lookupErr := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
		zap.String("total", order.TotalAmount.String()))

	return order, nil
}

// ApplyEvent drives the order state machine. The order row is locked for the read-modify-write.
// Redelivery of an event that was already applied returns the order unchanged.
func (s *OrderService) ApplyEvent(ctx context.Context, orderID int64, event models.OrderEvent) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyEvent")
	defer span.End()

	var result *models.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if lifecycle.AlreadyApplied(order.Status, event) {
			s.logger.Info("Order event already applied",
				zap.Int64("order_id", orderID),
				zap.String("status", string(order.Status)),
				zap.String("event", string(event)))
			result = order
			return nil
		}

		from := order.Status
		to, err := lifecycle.Next(from, event)
		if err != nil {
			util.OrderInvalidTransitionsTotal.WithLabelValues(string(from), string(event)).Inc()
			return err
		}

		if err := s.orders.UpdateOrderStatus(ctx, orderID, from, to); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		order.Status = to
		order.UpdatedAt = time.Now()

		if eventType, ok := statusEventType(to); ok {
			changed := models.OrderStatusChangedEvent{
				OrderID:   orderID,
				Status:    to,
				Event:     event,
				Timestamp: order.UpdatedAt,
			}
			if err := s.recorder.Record(ctx, orderKey(orderID), models.AggregateOrder, eventType, changed); err != nil {
				return err
			}
		}

		util.OrderTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		s.logger.Info("Order status changed",
			zap.Int64("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("event", string(event)))
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// ListCustomerOrders returns a customer's orders, newest first.
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	return s.orders.GetOrdersByCustomerID(ctx, customerID)
}

func calculateTotal(items []OrderItemRequest) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func statusEventType(status models.OrderStatus) (string, bool) {
	switch status {
	case models.OrderStatusCancelled:
		return models.EventTypeOrderCancelled, true
	case models.OrderStatusDelivered:
		return models.EventTypeOrderDelivered, true
	}
	return "", false
}

// orderKey is the outbox aggregate id and Kafka key for everything that concerns one order.
func orderKey(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
