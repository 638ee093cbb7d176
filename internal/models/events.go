package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outbox event types
const (
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderCancelled       = "ORDER_CANCELLED"
	EventTypeOrderDelivered       = "ORDER_DELIVERED"
	EventTypePaymentCompleted     = "PAYMENT_COMPLETED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
	EventTypeInventoryReserved    = "INVENTORY_RESERVED"
	EventTypeInventoryUnavailable = "INVENTORY_UNAVAILABLE"
	EventTypeInventoryReleased    = "INVENTORY_RELEASED"
	EventTypeInventoryCommitted   = "INVENTORY_COMMITTED"
)

// Aggregate types recorded on outbox rows
const (
	AggregateOrder     = "ORDER"
	AggregatePayment   = "PAYMENT"
	AggregateInventory = "INVENTORY"
)

// Broker topics
const (
	TopicOrderCreated         = "order.created"
	TopicOrderCancelled       = "order.cancelled"
	TopicOrderDelivered       = "order.delivered"
	TopicPaymentCompleted     = "payment.completed"
	TopicPaymentFailed        = "payment.failed"
	TopicInventoryReserved    = "inventory.reserved"
	TopicInventoryUnavailable = "inventory.unavailable"
	TopicInventoryEvents      = "inventory.events"
)

// Payload field names are camelCase to stay wire compatible with the other services.

// OrderCreatedEvent published when order is created
type OrderCreatedEvent struct {
	OrderID     int64           `json:"orderId"`
	CustomerID  int64           `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []OrderItemData `json:"items"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// ProductQuantities sums quantities per product; an order may list a product twice.
func (e *OrderCreatedEvent) ProductQuantities() map[string]int {
	products := make(map[string]int, len(e.Items))
	for _, item := range e.Items {
		products[item.ProductID] += item.Quantity
	}
	return products
}

// PaymentResultEvent published by the payment collaborator
type PaymentResultEvent struct {
	PaymentID int64           `json:"paymentId"`
	OrderID   int64           `json:"orderId"`
	Status    PaymentStatus   `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Inventory outcome statuses
const (
	InventoryStatusReserved    = "RESERVED"
	InventoryStatusUnavailable = "UNAVAILABLE"
	InventoryStatusReleased    = "RELEASED"
	InventoryStatusCommitted   = "COMMITTED"
)

// InventoryOutcomeEvent published when a reservation decision or adjustment is made
type InventoryOutcomeEvent struct {
	OrderID  int64          `json:"orderId"`
	Status   string         `json:"status"`
	Products map[string]int `json:"products,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// OrderStatusChangedEvent published when an order enters CANCELLED or DELIVERED
type OrderStatusChangedEvent struct {
	OrderID   int64       `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Event     OrderEvent  `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
}
