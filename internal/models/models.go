package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. Only the lifecycle package decides transitions.
type OrderStatus string

// Order statuses
const (
	OrderStatusPending          OrderStatus = "PENDING"
	OrderStatusPaid             OrderStatus = "PAID"
	OrderStatusPreparing        OrderStatus = "PREPARING"
	OrderStatusReadyForDelivery OrderStatus = "READY_FOR_DELIVERY"
	OrderStatusOutForDelivery   OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"

	// OrderStatusCompleted is accepted on input as an alias of DELIVERED and never stored.
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// OrderEvent is an input to the order state machine.
type OrderEvent string

// Order events
const (
	OrderEventPaymentSuccess    OrderEvent = "PAYMENT_SUCCESS"
	OrderEventPaymentFailure    OrderEvent = "PAYMENT_FAILURE"
	OrderEventKitchenAccepted   OrderEvent = "KITCHEN_ACCEPTED"
	OrderEventKitchenReady      OrderEvent = "KITCHEN_READY"
	OrderEventCourierAssigned   OrderEvent = "COURIER_ASSIGNED"
	OrderEventDeliveryCompleted OrderEvent = "DELIVERY_COMPLETED"
	OrderEventCancel            OrderEvent = "CANCEL"
)

// Order represents a customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	CustomerID     int64           `db:"customer_id" json:"customer_id"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status         OrderStatus     `db:"status" json:"status"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// StockItem is the per-product quantity ledger. Version is the optimistic concurrency token.
type StockItem struct {
	ID               int64     `db:"id" json:"id"`
	ProductID        string    `db:"product_id" json:"product_id"`
	ProductName      string    `db:"product_name" json:"product_name"`
	Quantity         int       `db:"quantity" json:"quantity"`
	ReservedQuantity int       `db:"reserved_quantity" json:"reserved_quantity"`
	Version          int64     `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Available is derived and never stored.
func (s *StockItem) Available() int {
	return s.Quantity - s.ReservedQuantity
}

// CanReserve reports whether quantity units can be held.
func (s *StockItem) CanReserve(quantity int) bool {
	return quantity > 0 && s.Available() >= quantity
}

// Reserve holds quantity units.
func (s *StockItem) Reserve(quantity int) error {
	if !s.CanReserve(quantity) {
		return fmt.Errorf("%w: product %s available=%d requested=%d",
			ErrInsufficientStock, s.ProductID, s.Available(), quantity)
	}
	s.ReservedQuantity += quantity
	return nil
}

// Release returns held units to available stock, floored at zero.
func (s *StockItem) Release(quantity int) {
	s.ReservedQuantity -= quantity
	if s.ReservedQuantity < 0 {
		s.ReservedQuantity = 0
	}
}

// Commit deducts held units from on-hand stock.
func (s *StockItem) Commit(quantity int) error {
	if quantity > s.ReservedQuantity || quantity > s.Quantity {
		return fmt.Errorf("cannot commit %d units of %s: quantity=%d reserved=%d",
			quantity, s.ProductID, s.Quantity, s.ReservedQuantity)
	}
	s.Quantity -= quantity
	s.ReservedQuantity -= quantity
	return nil
}

// ReservationStatus tracks one order's hold on one stock item.
type ReservationStatus string

// Reservation statuses
const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
)

// Reservation is unique per (order, stock item).
type Reservation struct {
	ID          int64             `db:"id" json:"id"`
	OrderID     int64             `db:"order_id" json:"order_id"`
	StockItemID int64             `db:"stock_item_id" json:"stock_item_id"`
	ProductID   string            `db:"product_id" json:"product_id"`
	Quantity    int               `db:"quantity" json:"quantity"`
	Status      ReservationStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

// Outbox statuses
const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// OutboxEvent is an event waiting for delivery to the broker. Rows are never deleted.
type OutboxEvent struct {
	ID            int64        `db:"id" json:"id"`
	AggregateID   string       `db:"aggregate_id" json:"aggregate_id"`
	AggregateType string       `db:"aggregate_type" json:"aggregate_type"`
	EventType     string       `db:"event_type" json:"event_type"`
	Payload       string       `db:"payload" json:"payload"`
	Status        OutboxStatus `db:"status" json:"status"`
	RetryCount    int          `db:"retry_count" json:"retry_count"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	LastAttemptAt *time.Time   `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	ProcessedAt   *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
}

// PaymentStatus is the gateway outcome of a payment.
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusApproved PaymentStatus = "APPROVED"
	PaymentStatusDeclined PaymentStatus = "DECLINED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

// Payment represents a payment transaction
type Payment struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Status        PaymentStatus   `db:"status" json:"status"`
	TransactionID string          `db:"transaction_id" json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// KitchenStatus is the preparation state in the kitchen read model.
type KitchenStatus string

// Kitchen statuses
const (
	KitchenStatusQueued    KitchenStatus = "QUEUED"
	KitchenStatusPreparing KitchenStatus = "PREPARING"
	KitchenStatusReady     KitchenStatus = "READY"
	KitchenStatusCompleted KitchenStatus = "COMPLETED"
	KitchenStatusCancelled KitchenStatus = "CANCELLED"
)

// KitchenOrder is the kitchen's projection of a paid order.
type KitchenOrder struct {
	ID        int64              `db:"id" json:"id"`
	OrderID   int64              `db:"order_id" json:"order_id"`
	Status    KitchenStatus      `db:"status" json:"status"`
	Items     []KitchenOrderItem `db:"-" json:"items"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
}

// KitchenOrderItem is a line the kitchen has to prepare.
type KitchenOrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
