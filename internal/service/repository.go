package service

import (
	"context"

	"pizzaflow/internal/models"
)

// TxRunner runs fn in one database transaction carried by ctx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventRecorder appends an outbox row inside the transaction carried by ctx.
type EventRecorder interface {
	Record(ctx context.Context, aggregateID, aggregateType, eventType string, payload interface{}) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) error
	GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

type StockRepository interface {
	CreateStockItem(ctx context.Context, item *models.StockItem) error
	GetStockItemByProductID(ctx context.Context, productID string) (*models.StockItem, error)
	GetStockItemByID(ctx context.Context, id int64) (*models.StockItem, error)
	ListStockItems(ctx context.Context) ([]models.StockItem, error)
	UpdateStockItem(ctx context.Context, item *models.StockItem) error
	GetReservation(ctx context.Context, orderID, stockItemID int64) (*models.Reservation, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	ListReservationsByOrder(ctx context.Context, orderID int64, status models.ReservationStatus) ([]models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, from, to models.ReservationStatus) error
	LockOrderInventory(ctx context.Context, orderID int64) error
	MarkOrderReleased(ctx context.Context, orderID int64) error
	IsOrderReleased(ctx context.Context, orderID int64) (bool, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
}

type KitchenRepository interface {
	CreateKitchenOrder(ctx context.Context, ko *models.KitchenOrder) error
	GetKitchenOrderByOrderID(ctx context.Context, orderID int64) (*models.KitchenOrder, error)
	ListActiveKitchenOrders(ctx context.Context) ([]models.KitchenOrder, error)
	UpdateKitchenOrderStatus(ctx context.Context, orderID int64, status models.KitchenStatus) error
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// StockCache is a best-effort snapshot store for stock reads.
type StockCache interface {
	CacheStock(ctx context.Context, item *models.StockItem) error
	GetCachedStock(ctx context.Context, productID string) (*models.StockItem, error)
}

// KitchenQueue is the fast read model of the kitchen's active orders.
type KitchenQueue interface {
	PutKitchenOrder(ctx context.Context, ko *models.KitchenOrder) error
	RemoveKitchenOrder(ctx context.Context, orderID int64) error
	ListKitchenOrders(ctx context.Context) ([]models.KitchenOrder, error)
}
