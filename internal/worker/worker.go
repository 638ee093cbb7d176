// Package worker holds the saga glue: thin Kafka consumers that turn events from one
// collaborator into calls on another. Workers never decide business outcomes themselves.
package worker

import (
	"context"

	"pizzaflow/internal/broker"
	"pizzaflow/internal/models"
	"pizzaflow/internal/util"

	"go.uber.org/zap"
)

// OrderEventApplier advances the order state machine.
type OrderEventApplier interface {
	ApplyEvent(ctx context.Context, orderID int64, event models.OrderEvent) (*models.Order, error)
}

// InventoryCoordinator reserves, releases and commits stock for an order.
type InventoryCoordinator interface {
	ReserveOrder(ctx context.Context, orderID int64, products map[string]int) error
	Release(ctx context.Context, orderID int64) error
	Commit(ctx context.Context, orderID int64) error
}

// PaymentProcessor settles a newly created order.
type PaymentProcessor interface {
	ProcessOrder(ctx context.Context, event *models.OrderCreatedEvent) (*models.Payment, error)
}

// KitchenIntake maintains the kitchen's queue of paid orders.
type KitchenIntake interface {
	Enqueue(ctx context.Context, event *models.PaymentResultEvent) (*models.KitchenOrder, error)
	Retire(ctx context.Context, orderID int64, status models.KitchenStatus) error
}

// Worker is one consumer group bound to the handlers that serve it.
type Worker struct {
	name     string
	consumer *broker.Consumer
	handler  *broker.EventHandler
	logger   *zap.Logger
}

func newWorker(name string, handler *broker.EventHandler) *Worker {
	return &Worker{name: name, handler: handler, logger: util.GetLogger().Named(name)}
}

// attach subscribes a consumer group to every topic the handler knows.
func (w *Worker) attach(brokers []string, groupID string) *Worker {
	w.consumer = broker.NewConsumer(brokers, groupID, w.handler.Topics()...)
	return w
}

// Name returns the worker name used in logs
func (w *Worker) Name() string {
	return w.name
}

// Topics returns the topics the worker consumes
func (w *Worker) Topics() []string {
	return w.handler.Topics()
}

// Start consumes until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker", zap.Strings("topics", w.handler.Topics()))
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop closes the consumer
func (w *Worker) Stop() error {
	w.logger.Info("Stopping worker")
	return w.consumer.Close()
}

// settle turns business rejections into a committed message. Anything else is returned so the
// consumer retries the message.
func (w *Worker) settle(err error, orderID int64, action string) error {
	if err == nil {
		return nil
	}
	if models.IsBusinessRejection(err) {
		w.logger.Warn("Event rejected",
			zap.String("action", action),
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return nil
	}
	return err
}

// NewOrderWorker feeds payment and inventory outcomes into the order lifecycle.
func NewOrderWorker(brokers []string, groupID string, orders OrderEventApplier) *Worker {
	return newOrderWorker(orders).attach(brokers, groupID)
}

func newOrderWorker(orders OrderEventApplier) *Worker {
	eh := broker.NewEventHandler()
	w := newWorker("order-worker", eh)

	apply := func(ctx context.Context, orderID int64, event models.OrderEvent) error {
		_, err := orders.ApplyEvent(ctx, orderID, event)
		return w.settle(err, orderID, string(event))
	}

	eh.OnPaymentCompleted(func(ctx context.Context, e *models.PaymentResultEvent) error {
		if e.Status != models.PaymentStatusApproved {
			return apply(ctx, e.OrderID, models.OrderEventPaymentFailure)
		}
		return apply(ctx, e.OrderID, models.OrderEventPaymentSuccess)
	})
	eh.OnPaymentFailed(func(ctx context.Context, e *models.PaymentResultEvent) error {
		return apply(ctx, e.OrderID, models.OrderEventPaymentFailure)
	})
	eh.OnInventoryUnavailable(func(ctx context.Context, e *models.InventoryOutcomeEvent) error {
		return apply(ctx, e.OrderID, models.OrderEventCancel)
	})
	return w
}

// NewInventoryWorker reserves stock for new orders and settles it when the order ends.
func NewInventoryWorker(brokers []string, groupID string, inventory InventoryCoordinator) *Worker {
	return newInventoryWorker(inventory).attach(brokers, groupID)
}

func newInventoryWorker(inventory InventoryCoordinator) *Worker {
	eh := broker.NewEventHandler()
	w := newWorker("inventory-worker", eh)

	eh.OnOrderCreated(func(ctx context.Context, e *models.OrderCreatedEvent) error {
		err := inventory.ReserveOrder(ctx, e.OrderID, e.ProductQuantities())
		if err != nil && models.IsBusinessRejection(err) {
			// holds taken before the rejected product are returned right away
			if releaseErr := inventory.Release(ctx, e.OrderID); releaseErr != nil {
				return releaseErr
			}
		}
		return w.settle(err, e.OrderID, "reserve")
	})
	eh.OnOrderCancelled(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		return w.settle(inventory.Release(ctx, e.OrderID), e.OrderID, "release")
	})
	eh.OnOrderDelivered(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		return w.settle(inventory.Commit(ctx, e.OrderID), e.OrderID, "commit")
	})
	return w
}

// NewPaymentWorker charges every created order once.
func NewPaymentWorker(brokers []string, groupID string, payments PaymentProcessor) *Worker {
	return newPaymentWorker(payments).attach(brokers, groupID)
}

func newPaymentWorker(payments PaymentProcessor) *Worker {
	eh := broker.NewEventHandler()
	w := newWorker("payment-worker", eh)

	eh.OnOrderCreated(func(ctx context.Context, e *models.OrderCreatedEvent) error {
		_, err := payments.ProcessOrder(ctx, e)
		return w.settle(err, e.OrderID, "charge")
	})
	return w
}

// NewKitchenWorker queues paid orders and retires them once the order is over.
func NewKitchenWorker(brokers []string, groupID string, kitchen KitchenIntake) *Worker {
	return newKitchenWorker(kitchen).attach(brokers, groupID)
}

func newKitchenWorker(kitchen KitchenIntake) *Worker {
	eh := broker.NewEventHandler()
	w := newWorker("kitchen-worker", eh)

	eh.OnPaymentCompleted(func(ctx context.Context, e *models.PaymentResultEvent) error {
		_, err := kitchen.Enqueue(ctx, e)
		return w.settle(err, e.OrderID, "enqueue")
	})
	eh.OnOrderCancelled(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		return w.settle(kitchen.Retire(ctx, e.OrderID, models.KitchenStatusCancelled), e.OrderID, "retire")
	})
	eh.OnOrderDelivered(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		return w.settle(kitchen.Retire(ctx, e.OrderID, models.KitchenStatusCompleted), e.OrderID, "retire")
	})
	return w
}
