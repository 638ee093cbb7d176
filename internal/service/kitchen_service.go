package service

import (
	"context"
	"errors"
	"fmt"

	"pizzaflow/internal/models"
	"pizzaflow/internal/util"

	"go.uber.org/zap"
)

// KitchenService keeps the kitchen's projection of paid orders. The database row is the record;
// the Redis queue is a fast view rebuilt from it when lost.
type KitchenService struct {
	kitchen KitchenRepository
	queue   KitchenQueue
	logger  *zap.Logger
}

// NewKitchenService creates a new kitchen service
func NewKitchenService(kitchen KitchenRepository, queue KitchenQueue) *KitchenService {
	return &KitchenService{kitchen: kitchen, queue: queue, logger: util.GetLogger()}
}

// Enqueue accepts a paid order into the kitchen. Non-approved payments and repeats are ignored.
func (ks *KitchenService) Enqueue(ctx context.Context, event *models.PaymentResultEvent) (*models.KitchenOrder, error) {
	ctx, span := util.StartSpan(ctx, "KitchenService.Enqueue")
	defer span.End()

	if event.Status != models.PaymentStatusApproved {
		return nil, nil
	}

	existing, err := ks.kitchen.GetKitchenOrderByOrderID(ctx, event.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	items, err := ks.kitchen.GetOrderItemsByOrderID(ctx, event.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	ko := &models.KitchenOrder{OrderID: event.OrderID, Status: models.KitchenStatusQueued}
	for _, item := range items {
		ko.Items = append(ko.Items, models.KitchenOrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	if err := ks.kitchen.CreateKitchenOrder(ctx, ko); err != nil {
		if errors.Is(err, models.ErrConcurrencyConflict) {
			return ks.kitchen.GetKitchenOrderByOrderID(ctx, event.OrderID)
		}
		return nil, err
	}

	if err := ks.queue.PutKitchenOrder(ctx, ko); err != nil {
		ks.logger.Warn("Failed to add order to kitchen queue", zap.Int64("order_id", ko.OrderID), zap.Error(err))
	}
	util.KitchenQueueSize.Inc()

	ks.logger.Info("Order queued in kitchen", zap.Int64("order_id", ko.OrderID), zap.Int("items", len(ko.Items)))
	return ko, nil
}

// Retire takes an order off the active queue once it is delivered or cancelled.
func (ks *KitchenService) Retire(ctx context.Context, orderID int64, status models.KitchenStatus) error {
	existing, err := ks.kitchen.GetKitchenOrderByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Status == status {
		return nil
	}

	if err := ks.kitchen.UpdateKitchenOrderStatus(ctx, orderID, status); err != nil {
		return err
	}
	if err := ks.queue.RemoveKitchenOrder(ctx, orderID); err != nil {
		ks.logger.Warn("Failed to remove order from kitchen queue", zap.Int64("order_id", orderID), zap.Error(err))
	}
	util.KitchenQueueSize.Dec()
	return nil
}

// ActiveOrders lists the kitchen queue, rebuilding it from the database when Redis is empty
// or unavailable.
func (ks *KitchenService) ActiveOrders(ctx context.Context) ([]models.KitchenOrder, error) {
	orders, err := ks.queue.ListKitchenOrders(ctx)
	if err == nil && len(orders) > 0 {
		return orders, nil
	}
	if err != nil {
		ks.logger.Warn("Kitchen queue unavailable, reading database", zap.Error(err))
	}

	orders, err = ks.kitchen.ListActiveKitchenOrders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if err := ks.queue.PutKitchenOrder(ctx, &orders[i]); err != nil {
			ks.logger.Warn("Failed to repopulate kitchen queue", zap.Error(err))
			break
		}
	}
	util.KitchenQueueSize.Set(float64(len(orders)))
	return orders, nil
}
