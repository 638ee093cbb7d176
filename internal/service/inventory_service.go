package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pizzaflow/internal/models"
	"pizzaflow/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// InventoryOptions bounds the optimistic concurrency retry loop.
type InventoryOptions struct {
	ConflictMaxRetries     uint64
	ConflictInitialBackoff time.Duration
}

// DefaultInventoryOptions returns the production retry policy.
func DefaultInventoryOptions() InventoryOptions {
	return InventoryOptions{ConflictMaxRetries: 5, ConflictInitialBackoff: 20 * time.Millisecond}
}

// InventoryService is the reservation coordinator. Stock items are written with a version
// compare-and-swap; a lost race restarts the whole operation from a fresh read.
type InventoryService struct {
	tx       TxRunner
	stock    StockRepository
	recorder EventRecorder
	cache    StockCache
	opts     InventoryOptions
	logger   *zap.Logger
}

// NewInventoryService creates a new inventory service. cache may be nil.
func NewInventoryService(tx TxRunner, stock StockRepository, recorder EventRecorder, cache StockCache, opts InventoryOptions) *InventoryService {
	if opts.ConflictMaxRetries == 0 {
		opts.ConflictMaxRetries = DefaultInventoryOptions().ConflictMaxRetries
	}
	if opts.ConflictInitialBackoff <= 0 {
		opts.ConflictInitialBackoff = DefaultInventoryOptions().ConflictInitialBackoff
	}
	return &InventoryService{
		tx:       tx,
		stock:    stock,
		recorder: recorder,
		cache:    cache,
		opts:     opts,
		logger:   util.GetLogger(),
	}
}

// CreateStockItemRequest represents a request to register stock for a product
type CreateStockItemRequest struct {
	ProductID   string `json:"product_id" binding:"required"`
	ProductName string `json:"product_name" binding:"required"`
	Quantity    int    `json:"quantity" binding:"min=0"`
}

// CreateStockItem registers a product with its on-hand quantity.
func (s *InventoryService) CreateStockItem(ctx context.Context, req *CreateStockItemRequest) (*models.StockItem, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CreateStockItem")
	defer span.End()

	if strings.TrimSpace(req.ProductID) == "" || req.Quantity < 0 {
		return nil, fmt.Errorf("%w: product_id is required and quantity must not be negative", models.ErrInvalidInput)
	}

	item := &models.StockItem{ProductID: req.ProductID, ProductName: req.ProductName, Quantity: req.Quantity}
	if err := s.stock.CreateStockItem(ctx, item); err != nil {
		if errors.Is(err, models.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("%w: product %s already stocked", models.ErrInvalidInput, req.ProductID)
		}
		return nil, fmt.Errorf("failed to create stock item: %w", err)
	}

	s.refreshCache(ctx, item)
	s.logger.Info("Stock item created", zap.String("product_id", item.ProductID), zap.Int("quantity", item.Quantity))
	return item, nil
}

// GetStockItem reads the cached snapshot first and falls back to the database.
func (s *InventoryService) GetStockItem(ctx context.Context, productID string) (*models.StockItem, error) {
	if s.cache != nil {
		item, err := s.cache.GetCachedStock(ctx, productID)
		if err != nil {
			s.logger.Warn("Stock cache read failed", zap.String("product_id", productID), zap.Error(err))
		}
		if item != nil {
			return item, nil
		}
	}

	item, err := s.stock.GetStockItemByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, item)
	return item, nil
}

// ListStockItems returns every stock item from the database.
func (s *InventoryService) ListStockItems(ctx context.Context) ([]models.StockItem, error) {
	return s.stock.ListStockItems(ctx)
}

// GetReservations returns every reservation of an order.
func (s *InventoryService) GetReservations(ctx context.Context, orderID int64) ([]models.Reservation, error) {
	return s.stock.ListReservationsByOrder(ctx, orderID, "")
}

// WarmCache loads every stock item into the cache.
func (s *InventoryService) WarmCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	items, err := s.stock.ListStockItems(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		if err := s.cache.CacheStock(ctx, &items[i]); err != nil {
			return fmt.Errorf("failed to cache %s: %w", items[i].ProductID, err)
		}
	}
	s.logger.Info("Stock cache warmed", zap.Int("items", len(items)))
	return nil
}

// Reserve holds quantity units of productID for orderID. A second call for the same
// (order, product) returns the existing reservation without touching stock.
// An order that was already released is refused with ErrInvalidTransition.
func (s *InventoryService) Reserve(ctx context.Context, orderID int64, productID string, quantity int) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer span.End()

	return s.reserve(ctx, orderID, productID, quantity, nil)
}

// reserve runs reserveOne under the conflict retry loop. then, when set, runs in the same
// transaction after the hold and rolls it back if it fails.
func (s *InventoryService) reserve(
	ctx context.Context,
	orderID int64,
	productID string,
	quantity int,
	then func(ctx context.Context) error,
) (*models.Reservation, error) {
	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidInput)
	}

	var (
		reservation *models.Reservation
		changed     *models.StockItem
	)
	err := s.retryOnConflict(ctx, func(ctx context.Context) error {
		var err error
		reservation, changed, err = s.reserveOne(ctx, orderID, productID, quantity)
		if err != nil {
			return err
		}
		if then != nil {
			return then(ctx)
		}
		return nil
	})
	if err != nil {
		outcome := "error"
		if models.IsBusinessRejection(err) {
			outcome = "rejected"
		}
		util.InventoryReservationsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}

	if changed != nil {
		util.InventoryReservationsTotal.WithLabelValues("reserved").Inc()
		s.refreshCache(ctx, changed)
		s.logger.Info("Stock reserved",
			zap.Int64("order_id", orderID),
			zap.String("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Int("available", changed.Available()))
	}
	return reservation, nil
}

// reserveOne must run inside a transaction. changed is nil when an existing hold was returned.
func (s *InventoryService) reserveOne(ctx context.Context, orderID int64, productID string, quantity int) (*models.Reservation, *models.StockItem, error) {
	if err := s.stock.LockOrderInventory(ctx, orderID); err != nil {
		return nil, nil, err
	}
	released, err := s.stock.IsOrderReleased(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if released {
		return nil, nil, fmt.Errorf("%w: order %d was already released", models.ErrInvalidTransition, orderID)
	}

	item, err := s.stock.GetStockItemByProductID(ctx, productID)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.stock.GetReservation(ctx, orderID, item.ID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		if existing.Status == models.ReservationStatusReleased {
			return nil, nil, fmt.Errorf("%w: reservation of %s for order %d was already released",
				models.ErrInvalidTransition, productID, orderID)
		}
		return existing, nil, nil
	}

	if err := item.Reserve(quantity); err != nil {
		return nil, nil, err
	}
	if err := s.stock.UpdateStockItem(ctx, item); err != nil {
		return nil, nil, err
	}

	r := &models.Reservation{
		OrderID:     orderID,
		StockItemID: item.ID,
		ProductID:   item.ProductID,
		Quantity:    quantity,
		Status:      models.ReservationStatusReserved,
	}
	if err := s.stock.CreateReservation(ctx, r); err != nil {
		return nil, nil, err
	}
	return r, item, nil
}

// ReserveOrder reserves every product of an order in productId order and records the outcome.
// INVENTORY_RESERVED commits in the same transaction as the last hold. It is not atomic
// across products: holds taken before a rejection stay until Release.
func (s *InventoryService) ReserveOrder(ctx context.Context, orderID int64, products map[string]int) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReserveOrder")
	defer span.End()

	productIDs := make([]string, 0, len(products))
	for productID := range products {
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	reserved := func(ctx context.Context) error {
		outcome := models.InventoryOutcomeEvent{
			OrderID:  orderID,
			Status:   models.InventoryStatusReserved,
			Products: products,
		}
		return s.recorder.Record(ctx, orderKey(orderID), models.AggregateInventory, models.EventTypeInventoryReserved, outcome)
	}
	if len(productIDs) == 0 {
		return s.tx.WithTx(ctx, reserved)
	}

	for i, productID := range productIDs {
		var then func(ctx context.Context) error
		if i == len(productIDs)-1 {
			then = reserved
		}
		if _, err := s.reserve(ctx, orderID, productID, products[productID], then); err != nil {
			if !models.IsBusinessRejection(err) {
				return err
			}

			s.logger.Warn("Order cannot be fully reserved",
				zap.Int64("order_id", orderID),
				zap.String("product_id", productID),
				zap.Error(err))
			outcome := models.InventoryOutcomeEvent{
				OrderID:  orderID,
				Status:   models.InventoryStatusUnavailable,
				Products: products,
				Reason:   err.Error(),
			}
			if recErr := s.recordOutcome(ctx, models.EventTypeInventoryUnavailable, outcome); recErr != nil {
				return recErr
			}
			return err
		}
	}
	return nil
}

// Release returns every held unit of an order to available stock and marks the order released,
// so a reservation arriving later is refused. Calling it again is a no-op.
func (s *InventoryService) Release(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release")
	defer span.End()

	changed, err := s.settle(ctx, orderID, models.ReservationStatusReleased, models.EventTypeInventoryReleased,
		models.InventoryStatusReleased, s.stock.MarkOrderReleased, func(item *models.StockItem, quantity int) error {
			item.Release(quantity)
			return nil
		})
	if err != nil {
		return err
	}

	if len(changed) > 0 {
		util.InventoryReservationsTotal.WithLabelValues("released").Inc()
		s.logger.Info("Reservations released", zap.Int64("order_id", orderID), zap.Int("items", len(changed)))
	}
	return nil
}

// Commit deducts every held unit of an order from on-hand stock. Calling it again is a no-op.
func (s *InventoryService) Commit(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Commit")
	defer span.End()

	changed, err := s.settle(ctx, orderID, models.ReservationStatusConfirmed, models.EventTypeInventoryCommitted,
		models.InventoryStatusCommitted, nil, func(item *models.StockItem, quantity int) error {
			return item.Commit(quantity)
		})
	if err != nil {
		return err
	}

	if len(changed) > 0 {
		util.InventoryReservationsTotal.WithLabelValues("committed").Inc()
		s.logger.Info("Reservations committed", zap.Int64("order_id", orderID), zap.Int("items", len(changed)))
	}
	return nil
}

// settle moves every RESERVED reservation of an order to target, applying adjust to its item.
// mark, when set, runs under the order lock even if nothing is held.
func (s *InventoryService) settle(
	ctx context.Context,
	orderID int64,
	target models.ReservationStatus,
	eventType, outcomeStatus string,
	mark func(ctx context.Context, orderID int64) error,
	adjust func(item *models.StockItem, quantity int) error,
) ([]*models.StockItem, error) {
	var changed []*models.StockItem
	err := s.retryOnConflict(ctx, func(ctx context.Context) error {
		changed = nil

		if err := s.stock.LockOrderInventory(ctx, orderID); err != nil {
			return err
		}
		if mark != nil {
			if err := mark(ctx, orderID); err != nil {
				return err
			}
		}

		reservations, err := s.stock.ListReservationsByOrder(ctx, orderID, models.ReservationStatusReserved)
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return nil
		}

		products := make(map[string]int, len(reservations))
		for _, r := range reservations {
			item, err := s.stock.GetStockItemByID(ctx, r.StockItemID)
			if err != nil {
				return err
			}
			if err := adjust(item, r.Quantity); err != nil {
				return err
			}
			if err := s.stock.UpdateStockItem(ctx, item); err != nil {
				return err
			}
			if err := s.stock.UpdateReservationStatus(ctx, r.ID, models.ReservationStatusReserved, target); err != nil {
				return err
			}
			products[item.ProductID] += r.Quantity
			changed = append(changed, item)
		}

		outcome := models.InventoryOutcomeEvent{OrderID: orderID, Status: outcomeStatus, Products: products}
		return s.recorder.Record(ctx, orderKey(orderID), models.AggregateInventory, eventType, outcome)
	})
	if err != nil {
		return nil, err
	}

	for _, item := range changed {
		s.refreshCache(ctx, item)
	}
	return changed, nil
}

func (s *InventoryService) recordOutcome(ctx context.Context, eventType string, outcome models.InventoryOutcomeEvent) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.recorder.Record(ctx, orderKey(outcome.OrderID), models.AggregateInventory, eventType, outcome)
	})
}

// retryOnConflict runs fn in a transaction and repeats it from scratch on ErrConcurrencyConflict.
// Any other error ends the loop immediately.
func (s *InventoryService) retryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.ConflictInitialBackoff
	policy.MaxElapsedTime = 0

	attempt := func() error {
		err := s.tx.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrConcurrencyConflict) {
			util.InventoryConflictsTotal.Inc()
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, s.opts.ConflictMaxRetries), ctx))
}

func (s *InventoryService) refreshCache(ctx context.Context, item *models.StockItem) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheStock(ctx, item); err != nil {
		s.logger.Warn("Failed to refresh stock cache", zap.String("product_id", item.ProductID), zap.Error(err))
	}
}
