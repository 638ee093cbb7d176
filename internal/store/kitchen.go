package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pizzaflow/internal/models"
)

type kitchenOrderRow struct {
	ID        int64                `db:"id"`
	OrderID   int64                `db:"order_id"`
	Status    models.KitchenStatus `db:"status"`
	Items     []byte               `db:"items"`
	CreatedAt time.Time            `db:"created_at"`
}

func (r kitchenOrderRow) toModel() (models.KitchenOrder, error) {
	ko := models.KitchenOrder{ID: r.ID, OrderID: r.OrderID, Status: r.Status, CreatedAt: r.CreatedAt}
	if len(r.Items) > 0 {
		if err := json.Unmarshal(r.Items, &ko.Items); err != nil {
			return ko, fmt.Errorf("kitchen order %d items: %w", r.OrderID, err)
		}
	}
	return ko, nil
}

// CreateKitchenOrder inserts the kitchen projection of an order. Items are kept as JSON.
func (s *Store) CreateKitchenOrder(ctx context.Context, ko *models.KitchenOrder) error {
	items, err := json.Marshal(ko.Items)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO kitchen_orders (order_id, status, items)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	row := struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}{}
	if err := s.q(ctx).GetContext(ctx, &row, query, ko.OrderID, ko.Status, string(items)); err != nil {
		return uniqueViolation(err, fmt.Sprintf("kitchen order %d", ko.OrderID))
	}
	ko.ID, ko.CreatedAt = row.ID, row.CreatedAt
	return nil
}

// GetKitchenOrderByOrderID returns nil when the order never reached the kitchen.
func (s *Store) GetKitchenOrderByOrderID(ctx context.Context, orderID int64) (*models.KitchenOrder, error) {
	var row kitchenOrderRow
	err := s.q(ctx).GetContext(ctx, &row,
		"SELECT id, order_id, status, items, created_at FROM kitchen_orders WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ko, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &ko, nil
}

// ListActiveKitchenOrders returns orders the kitchen has not completed, oldest first.
func (s *Store) ListActiveKitchenOrders(ctx context.Context) ([]models.KitchenOrder, error) {
	var rows []kitchenOrderRow
	err := s.q(ctx).SelectContext(ctx, &rows, `
		SELECT id, order_id, status, items, created_at
		FROM kitchen_orders WHERE status NOT IN ($1, $2) ORDER BY created_at`,
		models.KitchenStatusCompleted, models.KitchenStatusCancelled)
	if err != nil {
		return nil, err
	}

	orders := make([]models.KitchenOrder, 0, len(rows))
	for _, r := range rows {
		ko, err := r.toModel()
		if err != nil {
			return nil, err
		}
		orders = append(orders, ko)
	}
	return orders, nil
}

// UpdateKitchenOrderStatus sets the kitchen status of an order. Missing rows are ignored.
func (s *Store) UpdateKitchenOrderStatus(ctx context.Context, orderID int64, status models.KitchenStatus) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE kitchen_orders SET status = $1 WHERE order_id = $2", status, orderID)
	return err
}
