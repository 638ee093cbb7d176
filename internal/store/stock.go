package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pizzaflow/internal/models"
)

const stockColumns = "id, product_id, product_name, quantity, reserved_quantity, version, created_at, updated_at"

// CreateStockItem inserts a new stock item at version 0.
func (s *Store) CreateStockItem(ctx context.Context, item *models.StockItem) error {
	query := `
		INSERT INTO stock_items (product_id, product_name, quantity, reserved_quantity, version)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING id, version, created_at, updated_at`

	err := s.q(ctx).GetContext(ctx, item, query,
		item.ProductID, item.ProductName, item.Quantity, item.ReservedQuantity)
	return uniqueViolation(err, "stock item "+item.ProductID)
}

// GetStockItemByProductID retrieves a stock item by its product id
func (s *Store) GetStockItemByProductID(ctx context.Context, productID string) (*models.StockItem, error) {
	return s.getStockItem(ctx, "SELECT "+stockColumns+" FROM stock_items WHERE product_id = $1", productID)
}

// GetStockItemByID retrieves a stock item by id
func (s *Store) GetStockItemByID(ctx context.Context, id int64) (*models.StockItem, error) {
	return s.getStockItem(ctx, "SELECT "+stockColumns+" FROM stock_items WHERE id = $1", id)
}

func (s *Store) getStockItem(ctx context.Context, query string, arg interface{}) (*models.StockItem, error) {
	var item models.StockItem
	err := s.q(ctx).GetContext(ctx, &item, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stock item %v: %w", arg, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListStockItems returns all stock items ordered by product id
func (s *Store) ListStockItems(ctx context.Context) ([]models.StockItem, error) {
	items := []models.StockItem{}
	err := s.q(ctx).SelectContext(ctx, &items, "SELECT "+stockColumns+" FROM stock_items ORDER BY product_id")
	return items, err
}

// UpdateStockItem writes quantities only if the stored version still equals item.Version.
// On success item.Version is advanced. Zero rows affected means another writer got there first.
func (s *Store) UpdateStockItem(ctx context.Context, item *models.StockItem) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = $1, reserved_quantity = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`,
		item.Quantity, item.ReservedQuantity, item.ID, item.Version)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, fmt.Sprintf("stock item %s version %d", item.ProductID, item.Version)); err != nil {
		return err
	}
	item.Version++
	return nil
}

const reservationColumns = `r.id, r.order_id, r.stock_item_id, s.product_id, r.quantity, r.status, r.created_at, r.updated_at`

// GetReservation returns the reservation for (orderID, stockItemID), or nil when none exists.
func (s *Store) GetReservation(ctx context.Context, orderID, stockItemID int64) (*models.Reservation, error) {
	var r models.Reservation
	err := s.q(ctx).GetContext(ctx, &r, `
		SELECT `+reservationColumns+`
		FROM stock_reservations r JOIN stock_items s ON s.id = r.stock_item_id
		WHERE r.order_id = $1 AND r.stock_item_id = $2`, orderID, stockItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReservation inserts a reservation row
func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO stock_reservations (order_id, stock_item_id, quantity, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.q(ctx).GetContext(ctx, r, query, r.OrderID, r.StockItemID, r.Quantity, r.Status)
	return uniqueViolation(err, fmt.Sprintf("reservation for order %d item %d", r.OrderID, r.StockItemID))
}

// ListReservationsByOrder returns every reservation of an order, optionally filtered by status.
func (s *Store) ListReservationsByOrder(ctx context.Context, orderID int64, status models.ReservationStatus) ([]models.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations r JOIN stock_items s ON s.id = r.stock_item_id
		WHERE r.order_id = $1`
	args := []interface{}{orderID}
	if status != "" {
		query += " AND r.status = $2"
		args = append(args, status)
	}
	query += " ORDER BY s.product_id"

	reservations := []models.Reservation{}
	err := s.q(ctx).SelectContext(ctx, &reservations, query, args...)
	return reservations, err
}

// UpdateReservationStatus moves a reservation out of from; zero rows means it was already moved.
func (s *Store) UpdateReservationStatus(ctx context.Context, id int64, from, to models.ReservationStatus) error {
	res, err := s.q(ctx).ExecContext(ctx,
		"UPDATE stock_reservations SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Sprintf("reservation %d status %s", id, from))
}

// LockOrderInventory takes a transaction-scoped advisory lock on orderID so reservation
// and release of the same order never interleave. It needs a transaction to be useful.
func (s *Store) LockOrderInventory(ctx context.Context, orderID int64) error {
	if !s.InTx(ctx) {
		return models.ErrNoTransaction
	}
	_, err := s.q(ctx).ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", orderID)
	return err
}

// MarkOrderReleased remembers that orderID was released. Marking twice is a no-op.
func (s *Store) MarkOrderReleased(ctx context.Context, orderID int64) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"INSERT INTO released_orders (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING", orderID)
	return err
}

// IsOrderReleased reports whether orderID carries a release marker.
func (s *Store) IsOrderReleased(ctx context.Context, orderID int64) (bool, error) {
	var released bool
	err := s.q(ctx).GetContext(ctx, &released,
		"SELECT EXISTS (SELECT 1 FROM released_orders WHERE order_id = $1)", orderID)
	return released, err
}
