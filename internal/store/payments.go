package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pizzaflow/internal/models"
)

// CreatePayment creates a payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, status, transaction_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.q(ctx).GetContext(ctx, payment, query,
		payment.OrderID, payment.Amount, payment.Status, payment.TransactionID)
	return uniqueViolation(err, fmt.Sprintf("payment for order %d", payment.OrderID))
}

// GetPaymentByOrderID retrieves the payment of an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.q(ctx).GetContext(ctx, &payment, `
		SELECT id, order_id, amount, status, transaction_id, created_at, updated_at
		FROM payments WHERE order_id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
