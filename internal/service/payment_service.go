package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pizzaflow/internal/models"
	"pizzaflow/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GatewayResult is the outcome of a charge attempt.
type GatewayResult struct {
	Approved      bool
	TransactionID string
	Reason        string
}

// Gateway charges a customer for an order.
type Gateway interface {
	Charge(ctx context.Context, orderID int64, amount decimal.Decimal) (*GatewayResult, error)
}

// MockGateway approves a configurable share of charges after a simulated delay.
type MockGateway struct {
	approvalRate float64
	latency      time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockGateway creates a mock gateway
func NewMockGateway(approvalRate float64, latency time.Duration) *MockGateway {
	return &MockGateway{
		approvalRate: approvalRate,
		latency:      latency,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Charge simulates a call to a payment provider.
func (g *MockGateway) Charge(ctx context.Context, orderID int64, amount decimal.Decimal) (*GatewayResult, error) {
	g.mu.Lock()
	approved := g.rng.Float64() < g.approvalRate
	var delay time.Duration
	if g.latency > 0 {
		delay = time.Duration(g.rng.Int63n(int64(g.latency)))
	}
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if !approved {
		return &GatewayResult{Approved: false, Reason: "declined by issuer"}, nil
	}
	return &GatewayResult{Approved: true, TransactionID: fmt.Sprintf("TXN-%s", uuid.New().String()[:8])}, nil
}

// PaymentService settles each created order exactly once and reports the outcome through the outbox.
type PaymentService struct {
	tx       TxRunner
	payments PaymentRepository
	recorder EventRecorder
	gateway  Gateway
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(tx TxRunner, payments PaymentRepository, recorder EventRecorder, gateway Gateway) *PaymentService {
	return &PaymentService{
		tx:       tx,
		payments: payments,
		recorder: recorder,
		gateway:  gateway,
		logger:   util.GetLogger(),
	}
}

// ProcessOrder charges the order total. A redelivered ORDER_CREATED returns the payment that
// was already stored and records nothing.
func (ps *PaymentService) ProcessOrder(ctx context.Context, event *models.OrderCreatedEvent) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessOrder")
	defer span.End()

	existing, err := ps.payments.GetPaymentByOrderID(ctx, event.OrderID)
	if err == nil {
		ps.logger.Info("Order already settled", zap.Int64("order_id", event.OrderID), zap.String("status", string(existing.Status)))
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	ps.logger.Info("Processing payment",
		zap.Int64("order_id", event.OrderID),
		zap.String("amount", event.TotalAmount.String()))

	payment := &models.Payment{OrderID: event.OrderID, Amount: event.TotalAmount}
	reason := ""

	result, err := ps.gateway.Charge(ctx, event.OrderID, event.TotalAmount)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		payment.Status = models.PaymentStatusFailed
		reason = err.Error()
	case result.Approved:
		payment.Status = models.PaymentStatusApproved
		payment.TransactionID = result.TransactionID
	default:
		payment.Status = models.PaymentStatusDeclined
		reason = result.Reason
	}

	err = ps.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := ps.payments.CreatePayment(ctx, payment); err != nil {
			return err
		}

		eventType := models.EventTypePaymentFailed
		if payment.Status == models.PaymentStatusApproved {
			eventType = models.EventTypePaymentCompleted
		}
		outcome := models.PaymentResultEvent{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Status:    payment.Status,
			Amount:    payment.Amount,
			Timestamp: payment.CreatedAt,
		}
		// keyed by order so payment results share the order's partition
		return ps.recorder.Record(ctx, orderKey(payment.OrderID), models.AggregatePayment, eventType, outcome)
	})
	if errors.Is(err, models.ErrConcurrencyConflict) {
		return ps.payments.GetPaymentByOrderID(ctx, event.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	util.PaymentResultsTotal.WithLabelValues(string(payment.Status)).Inc()
	if payment.Status == models.PaymentStatusApproved {
		ps.logger.Info("Payment succeeded",
			zap.Int64("order_id", payment.OrderID),
			zap.String("tx_id", payment.TransactionID))
	} else {
		ps.logger.Warn("Payment not approved",
			zap.Int64("order_id", payment.OrderID),
			zap.String("status", string(payment.Status)),
			zap.String("reason", reason))
	}
	return payment, nil
}

// GetPayment retrieves payment for an order
func (ps *PaymentService) GetPayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	return ps.payments.GetPaymentByOrderID(ctx, orderID)
}
