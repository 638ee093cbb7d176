package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pizzaflow/internal/models"
	"pizzaflow/internal/outbox"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrders(db *memStore) *OrderService {
	return NewOrderService(db, db, outbox.NewRecorder(db))
}

func pizzaRequest(key string) *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerID:     7,
		IdempotencyKey: key,
		Items: []OrderItemRequest{
			{ProductID: "margherita", Quantity: 2, UnitPrice: decimal.RequireFromString("9.50")},
			{ProductID: "cola", Quantity: 1, UnitPrice: decimal.RequireFromString("2.25")},
		},
	}
}

func TestCalculateTotal(t *testing.T) {
	total := calculateTotal(pizzaRequest("").Items)
	assert.True(t, decimal.RequireFromString("21.25").Equal(total), total.String())
}

func TestCreateOrderRecordsOrderCreated(t *testing.T) {
	db := newMemStore()
	svc := newOrders(db)

	order, err := svc.CreateOrder(context.Background(), pizzaRequest("k-1"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	events := db.outboxEvents(models.EventTypeOrderCreated)
	require.Len(t, events, 1)
	assert.Equal(t, models.AggregateOrder, events[0].AggregateType)
	assert.Equal(t, orderKey(order.ID), events[0].AggregateID)

	var payload models.OrderCreatedEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &payload))
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, map[string]int{"margherita": 2, "cola": 1}, payload.ProductQuantities())
	assert.True(t, order.TotalAmount.Equal(payload.TotalAmount))

	_, items, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCreateOrderIsIdempotent(t *testing.T) {
	db := newMemStore()
	svc := newOrders(db)

	first, err := svc.CreateOrder(context.Background(), pizzaRequest("same"))
	require.NoError(t, err)
	second, err := svc.CreateOrder(context.Background(), pizzaRequest("same"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, db.outboxEvents(models.EventTypeOrderCreated), 1)
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newOrders(newMemStore())

	req := pizzaRequest("")
	req.Items[0].Quantity = 0
	_, err := svc.CreateOrder(context.Background(), req)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{CustomerID: 1})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestApplyEventLifecycle(t *testing.T) {
	db := newMemStore()
	svc := newOrders(db)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, pizzaRequest("life"))
	require.NoError(t, err)

	paid, err := svc.ApplyEvent(ctx, order.ID, models.OrderEventPaymentSuccess)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, paid.Status)

	// redelivery
	again, err := svc.ApplyEvent(ctx, order.ID, models.OrderEventPaymentSuccess)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, again.Status)

	cancelled, err := svc.ApplyEvent(ctx, order.ID, models.OrderEventCancel)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	events := db.outboxEvents(models.EventTypeOrderCancelled)
	require.Len(t, events, 1)
	var changed models.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &changed))
	assert.Equal(t, models.OrderEventCancel, changed.Event)

	_, err = svc.ApplyEvent(ctx, order.ID, models.OrderEventKitchenAccepted)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	current, _, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, current.Status)
}

func TestApplyEventHappyPathToDelivered(t *testing.T) {
	db := newMemStore()
	svc := newOrders(db)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, pizzaRequest("happy"))
	require.NoError(t, err)

	for _, event := range []models.OrderEvent{
		models.OrderEventPaymentSuccess,
		models.OrderEventKitchenAccepted,
		models.OrderEventKitchenReady,
		models.OrderEventCourierAssigned,
		models.OrderEventDeliveryCompleted,
	} {
		_, err := svc.ApplyEvent(ctx, order.ID, event)
		require.NoError(t, err, event)
	}

	current, _, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, current.Status)
	assert.Len(t, db.outboxEvents(models.EventTypeOrderDelivered), 1)

	_, err = svc.ApplyEvent(ctx, order.ID, models.OrderEventCancel)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestApplyEventUnknownOrder(t *testing.T) {
	_, err := newOrders(newMemStore()).ApplyEvent(context.Background(), 404, models.OrderEventCancel)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, string, string, string, interface{}) error {
	return errors.New("outbox write failed")
}

func TestApplyEventRollsBackWhenOutboxWriteFails(t *testing.T) {
	db := newMemStore()
	order, err := newOrders(db).CreateOrder(context.Background(), pizzaRequest("atomic"))
	require.NoError(t, err)

	svc := NewOrderService(db, db, failingRecorder{})
	_, err = svc.ApplyEvent(context.Background(), order.ID, models.OrderEventCancel)
	require.Error(t, err)

	current, _, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, current.Status)
	assert.Empty(t, db.outboxEvents(models.EventTypeOrderCancelled))
}

func TestCreateOrderRollsBackWhenOutboxWriteFails(t *testing.T) {
	db := newMemStore()
	svc := NewOrderService(db, db, failingRecorder{})

	_, err := svc.CreateOrder(context.Background(), pizzaRequest("lost"))
	require.Error(t, err)

	orders, err := svc.ListCustomerOrders(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
