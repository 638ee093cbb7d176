package broker

import (
	"context"
	"encoding/json"
	"sort"

	"pizzaflow/internal/models"
	"pizzaflow/internal/util"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventHandler decodes messages by topic and dispatches them to the registered callbacks.
// Each worker builds its own handler and subscribes to Topics().
type EventHandler struct {
	routes map[string]MessageHandler
	logger *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		routes: make(map[string]MessageHandler),
		logger: util.GetLogger(),
	}
}

// OnOrderCreated registers a handler for order.created
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	register(eh, models.TopicOrderCreated, handler)
}

// OnOrderCancelled registers a handler for order.cancelled
func (eh *EventHandler) OnOrderCancelled(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	register(eh, models.TopicOrderCancelled, handler)
}

// OnOrderDelivered registers a handler for order.delivered
func (eh *EventHandler) OnOrderDelivered(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	register(eh, models.TopicOrderDelivered, handler)
}

// OnPaymentCompleted registers a handler for payment.completed
func (eh *EventHandler) OnPaymentCompleted(handler func(context.Context, *models.PaymentResultEvent) error) {
	register(eh, models.TopicPaymentCompleted, handler)
}

// OnPaymentFailed registers a handler for payment.failed
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentResultEvent) error) {
	register(eh, models.TopicPaymentFailed, handler)
}

// OnInventoryUnavailable registers a handler for inventory.unavailable
func (eh *EventHandler) OnInventoryUnavailable(handler func(context.Context, *models.InventoryOutcomeEvent) error) {
	register(eh, models.TopicInventoryUnavailable, handler)
}

// OnInventoryReserved registers a handler for inventory.reserved
func (eh *EventHandler) OnInventoryReserved(handler func(context.Context, *models.InventoryOutcomeEvent) error) {
	register(eh, models.TopicInventoryReserved, handler)
}

func register[T any](eh *EventHandler, topic string, handler func(context.Context, *T) error) {
	eh.routes[topic] = func(ctx context.Context, msg kafka.Message) error {
		var event T
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// a payload that cannot be decoded will never succeed; skip it
			eh.logger.Error("malformed event",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return nil
		}
		return handler(ctx, &event)
	}
}

// Topics returns the registered topics in a stable order.
func (eh *EventHandler) Topics() []string {
	topics := make([]string, 0, len(eh.routes))
	for topic := range eh.routes {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	route, ok := eh.routes[msg.Topic]
	if !ok {
		eh.logger.Warn("unhandled topic", zap.String("topic", msg.Topic))
		return nil
	}

	ctx, span := util.StartSpan(ctx, "EventHandler."+msg.Topic,
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	eh.logger.Debug("handling event",
		zap.String("topic", msg.Topic),
		zap.String("key", string(msg.Key)),
	)
	err := route(ctx, msg)
	util.EndSpan(span, err)
	return err
}
