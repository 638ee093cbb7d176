package outbox

import "pizzaflow/internal/models"

var topics = map[string]string{
	models.EventTypeOrderCreated:         models.TopicOrderCreated,
	models.EventTypeOrderCancelled:       models.TopicOrderCancelled,
	models.EventTypeOrderDelivered:       models.TopicOrderDelivered,
	models.EventTypePaymentCompleted:     models.TopicPaymentCompleted,
	models.EventTypePaymentFailed:        models.TopicPaymentFailed,
	models.EventTypeInventoryReserved:    models.TopicInventoryReserved,
	models.EventTypeInventoryUnavailable: models.TopicInventoryUnavailable,
}

// TopicFor maps an event type to its topic. Unmapped types go to the generic inventory topic.
func TopicFor(eventType string) string {
	if topic, ok := topics[eventType]; ok {
		return topic
	}
	return models.TopicInventoryEvents
}
