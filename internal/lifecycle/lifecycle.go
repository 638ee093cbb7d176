// Package lifecycle holds the order state machine as a data-driven transition table.
// It keeps no state of its own; the persisted order status is the only machine state.
package lifecycle

import (
	"fmt"
	"strings"

	"pizzaflow/internal/models"
)

type transitionKey struct {
	from  models.OrderStatus
	event models.OrderEvent
}

var transitions = map[transitionKey]models.OrderStatus{
	{models.OrderStatusPending, models.OrderEventPaymentSuccess}:           models.OrderStatusPaid,
	{models.OrderStatusPending, models.OrderEventPaymentFailure}:           models.OrderStatusCancelled,
	{models.OrderStatusPending, models.OrderEventCancel}:                   models.OrderStatusCancelled,
	{models.OrderStatusPaid, models.OrderEventKitchenAccepted}:             models.OrderStatusPreparing,
	{models.OrderStatusPaid, models.OrderEventCancel}:                      models.OrderStatusCancelled,
	{models.OrderStatusPreparing, models.OrderEventKitchenReady}:           models.OrderStatusReadyForDelivery,
	{models.OrderStatusReadyForDelivery, models.OrderEventCourierAssigned}: models.OrderStatusOutForDelivery,
	{models.OrderStatusOutForDelivery, models.OrderEventDeliveryCompleted}:  models.OrderStatusDelivered,
}

// Every event leads to exactly one target, so "already in the target" identifies a replay.
var eventTargets = func() map[models.OrderEvent]models.OrderStatus {
	targets := make(map[models.OrderEvent]models.OrderStatus)
	for key, to := range transitions {
		if prev, ok := targets[key.event]; ok && prev != to {
			panic(fmt.Sprintf("lifecycle: event %s has more than one target", key.event))
		}
		targets[key.event] = to
	}
	return targets
}()

// Initial is the status of a newly created order.
const Initial = models.OrderStatusPending

// Statuses lists every stored status.
func Statuses() []models.OrderStatus {
	return []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusPaid,
		models.OrderStatusPreparing,
		models.OrderStatusReadyForDelivery,
		models.OrderStatusOutForDelivery,
		models.OrderStatusDelivered,
		models.OrderStatusCancelled,
	}
}

// Events lists every event the machine understands.
func Events() []models.OrderEvent {
	return []models.OrderEvent{
		models.OrderEventPaymentSuccess,
		models.OrderEventPaymentFailure,
		models.OrderEventKitchenAccepted,
		models.OrderEventKitchenReady,
		models.OrderEventCourierAssigned,
		models.OrderEventDeliveryCompleted,
		models.OrderEventCancel,
	}
}

// Next returns the target of (from, event) or ErrInvalidTransition when the table has no edge.
func Next(from models.OrderStatus, event models.OrderEvent) (models.OrderStatus, error) {
	to, ok := transitions[transitionKey{from: Normalize(from), event: event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", models.ErrInvalidTransition, event, from)
	}
	return to, nil
}

// AlreadyApplied reports whether current is the state event would have produced,
// i.e. the event is a redelivery of one that was already applied.
func AlreadyApplied(current models.OrderStatus, event models.OrderEvent) bool {
	target, ok := eventTargets[event]
	return ok && target == Normalize(current)
}

// IsTerminal reports whether no event can leave status.
func IsTerminal(status models.OrderStatus) bool {
	switch Normalize(status) {
	case models.OrderStatusDelivered, models.OrderStatusCancelled:
		return true
	}
	return false
}

// Normalize maps the COMPLETED alias onto DELIVERED.
func Normalize(status models.OrderStatus) models.OrderStatus {
	if status == models.OrderStatusCompleted {
		return models.OrderStatusDelivered
	}
	return status
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (models.OrderStatus, error) {
	status := Normalize(models.OrderStatus(strings.ToUpper(strings.TrimSpace(raw))))
	for _, known := range Statuses() {
		if known == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown order status %q", models.ErrInvalidInput, raw)
}

// ParseEvent validates a raw event string.
func ParseEvent(raw string) (models.OrderEvent, error) {
	event := models.OrderEvent(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := eventTargets[event]; !ok {
		return "", fmt.Errorf("%w: unknown order event %q", models.ErrInvalidInput, raw)
	}
	return event, nil
}
