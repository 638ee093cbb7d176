// Package outbox implements the transactional outbox: events are written in the same database
// transaction as the change that caused them and delivered to Kafka later by the Scheduler.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"pizzaflow/internal/models"
)

// Appender persists an outbox row through the transaction carried by ctx.
type Appender interface {
	AppendOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
}

// Recorder turns domain payloads into PENDING outbox rows.
type Recorder struct {
	appender Appender
}

// NewRecorder creates a new recorder
func NewRecorder(appender Appender) *Recorder {
	return &Recorder{appender: appender}
}

// Record appends an event for aggregateID. ctx must carry an open transaction; the row becomes
// visible only when that transaction commits.
func (r *Recorder) Record(ctx context.Context, aggregateID, aggregateType, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	event := &models.OutboxEvent{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       string(body),
	}
	if err := r.appender.AppendOutboxEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record %s for %s %s: %w", eventType, aggregateType, aggregateID, err)
	}
	return nil
}
