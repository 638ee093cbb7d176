package store

import (
	"context"
	"fmt"
	"time"

	"pizzaflow/internal/models"
	"pizzaflow/internal/outbox"

	"github.com/lib/pq"
)

const outboxColumns = "id, aggregate_id, aggregate_type, event_type, payload, status, retry_count, created_at, last_attempt_at, processed_at"

// AppendOutboxEvent inserts a PENDING row. It must run inside WithTx so the row commits
// together with the mutation that produced it.
func (s *Store) AppendOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	if !s.InTx(ctx) {
		return models.ErrNoTransaction
	}

	query := `
		INSERT INTO outbox_events (aggregate_id, aggregate_type, event_type, payload, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING id, created_at`

	event.Status = models.OutboxStatusPending
	return s.q(ctx).GetContext(ctx, event, query,
		event.AggregateID, event.AggregateType, event.EventType, event.Payload, event.Status)
}

// FetchPendingEvents claims up to limit PENDING rows. Rows locked by another transaction are
// skipped, so concurrent schedulers never receive the same row.
func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	events := []models.OutboxEvent{}
	if err := s.q(ctx).SelectContext(ctx, &events, query, models.OutboxStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}
	return events, nil
}

// FetchFailedEvents claims up to limit FAILED rows that still have retries left and whose
// backoff has elapsed at now. Exhausted and not-yet-due rows are excluded in SQL so they
// cannot crowd retryable ones out of the batch.
func (s *Store) FetchFailedEvents(ctx context.Context, maxRetries, limit int, now time.Time) ([]models.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status = $1 AND retry_count < $2
		  AND (last_attempt_at IS NULL
		       OR last_attempt_at + make_interval(secs => ($3::float8[])[LEAST(retry_count + 1, cardinality($3::float8[]))]) <= $4)
		ORDER BY created_at
		LIMIT $5
		FOR UPDATE SKIP LOCKED`

	events := []models.OutboxEvent{}
	err := s.q(ctx).SelectContext(ctx, &events, query,
		models.OutboxStatusFailed, maxRetries, pq.Array(retryScheduleSeconds()), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch failed outbox events: %w", err)
	}
	return events, nil
}

func retryScheduleSeconds() []float64 {
	schedule := outbox.RetrySchedule()
	secs := make([]float64, len(schedule))
	for i, d := range schedule {
		secs[i] = d.Seconds()
	}
	return secs
}

// MarkEventPublished sets PUBLISHED and processed_at.
func (s *Store) MarkEventPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE outbox_events SET status = $1, processed_at = $2 WHERE id = $3",
		models.OutboxStatusPublished, at, id)
	return err
}

// MarkEventFailed records a first delivery failure. retry_count is left alone.
// last_attempt_at is stamped here too, so the first retry waits the initial backoff
// instead of running in the same cycle.
func (s *Store) MarkEventFailed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE outbox_events SET status = $1, last_attempt_at = $2 WHERE id = $3 AND status <> $4",
		models.OutboxStatusFailed, at, id, models.OutboxStatusPublished)
	return err
}

// RecordRetryFailure bumps retry_count after a failed retry.
func (s *Store) RecordRetryFailure(ctx context.Context, id int64, at time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE outbox_events SET retry_count = retry_count + 1, last_attempt_at = $1 WHERE id = $2 AND status = $3",
		at, id, models.OutboxStatusFailed)
	return err
}

// CountAbandonedEvents counts FAILED rows that exhausted maxRetries.
func (s *Store) CountAbandonedEvents(ctx context.Context, maxRetries int) (int, error) {
	var n int
	err := s.q(ctx).GetContext(ctx, &n,
		"SELECT COUNT(*) FROM outbox_events WHERE status = $1 AND retry_count >= $2",
		models.OutboxStatusFailed, maxRetries)
	return n, err
}
