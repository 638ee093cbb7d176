package outbox

import (
	"context"
	"time"

	"pizzaflow/internal/models"
	"pizzaflow/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Repository is the persistence the scheduler needs. Fetches lock the returned rows for the
// lifetime of the surrounding transaction.
type Repository interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	FetchFailedEvents(ctx context.Context, maxRetries, limit int, now time.Time) ([]models.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id int64, at time.Time) error
	MarkEventFailed(ctx context.Context, id int64, at time.Time) error
	RecordRetryFailure(ctx context.Context, id int64, at time.Time) error
	CountAbandonedEvents(ctx context.Context, maxRetries int) (int, error)
}

// TxRunner runs fn inside a database transaction carried by ctx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher delivers a payload to a topic, partitioned by key.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config controls the scheduler cadence.
type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, BatchSize: 100, MaxRetries: 3}
}

// Scheduler periodically delivers outbox rows to the broker.
type Scheduler struct {
	repo      Repository
	tx        TxRunner
	publisher Publisher
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// NewScheduler creates a new outbox scheduler
func NewScheduler(repo Repository, tx TxRunner, publisher Publisher, cfg Config) *Scheduler {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}

	return &Scheduler{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		clock:     realClock{},
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// WithClock replaces the clock. Used by tests.
func (s *Scheduler) WithClock(clock Clock) *Scheduler {
	s.clock = clock
	return s
}

// Start runs a cycle immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("outbox scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("outbox cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("outbox scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one publish pass over PENDING rows followed by one retry pass over FAILED rows.
// Delivery failures never surface as errors; only storage failures do.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.tx.WithTx(ctx, s.publishPending); err != nil {
		return err
	}
	if err := s.tx.WithTx(ctx, s.retryFailed); err != nil {
		return err
	}
	return s.reportAbandoned(ctx)
}

func (s *Scheduler) publishPending(ctx context.Context) error {
	events, err := s.repo.FetchPendingEvents(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := s.publish(ctx, event); err != nil {
			s.logger.Warn("outbox publish failed",
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.String("aggregate_id", event.AggregateID),
				zap.Error(err),
			)
			util.OutboxEventsFailed.WithLabelValues(event.EventType).Inc()
			if err := s.repo.MarkEventFailed(ctx, event.ID, s.clock.Now()); err != nil {
				return err
			}
			continue
		}

		if err := s.repo.MarkEventPublished(ctx, event.ID, s.clock.Now()); err != nil {
			return err
		}
		util.OutboxEventsPublished.WithLabelValues(event.EventType).Inc()
	}

	if len(events) > 0 {
		s.logger.Debug("outbox publish pass done", zap.Int("events", len(events)))
	}
	return nil
}

func (s *Scheduler) retryFailed(ctx context.Context) error {
	now := s.clock.Now()
	events, err := s.repo.FetchFailedEvents(ctx, s.cfg.MaxRetries, s.cfg.BatchSize, now)
	if err != nil {
		return err
	}

	for _, event := range events {
		if event.RetryCount >= s.cfg.MaxRetries {
			continue
		}
		if !DueForRetry(event.RetryCount, event.LastAttemptAt, now) {
			continue
		}

		if err := s.publish(ctx, event); err != nil {
			s.logger.Warn("outbox retry failed",
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Int("retry_count", event.RetryCount+1),
				zap.Error(err),
			)
			util.OutboxEventsFailed.WithLabelValues(event.EventType).Inc()
			if err := s.repo.RecordRetryFailure(ctx, event.ID, s.clock.Now()); err != nil {
				return err
			}
			continue
		}

		if err := s.repo.MarkEventPublished(ctx, event.ID, s.clock.Now()); err != nil {
			return err
		}
		util.OutboxEventsPublished.WithLabelValues(event.EventType).Inc()
		s.logger.Info("outbox event delivered on retry",
			zap.Int64("event_id", event.ID),
			zap.Int("retry_count", event.RetryCount),
		)
	}
	return nil
}

func (s *Scheduler) reportAbandoned(ctx context.Context) error {
	n, err := s.repo.CountAbandonedEvents(ctx, s.cfg.MaxRetries)
	if err != nil {
		return err
	}
	util.OutboxEventsAbandoned.Set(float64(n))
	if n > 0 {
		s.logger.Warn("outbox events exhausted their retries", zap.Int("count", n))
	}
	return nil
}

func (s *Scheduler) publish(ctx context.Context, event models.OutboxEvent) error {
	topic := TopicFor(event.EventType)
	ctx, span := util.StartSpan(ctx, "OutboxScheduler.Publish",
		attribute.String("messaging.destination", topic),
		attribute.Int64("outbox.event_id", event.ID),
		attribute.Int("outbox.retry_count", event.RetryCount),
	)

	err := s.publisher.Publish(ctx, topic, event.AggregateID, []byte(event.Payload))
	util.EndSpan(span, err)
	return err
}
