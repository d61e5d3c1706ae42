package service

import (
	"context"

	"github.com/rs/zerolog"

	"live-ingest/constant"
	"live-ingest/dto"
	"live-ingest/pkg/rabbitmq"
	"live-ingest/repository"
)

type eventBusSink struct {
	publisher rabbitmq.Publisher
}

// NewEventBusSink publishes lifecycle events on the event bus, keyed by event type.
func NewEventBusSink(publisher rabbitmq.Publisher) Sink {
	return &eventBusSink{publisher: publisher}
}

func (s *eventBusSink) Name() string { return "event_bus" }

func (s *eventBusSink) StreamStarted(ctx context.Context, event dto.StreamStartedEvent) error {
	return s.publisher.Publish(ctx, constant.EventStreamStarted.RoutingKey(), event)
}

func (s *eventBusSink) StreamEnded(ctx context.Context, event dto.StreamEndedEvent) error {
	return s.publisher.Publish(ctx, constant.EventStreamEnded.RoutingKey(), event)
}

type historySink struct {
	repo repository.HistoryRepository
}

func NewHistorySink(repo repository.HistoryRepository) Sink {
	return &historySink{repo: repo}
}

func (s *historySink) Name() string { return "history" }

func (s *historySink) StreamStarted(ctx context.Context, event dto.StreamStartedEvent) error {
	return s.repo.RecordStarted(ctx, event)
}

func (s *historySink) StreamEnded(ctx context.Context, event dto.StreamEndedEvent) error {
	return s.repo.RecordEnded(ctx, event)
}

type logSink struct{}

// NewLogSink writes every lifecycle event to the structured log.
func NewLogSink() Sink {
	return logSink{}
}

func (logSink) Name() string { return "log" }

func (logSink) StreamStarted(ctx context.Context, event dto.StreamStartedEvent) error {
	zerolog.Ctx(ctx).Info().
		Str("event", string(constant.EventStreamStarted)).
		Str("session_id", event.SessionID).
		Str("owner_id", event.OwnerID).
		Time("started_at", event.StartedAt).
		Msg("stream started")
	return nil
}

func (logSink) StreamEnded(ctx context.Context, event dto.StreamEndedEvent) error {
	zerolog.Ctx(ctx).Info().
		Str("event", string(constant.EventStreamEnded)).
		Str("session_id", event.SessionID).
		Str("owner_id", event.OwnerID).
		Float64("duration_seconds", event.DurationSeconds).
		Msg("stream ended")
	return nil
}
