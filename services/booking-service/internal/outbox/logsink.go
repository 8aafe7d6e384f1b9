package outbox

import (
	"context"
	"log/slog"

	otelx "github.com/appointmenthub/hub/libs/otel"
)

// LogSink stands in for the outbox when no database is configured; events
// are logged and dropped.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, evt Event) error {
	s.logger.InfoContext(ctx, "domain event",
		"event_type", evt.EventType,
		"aggregate_type", evt.AggregateType,
		"aggregate_id", evt.AggregateID,
		"traceparent", otelx.CaptureTraceContext(ctx).Traceparent,
		"payload_bytes", len(evt.Payload),
	)
	return nil
}

var _ Emitter = (*LogSink)(nil)
