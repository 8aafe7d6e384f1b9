package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/appointmenthub/hub/libs/db"
	otelx "github.com/appointmenthub/hub/libs/otel"
	"github.com/jackc/pgx/v5"
)

// Repository is the outbox_events table. Writers append with Insert inside
// the transaction of the change being announced; the Publisher claims and
// acknowledges rows in its own transactions.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEventSQL = `
	INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Insert appends events inside tx. They become visible to the Publisher only
// if tx commits.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, events ...Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	for _, evt := range events {
		if _, err := tx.Exec(ctx, insertEventSQL,
			evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Traceparent, tc.Tracestate,
		); err != nil {
			return fmt.Errorf("outbox insert %s: %w", evt.EventType, err)
		}
	}
	return nil
}

// Emit is for events with no accompanying row change in Postgres, such as a
// reschedule proposal whose state lives in the notification store.
func (r *Repository) Emit(ctx context.Context, evt Event) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return r.Insert(ctx, tx, evt)
	})
}

// Record is a claimed outbox row.
type Record struct {
	ID        int64
	EventID   string
	Event     Event
	Trace     otelx.TraceContext
	CreatedAt time.Time
}

// claim locks up to limit unpublished rows, oldest first. Concurrent
// publishers skip each other's rows.
func (r *Repository) claim(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
			traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rcd Record
		err := row.Scan(
			&rcd.ID, &rcd.EventID,
			&rcd.Event.AggregateType, &rcd.Event.AggregateID, &rcd.Event.EventType, &rcd.Event.Payload,
			&rcd.Trace.Traceparent, &rcd.Trace.Tracestate, &rcd.CreatedAt,
		)
		return rcd, err
	})
}

func (r *Repository) markPublished(ctx context.Context, tx pgx.Tx, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]int64, len(records))
	for i, rcd := range records {
		ids[i] = rcd.ID
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}

var _ Emitter = (*Repository)(nil)
