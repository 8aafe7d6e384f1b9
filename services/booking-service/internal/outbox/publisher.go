package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/appointmenthub/hub/libs/db"
	"github.com/appointmenthub/hub/libs/kafkax"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run relays unpublished outbox rows to Kafka until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := kafkax.NewWriter(p.brokers)
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.publishBatch(ctx, writer)
			if err != nil {
				p.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox batch published", "count", n)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	var published int
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.claim(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}
		msgs := make([]kafka.Message, len(records))
		for i, rcd := range records {
			msgs[i] = toMessage(ctx, rcd)
		}
		// Rows stay unpublished if the write fails and are retried next tick.
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write %d messages: %w", len(msgs), err)
		}
		published = len(records)
		return p.repo.markPublished(ctx, tx, records)
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

// toMessage keys by aggregate so one appointment's events keep their order.
func toMessage(ctx context.Context, rcd Record) kafka.Message {
	headers := kafkax.EventHeaders(rcd.EventID, rcd.Event.EventType)
	return kafka.Message{
		Topic:   rcd.Event.EventType,
		Key:     []byte(rcd.Event.AggregateID),
		Value:   rcd.Event.Payload,
		Headers: kafkax.InjectTraceHeaders(rcd.Trace.Into(ctx), headers),
		Time:    rcd.CreatedAt,
	}
}
