package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fieldflow/logging"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store interface {
	Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string, dead bool) error
}

// Publisher delivers one message downstream.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

type Relay struct {
	pool        TxBeginner
	store       Store
	publisher   Publisher
	logger      *zap.Logger
	batchSize   int
	maxAttempts int
}

func NewRelay(pool TxBeginner, store Store, publisher Publisher, logger *zap.Logger, batchSize, maxAttempts int) *Relay {
	if store == nil {
		store = NewStore()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Relay{
		pool:        pool,
		store:       store,
		publisher:   publisher,
		logger:      logging.OrNop(logger).Named("outbox"),
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// RunOnce publishes one batch and returns how many messages were delivered.
// Failed deliveries stay pending until they reach the attempt limit.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.Claim(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	delivered := 0
	for _, m := range msgs {
		if err := r.publisher.Publish(ctx, m); err != nil {
			dead := m.Attempts+1 >= r.maxAttempts
			r.logger.Warn("outbox publish failed",
				zap.String("outbox_id", m.ID),
				zap.String("topic", m.Topic),
				zap.Int("attempts", m.Attempts+1),
				zap.Bool("dead", dead),
				zap.Error(err),
			)
			if err := r.store.MarkFailed(ctx, tx, m.ID, err.Error(), dead); err != nil {
				return 0, err
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, tx, m.ID); err != nil {
			return 0, err
		}
		delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit tx: %w", err)
	}
	return delivered, nil
}

// Start relays batches until ctx is canceled. A full batch is followed
// immediately by the next one.
func (r *Relay) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r.logger.Info("outbox relay started", zap.Duration("interval", interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay batch failed", zap.Error(err))
		}
		if n > 0 {
			r.logger.Debug("outbox batch delivered", zap.Int("count", n))
		}

		next := interval
		if err == nil && n == r.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// RedisPublisher appends messages to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, m Message) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"topic":     m.Topic,
			"payload":   string(m.Payload),
			"outbox_id": m.ID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("outbox: xadd %s: %w", p.stream, err)
	}
	return nil
}
