package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	attemptHeader = "x-attempt"
	maxAttempts   = 3
	retryDelay    = 5 * time.Second
)

var errBadMessage = errors.New("bad ingest message")

// Handler applies one ingestion. Returning an error schedules a retry.
type Handler func(ctx context.Context, m IngestMessage) error

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	log         *zap.Logger
}

func NewConsumer(url, queue string, concurrency int, log *zap.Logger) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}
	if log == nil {
		log = zap.NewNop()
	}
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency, log: log.Named("ingest")}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is done or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info("worker started", zap.String("queue", c.queue), zap.Int("concurrency", c.concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			log := c.log.With(zap.Int("worker", workerID))
			for d := range jobs {
				process(ctx, d, handle, c.retry, log)
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				// unacked, the broker redelivers it
				return nil
			}
		}
	}
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(cctx, "", c.queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Timestamp:    d.Timestamp,
		Expiration:   strconv.FormatInt(retryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
	})
}

func decode(body []byte) (IngestMessage, error) {
	var m IngestMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("%w: %w", errBadMessage, err)
	}
	if m.Owner == "" || m.Text == "" {
		return m, fmt.Errorf("%w: owner and text required", errBadMessage)
	}
	return m, nil
}

func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

type retryFunc func(ctx context.Context, d amqp.Delivery, attempt int) error

// process acks on success, re-publishes to the retry queue on failure, and
// rejects to the DLQ once attempts are used up or the message is malformed.
func process(ctx context.Context, d amqp.Delivery, handle Handler, retry retryFunc, log *zap.Logger) {
	m, err := decode(d.Body)
	if err != nil {
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err = handle(ctx, m)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	attempt := attemptOf(d) + 1
	log.Warn("ingest failed",
		zap.String("owner", m.Owner), zap.Int("attempt", attempt),
		zap.Duration("cost", time.Since(start)), zap.Error(err))
	if attempt >= maxAttempts {
		_ = d.Nack(false, false)
		return
	}
	if err := retry(ctx, d, attempt); err != nil {
		log.Warn("schedule retry failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
