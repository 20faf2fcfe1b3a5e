package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// IngestMessage asks the worker to store one utterance in long-term memory.
type IngestMessage struct {
	Owner string    `json:"owner"`
	Role  string    `json:"role"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// declareTopology sets up three durable queues around queue: .retry holds
// TTL'd redeliveries that dead-letter back to queue, and .dlq receives what
// the consumer rejects. Publisher and consumer must agree on it.
func declareTopology(ch *amqp.Channel, queue string) error {
	deadLetterTo := func(target string) amqp.Table {
		return amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": target,
		}
	}
	queues := []struct {
		name string
		args amqp.Table
	}{
		{queue + ".dlq", nil},
		{queue + ".retry", deadLetterTo(queue)},
		{queue, deadLetterTo(queue + ".dlq")},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

func dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func encodeIngest(owner, role, text string, at time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(IngestMessage{Owner: owner, Role: role, Text: text, At: at})
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    at,
	}, nil
}

// PublishIngest enqueues a memory ingestion.
func (p *Publisher) PublishIngest(ctx context.Context, owner, role, text string) error {
	msg, err := encodeIngest(owner, role, text, time.Now().UTC())
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		msg,
	)
}
