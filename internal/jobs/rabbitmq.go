package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	amqpExchange     = "dialer"
	amqpDelayedQueue = "dialer.dispatch.delayed"
	amqpReadyQueue   = "dialer.dispatch.ready"
	amqpDelayedKey   = "delayed"
	amqpReadyKey     = "ready"
)

// AMQPQueue is a durable delayed-dispatch queue on RabbitMQ, built on the
// per-message TTL + dead-letter pattern: delayed jobs sit in a queue with no
// consumer and dead-letter into the ready queue when their TTL expires.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger
}

func NewAMQPQueue(url string, log *slog.Logger) (*AMQPQueue, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel failed: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPQueue{conn: conn, ch: ch, log: log}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(amqpExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare failed: %w", err)
	}

	delayedArgs := amqp.Table{
		"x-dead-letter-exchange":    amqpExchange,
		"x-dead-letter-routing-key": amqpReadyKey,
	}
	if _, err := ch.QueueDeclare(amqpDelayedQueue, true, false, false, false, delayedArgs); err != nil {
		return fmt.Errorf("delayed queue declare failed: %w", err)
	}
	if err := ch.QueueBind(amqpDelayedQueue, amqpDelayedKey, amqpExchange, false, nil); err != nil {
		return fmt.Errorf("delayed queue bind failed: %w", err)
	}

	if _, err := ch.QueueDeclare(amqpReadyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("ready queue declare failed: %w", err)
	}
	if err := ch.QueueBind(amqpReadyQueue, amqpReadyKey, amqpExchange, false, nil); err != nil {
		return fmt.Errorf("ready queue bind failed: %w", err)
	}
	return nil
}

func (q *AMQPQueue) Submit(ctx context.Context, job DispatchJob, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dispatch job: %w", err)
	}

	key := amqpReadyKey
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if delay > 0 {
		key = amqpDelayedKey
		pub.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	if err := q.ch.PublishWithContext(ctx, amqpExchange, key, false, false, pub); err != nil {
		return fmt.Errorf("amqp publish failed: %w", err)
	}
	return nil
}

// Consume delivers ready jobs to handler until ctx is cancelled.
// A failed handler nacks without requeue; the job's call request is picked
// up later by the overdue-pending poller.
func (q *AMQPQueue) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := q.ch.Consume(amqpReadyQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume failed: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var job DispatchJob
				if err := json.Unmarshal(d.Body, &job); err != nil {
					q.log.Error("dispatch job unmarshal failed", "err", err)
					_ = d.Nack(false, false)
					continue
				}
				if err := handler(ctx, job); err != nil {
					q.log.Error("dispatch job failed", "callrequest_id", job.CallRequestID, "err", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
