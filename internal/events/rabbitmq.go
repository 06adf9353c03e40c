// README: RabbitMQ topic-exchange publisher and JSON consumer for trip events and location pings.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPoison marks a message that can never be handled; it is dropped
// instead of requeued.
var ErrPoison = errors.New("unprocessable message")

type RabbitPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

func NewRabbitPublisher(ch *amqp.Channel, exchange string, log *zap.Logger) (*RabbitPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	return &RabbitPublisher{ch: ch, exchange: exchange, log: log}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, e TripEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal trip event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		string(e.Type),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.Key(),
			Timestamp:    e.Timestamp,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Type, err)
	}
	p.log.Debug("trip event published", zap.String("event", string(e.Type)), zap.String("trip_id", e.TripID))
	return nil
}

type ConsumerConfig struct {
	Exchange string
	Queue    string
	Bindings []string
	Prefetch int
}

// Consume binds a durable queue and hands each decoded message to handle
// until ctx ends. Messages are acked after handle returns nil, dropped on
// ErrPoison and requeued on any other error.
func Consume[T any](ctx context.Context, ch *amqp.Channel, cfg ConsumerConfig, log *zap.Logger, handle func(context.Context, T) error) error {
	if log == nil {
		log = zap.NewNop()
	}
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	for _, key := range cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue: %w", err)
		}
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}
	deliveries, err := ch.Consume(
		q.Name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			var msg T
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				log.Warn("dropping undecodable message", zap.String("queue", q.Name), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			switch err := handle(ctx, msg); {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, ErrPoison):
				log.Warn("dropping message", zap.String("queue", q.Name), zap.Error(err))
				_ = d.Nack(false, false)
			default:
				log.Error("message handling failed", zap.String("queue", q.Name), zap.Error(err))
				_ = d.Nack(false, true)
			}
		}
	}
}
