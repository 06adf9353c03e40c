// README: RabbitMQ connection with exponential-backoff dialing.
package infra

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const dialAttempts = 5

type RabbitMQ struct {
	Conn *amqp.Connection
	log  *zap.Logger
}

// DialRabbitMQ retries the dial with 2s, 4s, 8s... pauses until ctx ends.
func DialRabbitMQ(ctx context.Context, url string, log *zap.Logger) (*RabbitMQ, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var err error
	for i := 1; i <= dialAttempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			log.Info("connected to rabbitmq")
			return &RabbitMQ{Conn: conn, log: log}, nil
		}
		log.Warn("rabbitmq dial failed", zap.Int("attempt", i), zap.Error(err))
		if i == dialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(i)):
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
}

func backoff(attempt int) time.Duration {
	return time.Second << attempt
}

// Channel opens a new channel; publishers and each consumer get their own.
func (r *RabbitMQ) Channel() (*amqp.Channel, error) {
	ch, err := r.Conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) Close() {
	if r.Conn != nil {
		_ = r.Conn.Close()
		r.Conn = nil
	}
	r.log.Info("rabbitmq connection closed")
}
