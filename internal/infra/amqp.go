// README: RabbitMQ connection with bounded exponential-backoff dialing.
package infra

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const amqpDialAttempts = 5

type RabbitMQ struct {
	Conn *amqp.Connection
	Chan *amqp.Channel
}

// NewRabbitMQ dials url, retrying with 1s, 2s, 4s... backoff until ctx is done
// or the attempts are exhausted.
func NewRabbitMQ(ctx context.Context, url string, log *zap.SugaredLogger) (*RabbitMQ, error) {
	var lastErr error
	for i := 0; i < amqpDialAttempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("amqp channel: %w", chErr)
			}
			log.Infow("connected to rabbitmq", "attempt", i+1)
			return &RabbitMQ{Conn: conn, Chan: ch}, nil
		}
		lastErr = err
		log.Warnw("rabbitmq dial failed", "attempt", i+1, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second << i):
		}
	}
	return nil, fmt.Errorf("amqp dial after %d attempts: %w", amqpDialAttempts, lastErr)
}

func (r *RabbitMQ) Close() error {
	if r.Chan != nil {
		_ = r.Chan.Close()
	}
	if r.Conn != nil {
		return r.Conn.Close()
	}
	return nil
}
