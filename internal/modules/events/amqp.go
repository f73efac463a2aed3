// README: RabbitMQ publisher for matching outcomes and consumer for ride lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ridematch/internal/config"
	"ridematch/internal/modules/matching"
)

const consumerTag = "matching-service"

// DeclareTopology declares both exchanges and binds the service queue to the
// ride lifecycle routing keys.
func DeclareTopology(ch *amqp.Channel, cfg config.AMQPConfig) error {
	for _, ex := range []string{cfg.MatchingExchange, cfg.RideExchange} {
		if err := ch.ExchangeDeclare(
			ex,
			"direct",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	for _, key := range []string{cfg.RideCancelKey, cfg.RideFinishedKey} {
		if err := ch.QueueBind(cfg.Queue, key, cfg.RideExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", cfg.Queue, key, err)
		}
	}
	return nil
}

type amqpPublishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher sends DriverMatched on the matched key and MatchingFailed on
// the matched key with a ".failed" suffix.
type AMQPPublisher struct {
	ch         amqpPublishChannel
	exchange   string
	matchedKey string
	log        *zap.SugaredLogger
}

func NewAMQPPublisher(ch amqpPublishChannel, cfg config.AMQPConfig, log *zap.SugaredLogger) *AMQPPublisher {
	return &AMQPPublisher{
		ch:         ch,
		exchange:   cfg.MatchingExchange,
		matchedKey: cfg.MatchedKey,
		log:        log.Named("amqp"),
	}
}

func (p *AMQPPublisher) PublishMatched(ctx context.Context, ev matching.DriverMatched) error {
	return p.publish(ctx, p.matchedKey, matching.EventDriverMatched, ev)
}

func (p *AMQPPublisher) PublishFailed(ctx context.Context, ev matching.MatchingFailed) error {
	return p.publish(ctx, p.matchedKey+".failed", matching.EventMatchingFailed, ev)
}

func (p *AMQPPublisher) publish(ctx context.Context, key, eventType string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         eventType,
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("events.AMQP publish %s: %w", eventType, err)
	}
	p.log.Debugw("event published", "type", eventType, "routing_key", key)
	return nil
}

// AMQPConsumer feeds ride lifecycle events from the service queue to a
// RideEventHandler.
type AMQPConsumer struct {
	ch      *amqp.Channel
	queue   string
	keys    map[string]string
	handler RideEventHandler
	log     *zap.SugaredLogger
}

func NewAMQPConsumer(ch *amqp.Channel, cfg config.AMQPConfig, handler RideEventHandler, log *zap.SugaredLogger) *AMQPConsumer {
	return &AMQPConsumer{
		ch:    ch,
		queue: cfg.Queue,
		keys: map[string]string{
			cfg.RideCancelKey:   matching.EventRideCancelled,
			cfg.RideFinishedKey: matching.EventRideFinished,
		},
		handler: handler,
		log:     log.Named("amqp-consumer"),
	}
}

// Run consumes until ctx is done or the delivery channel closes.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("events.AMQP consume %s: %w", c.queue, err)
	}
	c.log.Infow("consuming ride events", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("events.AMQP: delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle acks processed deliveries and drops malformed ones. A failing
// handler gets one redelivery.
func (c *AMQPConsumer) handle(ctx context.Context, d amqp.Delivery) {
	eventType := d.Type
	if eventType == "" {
		eventType = c.keys[d.RoutingKey]
	}
	err := Dispatch(ctx, c.handler, eventType, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case dropped(err):
		c.log.Warnw("dropping ride event", "routing_key", d.RoutingKey, "type", eventType, "err", err)
		_ = d.Nack(false, false)
	default:
		c.log.Errorw("ride event handler failed", "type", eventType, "redelivered", d.Redelivered, "err", err)
		_ = d.Nack(false, !d.Redelivered)
	}
}
