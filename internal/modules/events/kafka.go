// README: Kafka publisher for matching outcomes and consumer for the ride events topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ridematch/internal/config"
	"ridematch/internal/modules/matching"
)

const typeHeader = "type"

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	w            kafkaWriter
	matchedTopic string
	failedTopic  string
}

func NewKafkaPublisher(w kafkaWriter, cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{w: w, matchedTopic: cfg.MatchedTopic, failedTopic: cfg.FailedTopic}
}

func (p *KafkaPublisher) PublishMatched(ctx context.Context, ev matching.DriverMatched) error {
	return p.publish(ctx, p.matchedTopic, matching.EventDriverMatched, string(ev.RideID), ev)
}

func (p *KafkaPublisher) PublishFailed(ctx context.Context, ev matching.MatchingFailed) error {
	return p.publish(ctx, p.failedTopic, matching.EventMatchingFailed, string(ev.RideID), ev)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, eventType, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: typeHeader, Value: []byte(eventType)}},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events.Kafka write %s: %w", topic, err)
	}
	return nil
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaConsumer reads the ride events topic; the event name travels in the
// "type" header.
type KafkaConsumer struct {
	r       kafkaReader
	handler RideEventHandler
	log     *zap.SugaredLogger
}

func NewKafkaConsumer(r kafkaReader, handler RideEventHandler, log *zap.SugaredLogger) *KafkaConsumer {
	return &KafkaConsumer{r: r, handler: handler, log: log.Named("kafka-consumer")}
}

// Run processes messages until ctx is done. Offsets are committed after
// handling, including for messages that failed.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("events.Kafka fetch: %w", err)
		}
		eventType := headerValue(m.Headers, typeHeader)
		if err := Dispatch(ctx, c.handler, eventType, m.Value); err != nil {
			c.log.Warnw("ride event not applied", "topic", m.Topic, "offset", m.Offset, "type", eventType, "err", err)
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("events.Kafka commit: %w", err)
		}
	}
}

func headerValue(hs []kafka.Header, key string) string {
	for _, h := range hs {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
