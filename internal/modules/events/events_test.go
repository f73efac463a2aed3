// README: Event bus tests with fake AMQP channels, acknowledgers and Kafka clients.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ridematch/internal/config"
	"ridematch/internal/modules/matching"
)

type recordingHandler struct {
	mu        sync.Mutex
	cancelled []matching.RideCancelled
	finished  []matching.RideFinished
	err       error
}

func (h *recordingHandler) HandleRideCancelled(_ context.Context, ev matching.RideCancelled) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = append(h.cancelled, ev)
	return h.err
}

func (h *recordingHandler) HandleRideFinished(_ context.Context, ev matching.RideFinished) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, ev)
	return h.err
}

func TestDispatch(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		body      string
		wantErr   error
		cancelled int
		finished  int
	}{
		{"cancelled", matching.EventRideCancelled, `{"rideId":"r1","driverId":"d1","refundPercentage":50}`, nil, 1, 0},
		{"finished", matching.EventRideFinished, `{"rideId":"r1","driverUsername":"d1","driverEarning":"12.5"}`, nil, 0, 1},
		{"cancelled numeric ids", matching.EventRideCancelled, `{"cancelRideEventId":17,"rideId":42,"refundPercentage":100,"driverId":"d1"}`, nil, 1, 0},
		{"finished numeric ids", matching.EventRideFinished, `{"rideFinishedEventId":9,"driverUsername":"d1","rideId":42,"startTime":"2024-05-01T10:00:00+02:00","endTime":"2024-05-01T10:30:00+02:00","driverEarning":1250}`, nil, 0, 1},
		{"bad json", matching.EventRideCancelled, `{"rideId":`, ErrMalformed, 0, 0},
		{"missing ride", matching.EventRideFinished, `{"driverUsername":"d1"}`, ErrMalformed, 0, 0},
		{"unknown", "RideRated", `{}`, ErrUnknownEvent, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &recordingHandler{}
			err := Dispatch(context.Background(), h, tc.eventType, []byte(tc.body))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if len(h.cancelled) != tc.cancelled || len(h.finished) != tc.finished {
				t.Fatalf("handled cancelled=%d finished=%d", len(h.cancelled), len(h.finished))
			}
		})
	}
}

func TestDispatch_NumericIDsReachListener(t *testing.T) {
	h := &recordingHandler{}
	body := `{"cancelRideEventId":17,"rideId":42,"refundPercentage":50,"driverId":"d1"}`
	if err := Dispatch(context.Background(), h, matching.EventRideCancelled, []byte(body)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ev := h.cancelled[0]
	if ev.RideID != "42" || ev.CancelRideEventID != "17" || ev.DriverID != "d1" {
		t.Fatalf("event = %+v", ev)
	}
}

type fakePublishChannel struct {
	exchange string
	keys     []string
	msgs     []amqp.Publishing
	err      error
}

func (f *fakePublishChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange = exchange
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func amqpCfg() config.AMQPConfig {
	return config.AMQPConfig{
		MatchingExchange: "driver-matching",
		RideExchange:     "ride",
		Queue:            "matching-service",
		MatchedKey:       "driver.matched",
		RideCancelKey:    "ride.cancel",
		RideFinishedKey:  "ride.finished",
	}
}

func TestAMQPPublisher_RoutingKeys(t *testing.T) {
	ch := &fakePublishChannel{}
	p := NewAMQPPublisher(ch, amqpCfg(), zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Now().UTC()

	if err := p.PublishMatched(ctx, matching.DriverMatched{RideID: "r1", DriverID: "d1", MatchedAt: now}); err != nil {
		t.Fatalf("publish matched: %v", err)
	}
	if err := p.PublishFailed(ctx, matching.MatchingFailed{RideID: "r2", Reason: "none", FailedAt: now}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if ch.exchange != "driver-matching" {
		t.Fatalf("exchange = %q", ch.exchange)
	}
	if ch.keys[0] != "driver.matched" || ch.keys[1] != "driver.matched.failed" {
		t.Fatalf("keys = %v", ch.keys)
	}
	if ch.msgs[0].Type != matching.EventDriverMatched || ch.msgs[1].Type != matching.EventMatchingFailed {
		t.Fatalf("types = %q, %q", ch.msgs[0].Type, ch.msgs[1].Type)
	}
	var body matching.DriverMatched
	if err := json.Unmarshal(ch.msgs[0].Body, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RideID != "r1" || body.DriverID != "d1" {
		t.Fatalf("body = %+v", body)
	}
}

func TestAMQPPublisher_WrapsError(t *testing.T) {
	boom := errors.New("channel closed")
	p := NewAMQPPublisher(&fakePublishChannel{err: boom}, amqpCfg(), zap.NewNop().Sugar())
	if err := p.PublishMatched(context.Background(), matching.DriverMatched{RideID: "r1"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

type fakeAck struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acks++; return nil }

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error { return nil }

func TestAMQPConsumer_AckPolicy(t *testing.T) {
	cases := []struct {
		name        string
		delivery    amqp.Delivery
		handlerErr  error
		wantAck     int
		wantNack    int
		wantRequeue bool
	}{
		{
			name:     "by type header",
			delivery: amqp.Delivery{Type: matching.EventRideCancelled, Body: []byte(`{"rideId":"r1"}`)},
			wantAck:  1,
		},
		{
			name:     "by routing key",
			delivery: amqp.Delivery{RoutingKey: "ride.finished", Body: []byte(`{"rideId":"r1"}`)},
			wantAck:  1,
		},
		{
			name:     "malformed dropped",
			delivery: amqp.Delivery{Type: matching.EventRideCancelled, Body: []byte(`nope`)},
			wantNack: 1,
		},
		{
			name:        "handler failure requeued once",
			delivery:    amqp.Delivery{Type: matching.EventRideCancelled, Body: []byte(`{"rideId":"r1"}`)},
			handlerErr:  errors.New("redis down"),
			wantNack:    1,
			wantRequeue: true,
		},
		{
			name:       "handler failure after redelivery dropped",
			delivery:   amqp.Delivery{Type: matching.EventRideCancelled, Redelivered: true, Body: []byte(`{"rideId":"r1"}`)},
			handlerErr: errors.New("redis down"),
			wantNack:   1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &fakeAck{}
			d := tc.delivery
			d.Acknowledger = ack
			c := NewAMQPConsumer(nil, amqpCfg(), &recordingHandler{err: tc.handlerErr}, zap.NewNop().Sugar())
			c.handle(context.Background(), d)
			if ack.acks != tc.wantAck || ack.nacks != tc.wantNack || ack.requeued != tc.wantRequeue {
				t.Fatalf("acks=%d nacks=%d requeued=%v", ack.acks, ack.nacks, ack.requeued)
			}
		})
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaPublisher_Topics(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, config.KafkaConfig{MatchedTopic: "driver-matched", FailedTopic: "driver-matching-failed"})
	ctx := context.Background()
	_ = p.PublishMatched(ctx, matching.DriverMatched{RideID: "r1", DriverID: "d1"})
	_ = p.PublishFailed(ctx, matching.MatchingFailed{RideID: "r2"})

	if len(w.msgs) != 2 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	if w.msgs[0].Topic != "driver-matched" || string(w.msgs[0].Key) != "r1" {
		t.Fatalf("first = %s/%s", w.msgs[0].Topic, w.msgs[0].Key)
	}
	if headerValue(w.msgs[1].Headers, typeHeader) != matching.EventMatchingFailed {
		t.Fatalf("second type header = %q", headerValue(w.msgs[1].Headers, typeHeader))
	}
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func TestKafkaConsumer_CommitsEveryMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	typed := func(offset int64, eventType, body string) kafka.Message {
		return kafka.Message{
			Offset:  offset,
			Value:   []byte(body),
			Headers: []kafka.Header{{Key: typeHeader, Value: []byte(eventType)}},
		}
	}
	r := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			typed(1, matching.EventRideCancelled, `{"rideId":"r1","driverId":"d1"}`),
			typed(2, "Unknown", `{}`),
			typed(3, matching.EventRideFinished, `{"rideId":"r2","driverUsername":"d2"}`),
		},
	}
	h := &recordingHandler{}
	if err := NewKafkaConsumer(r, h, zap.NewNop().Sugar()).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.cancelled) != 1 || len(h.finished) != 1 {
		t.Fatalf("handled cancelled=%d finished=%d", len(h.cancelled), len(h.finished))
	}
	if len(r.committed) != 3 {
		t.Fatalf("committed = %v", r.committed)
	}
}
