// README: Decoding of inbound ride events shared by the AMQP and Kafka consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ridematch/internal/modules/matching"
)

var (
	ErrMalformed    = errors.New("events: malformed payload")
	ErrUnknownEvent = errors.New("events: unknown event type")
)

// RideEventHandler is implemented by matching.RideEventListener.
type RideEventHandler interface {
	HandleRideCancelled(ctx context.Context, ev matching.RideCancelled) error
	HandleRideFinished(ctx context.Context, ev matching.RideFinished) error
}

// Dispatch decodes body as eventType and hands it to h. Payload problems are
// reported as ErrMalformed or ErrUnknownEvent so callers can drop the message
// instead of retrying it.
func Dispatch(ctx context.Context, h RideEventHandler, eventType string, body []byte) error {
	switch eventType {
	case matching.EventRideCancelled:
		var ev matching.RideCancelled
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, eventType, err)
		}
		if ev.RideID == "" {
			return fmt.Errorf("%w: %s without rideId", ErrMalformed, eventType)
		}
		return h.HandleRideCancelled(ctx, ev)
	case matching.EventRideFinished:
		var ev matching.RideFinished
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, eventType, err)
		}
		if ev.RideID == "" {
			return fmt.Errorf("%w: %s without rideId", ErrMalformed, eventType)
		}
		return h.HandleRideFinished(ctx, ev)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
}

func dropped(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownEvent)
}
