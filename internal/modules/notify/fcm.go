// README: Firebase Cloud Messaging offer channel; the connectivity handle is the driver's device token.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"ridematch/internal/modules/matching"
)

// fcmSender is the subset of *messaging.Client used here.
type fcmSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type FCMChannel struct {
	client fcmSender
	log    *zap.SugaredLogger
}

func NewFCMChannel(client *messaging.Client, log *zap.SugaredLogger) *FCMChannel {
	return &FCMChannel{client: client, log: log.Named("fcm")}
}

// SendOffer pushes a high priority data message to the driver's device.
func (f *FCMChannel) SendOffer(ctx context.Context, deviceToken string, o matching.Offer) error {
	if deviceToken == "" {
		return fmt.Errorf("empty device token for ride %s", o.RideID)
	}
	msg := &messaging.Message{
		Token: deviceToken,
		Data: map[string]string{
			"type":            EventRideOffer,
			"offer_id":        o.OfferID,
			"ride_id":         string(o.RideID),
			"pickup_address":  o.Pickup.Address,
			"pickup_lat":      strconv.FormatFloat(o.Pickup.Lat, 'f', 6, 64),
			"pickup_lng":      strconv.FormatFloat(o.Pickup.Lng, 'f', 6, 64),
			"dropoff_address": o.Dropoff.Address,
			"dropoff_lat":     strconv.FormatFloat(o.Dropoff.Lat, 'f', 6, 64),
			"dropoff_lng":     strconv.FormatFloat(o.Dropoff.Lng, 'f', 6, 64),
			"estimated_price": o.EstimatedPrice.StringFixed(2),
			"distance_km":     strconv.FormatFloat(o.DistanceKm, 'f', 2, 64),
			"eta_minutes":     strconv.Itoa(o.ETAMinutes),
			"expires_at":      strconv.FormatInt(o.ExpiresAt.Unix(), 10),
		},
		Notification: &messaging.Notification{
			Title: "New ride request",
			Body:  fmt.Sprintf("Pickup %.1f km away, estimated fare $%s", o.DistanceKm, o.EstimatedPrice.StringFixed(2)),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	return f.send(ctx, deviceToken, msg)
}

func (f *FCMChannel) SendCancellation(ctx context.Context, deviceToken string, c matching.Cancellation) error {
	if deviceToken == "" {
		return fmt.Errorf("empty device token for ride %s", c.RideID)
	}
	msg := &messaging.Message{
		Token: deviceToken,
		Data: map[string]string{
			"type":    EventRideCancelled,
			"ride_id": string(c.RideID),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	return f.send(ctx, deviceToken, msg)
}

func (f *FCMChannel) send(ctx context.Context, deviceToken string, msg *messaging.Message) error {
	messageID, err := f.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to token %s: %w", deviceToken, err)
	}
	f.log.Debugw("fcm sent", "type", msg.Data["type"], "ride_id", msg.Data["ride_id"], "message_id", messageID)
	return nil
}
