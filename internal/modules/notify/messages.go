// README: Wire messages exchanged with driver apps over every offer channel.
package notify

import (
	"encoding/json"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

const (
	EventRideOffer     = "RIDE_OFFER"
	EventRideCancelled = "RIDE_CANCELLED"
	FrameRideResponse  = "RIDE_RESPONSE"
	FrameResponseAck   = "RIDE_RESPONSE_ACK"
)

type RideOffer struct {
	EventType string `json:"eventType"`
	matching.Offer
}

type RideCancellation struct {
	EventType string `json:"eventType"`
	matching.Cancellation
}

// RideResponse is a driver's answer sent back over the websocket.
type RideResponse struct {
	Type     string   `json:"type"`
	RideID   types.ID `json:"rideId"`
	Accepted bool     `json:"accepted"`
}

type ResponseAck struct {
	Type    string   `json:"type"`
	RideID  types.ID `json:"rideId"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
}

func offerPayload(o matching.Offer) ([]byte, error) {
	return json.Marshal(RideOffer{EventType: EventRideOffer, Offer: o})
}

func cancellationPayload(c matching.Cancellation) ([]byte, error) {
	return json.Marshal(RideCancellation{EventType: EventRideCancelled, Cancellation: c})
}
