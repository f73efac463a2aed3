// README: Matching session statuses, request/candidate/attempt types and the transition table.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"ridematch/internal/types"
)

type Status string

const (
	StatusInProgress          Status = "IN_PROGRESS"
	StatusWaitingConfirmation Status = "WAITING_CONFIRMATION"
	StatusCompleted           Status = "COMPLETED"
	StatusNoDriversAvailable  Status = "NO_DRIVERS_AVAILABLE"
	StatusCancelled           Status = "CANCELLED"
	StatusFailed              Status = "FAILED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoDriversAvailable, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// AllowedTransitions represents the session state flow as code. The only
// cycle is IN_PROGRESS <-> WAITING_CONFIRMATION while walking candidates.
var AllowedTransitions = map[Status][]Status{
	StatusInProgress:          {StatusWaitingConfirmation, StatusNoDriversAvailable, StatusCancelled, StatusFailed},
	StatusWaitingConfirmation: {StatusInProgress, StatusCompleted, StatusCancelled, StatusFailed},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type AttemptOutcome string

const (
	OutcomeAccepted  AttemptOutcome = "accepted"
	OutcomeDeclined  AttemptOutcome = "declined"
	OutcomeTimeout   AttemptOutcome = "timeout"
	OutcomeError     AttemptOutcome = "error"
	OutcomeCancelled AttemptOutcome = "cancelled"
)

// Location is an address with its coordinates.
type Location struct {
	Address string  `json:"address" validate:"required"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (l Location) Point() types.Point {
	return types.Point{Lat: l.Lat, Lng: l.Lng}
}

// Request is the immutable ride snapshot a session is created from. RideID
// may be left empty, in which case a matching id is generated.
type Request struct {
	RideID         types.ID        `json:"rideId"`
	PassengerID    types.ID        `json:"passengerId" validate:"required"`
	Pickup         Location        `json:"pickup"`
	Dropoff        Location        `json:"dropoff"`
	EstimatedPrice decimal.Decimal `json:"estimatedPrice" validate:"gt=0"`
}

type Candidate struct {
	DriverID   types.ID    `json:"driverId"`
	DistanceKm float64     `json:"distanceKm"`
	Active     bool        `json:"active"`
	LastSeen   time.Time   `json:"lastSeen"`
	Position   types.Point `json:"position"`
}

type NearbyQuery struct {
	Center   types.Point
	RadiusKm float64
	Limit    int
}

type Attempt struct {
	DriverID    types.ID       `json:"driverId"`
	DistanceKm  float64        `json:"distanceKm"`
	Outcome     AttemptOutcome `json:"outcome"`
	OfferedAt   time.Time      `json:"offeredAt"`
	RespondedAt time.Time      `json:"respondedAt"`
}

// Latency is the time between the offer and its resolution.
func (a Attempt) Latency() time.Duration {
	return a.RespondedAt.Sub(a.OfferedAt)
}

type Result struct {
	DriverID   types.ID  `json:"driverId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Response is a driver's answer to the outstanding offer.
type Response struct {
	Accepted bool
	At       time.Time
}

// StatusView is an immutable copy of a session for status queries and the
// outcome archive.
type StatusView struct {
	RideID          types.ID  `json:"rideId"`
	PassengerID     types.ID  `json:"passengerId"`
	Status          Status    `json:"status"`
	CurrentDriverID types.ID  `json:"currentDriverId,omitempty"`
	AttemptsCount   int       `json:"attemptsCount"`
	Attempts        []Attempt `json:"attempts"`
	CandidatesCount int       `json:"candidatesCount"`
	StartedAt       time.Time `json:"startedAt"`
	LastUpdateAt    time.Time `json:"lastUpdateAt"`
	Result          *Result   `json:"result,omitempty"`
	FailureReason   string    `json:"failureReason,omitempty"`
}

type StartedResponse struct {
	RideID  types.ID `json:"rideId"`
	Status  Status   `json:"status"`
	Message string   `json:"message"`
}

type ConfirmCommand struct {
	RideID   types.ID
	DriverID types.ID
	Accepted bool
}

// DriverState is the value kept in the availability store for a driver.
// No record means the driver is idle.
type DriverState string

const (
	DriverPendingRequest  DriverState = "PENDING_REQUEST"
	DriverRidingCurrently DriverState = "RIDING_CURRENTLY"
)

// Reservation is a driver's availability record. Holder identifies the
// session that wrote it and starts with the ride id.
type Reservation struct {
	State  DriverState
	Holder string
}

// Offer is what a driver is shown for one ride.
type Offer struct {
	OfferID        string          `json:"offerId"`
	DriverID       types.ID        `json:"driverId"`
	RideID         types.ID        `json:"rideId"`
	Pickup         Location        `json:"pickup"`
	Dropoff        Location        `json:"dropoff"`
	EstimatedPrice decimal.Decimal `json:"estimatedPrice"`
	DistanceKm     float64         `json:"distanceKm"`
	ETAMinutes     int             `json:"etaMinutes"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// Cancellation tells a driver a ride they were serving or offered is gone.
type Cancellation struct {
	DriverID types.ID `json:"driverId"`
	RideID   types.ID `json:"rideId"`
}

const (
	startedMessage        = "Driver matching process started"
	reasonNoDriversInArea = "No drivers available in the area"
	reasonNoneAccepted    = "No drivers accepted the ride request"
	reasonInternalPrefix  = "Internal error: "
)
