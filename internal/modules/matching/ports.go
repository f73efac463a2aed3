// README: Interfaces the matching engine needs from the outside world.
package matching

import (
	"context"
	"time"

	"ridematch/internal/types"
)

// CandidateSource finds drivers near a point, nearest first or in any order.
type CandidateSource interface {
	Nearby(ctx context.Context, q NearbyQuery) ([]Candidate, error)
}

// AvailabilityStore keeps a driver's busy flag. Reserve is a single-key
// compare-and-set: it only succeeds when the driver has no record.
type AvailabilityStore interface {
	Get(ctx context.Context, driverID types.ID) (Reservation, bool, error)
	Reserve(ctx context.Context, driverID types.ID, holder string, ttl time.Duration) (bool, error)
	Put(ctx context.Context, driverID types.ID, r Reservation) error
	// Release deletes the record only if holder still owns it.
	Release(ctx context.Context, driverID types.ID, holder string) error
	Delete(ctx context.Context, driverID types.ID) error
}

// ConnectivityLookup resolves the channel handle a driver is reachable on.
type ConnectivityLookup interface {
	Handle(ctx context.Context, driverID types.ID) (string, bool, error)
}

// OfferChannel delivers messages to a driver's handle. Delivery is best
// effort; a nil error does not mean the driver saw it.
type OfferChannel interface {
	SendOffer(ctx context.Context, handle string, o Offer) error
	SendCancellation(ctx context.Context, handle string, c Cancellation) error
}

type Publisher interface {
	PublishMatched(ctx context.Context, e DriverMatched) error
	PublishFailed(ctx context.Context, e MatchingFailed) error
}

// HistoryRecorder archives a session once it reaches a terminal state.
type HistoryRecorder interface {
	Record(ctx context.Context, v StatusView) error
}

type ETAEstimator interface {
	Estimate(ctx context.Context, from, to types.Point, distanceKm float64) (time.Duration, error)
}
