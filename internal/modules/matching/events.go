// README: Outbound terminal-outcome events and their publication.
package matching

import (
	"context"
	"time"

	"ridematch/internal/types"
)

const (
	EventDriverMatched  = "DriverMatched"
	EventMatchingFailed = "MatchingFailed"
)

type DriverMatched struct {
	RideID    types.ID  `json:"rideId"`
	DriverID  types.ID  `json:"driverId"`
	MatchedAt time.Time `json:"matchedAt"`
}

type MatchingFailed struct {
	RideID   types.ID  `json:"rideId"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

// publishTimeout bounds outbound calls made after the engine context may
// already be cancelled (shutdown, panic recovery).
const publishTimeout = 5 * time.Second

func (svc *Service) publishMatched(s *Session, r *Result) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	ev := DriverMatched{RideID: s.ID, DriverID: r.DriverID, MatchedAt: r.AcceptedAt}
	if err := svc.publisher.PublishMatched(ctx, ev); err != nil {
		svc.log.Errorw("publish driver-matched event", "ride_id", s.ID, "driver_id", r.DriverID, "err", err)
		return
	}
	svc.log.Infow("driver matched", "ride_id", s.ID, "driver_id", r.DriverID)
}

func (svc *Service) publishFailed(s *Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	ev := MatchingFailed{RideID: s.ID, Reason: reason, FailedAt: svc.now()}
	if err := svc.publisher.PublishFailed(ctx, ev); err != nil {
		svc.log.Errorw("publish matching-failed event", "ride_id", s.ID, "reason", reason, "err", err)
		return
	}
	svc.log.Infow("matching failed", "ride_id", s.ID, "reason", reason)
}

// archive stores the terminal snapshot when a history recorder is wired.
func (svc *Service) archive(s *Session) {
	if svc.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := svc.history.Record(ctx, s.Snapshot()); err != nil {
		svc.log.Warnw("archive matching outcome failed", "ride_id", s.ID, "err", err)
	}
}
