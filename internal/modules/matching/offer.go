// README: One offer attempt: availability check, reservation, dispatch and the confirmation wait.
package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type offerResult int

const (
	// offerSkipped means the driver was busy, offline or lost the
	// reservation race; no attempt was recorded.
	offerSkipped offerResult = iota
	offerRejected
	offerAccepted
	offerCancelled
)

// offer runs one attempt against candidate c. The only error it returns is
// ErrShuttingDown; collaborator failures degrade to a skip or an error
// attempt.
func (svc *Service) offer(ctx context.Context, s *Session, c Candidate) (offerResult, error) {
	log := svc.log.With("ride_id", s.ID, "driver_id", c.DriverID)

	if _, busy, err := svc.availability.Get(ctx, c.DriverID); err != nil {
		log.Warnw("availability lookup failed, skipping driver", "err", err)
		return offerSkipped, nil
	} else if busy {
		log.Debugw("driver busy, skipping")
		return offerSkipped, nil
	}

	handle, online, err := svc.connectivity.Handle(ctx, c.DriverID)
	if err != nil {
		log.Warnw("connectivity lookup failed, skipping driver", "err", err)
		return offerSkipped, nil
	}
	if !online {
		log.Debugw("driver offline, skipping")
		return offerSkipped, nil
	}

	ttl := svc.cfg.ConfirmationTimeout + svc.cfg.ReservationGrace
	reserved, err := svc.availability.Reserve(ctx, c.DriverID, s.holder, ttl)
	if err != nil {
		log.Warnw("reserve driver failed, skipping driver", "err", err)
		return offerSkipped, nil
	}
	if !reserved {
		log.Debugw("driver reserved by another ride, skipping")
		return offerSkipped, nil
	}

	// From here on the reservation belongs to this session and must end up
	// promoted or released.
	releaseCtx := context.WithoutCancel(ctx)

	if !s.beginOffer(c, svc.now()) {
		svc.release(releaseCtx, c.DriverID, s.holder)
		return offerCancelled, nil
	}

	fallback := OutcomeTimeout
	if err := svc.offers.SendOffer(ctx, handle, svc.buildOffer(ctx, s, c)); err != nil {
		log.Warnw("offer dispatch failed", "err", err)
		fallback = OutcomeError
	} else {
		log.Infow("offer dispatched", "distance_km", c.DistanceKm)
	}

	got := svc.awaitResponse(ctx, s)
	if got == nil && ctx.Err() != nil {
		fallback = OutcomeError
	}

	accepted, outcome, ok := s.settleOffer(got, fallback, svc.now())
	if !ok {
		svc.release(releaseCtx, c.DriverID, s.holder)
		return offerCancelled, nil
	}
	if !accepted {
		log.Infow("offer not accepted", "outcome", outcome)
		svc.release(releaseCtx, c.DriverID, s.holder)
		if ctx.Err() != nil {
			return offerRejected, ErrShuttingDown
		}
		return offerRejected, nil
	}

	if err := svc.availability.Put(releaseCtx, c.DriverID, Reservation{State: DriverRidingCurrently, Holder: s.holder}); err != nil {
		log.Errorw("promote driver failed, treating as error", "err", err)
		s.revertAccepted(svc.now())
		svc.release(releaseCtx, c.DriverID, s.holder)
		return offerRejected, nil
	}

	result, ok := s.complete(svc.now())
	if !ok {
		// cancelled between the answer and the promotion
		svc.release(releaseCtx, c.DriverID, s.holder)
		return offerCancelled, nil
	}
	svc.registry.RemoveSession(s)
	svc.publishMatched(s, result)
	svc.archive(s)
	return offerAccepted, nil
}

// awaitResponse blocks until the driver answers, the session is cancelled,
// the confirmation timeout elapses or the engine stops. It returns the
// answer if one was received.
func (svc *Service) awaitResponse(ctx context.Context, s *Session) *Response {
	t := time.NewTimer(svc.cfg.ConfirmationTimeout)
	defer t.Stop()
	select {
	case r := <-s.response:
		return &r
	case <-s.Done():
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}

func (svc *Service) buildOffer(ctx context.Context, s *Session, c Candidate) Offer {
	req := s.Request
	o := Offer{
		OfferID:        uuid.NewString(),
		DriverID:       c.DriverID,
		RideID:         s.ID,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		EstimatedPrice: req.EstimatedPrice,
		DistanceKm:     c.DistanceKm,
		ExpiresAt:      svc.now().Add(svc.cfg.ConfirmationTimeout),
	}
	if svc.eta != nil {
		eta, err := svc.eta.Estimate(ctx, c.Position, req.Pickup.Point(), c.DistanceKm)
		if err != nil {
			svc.log.Debugw("eta estimate failed", "ride_id", s.ID, "driver_id", c.DriverID, "err", err)
		} else {
			o.ETAMinutes = int((eta + time.Minute - 1) / time.Minute)
		}
	}
	return o
}
