// README: Inbound ride lifecycle events (cancelled, finished) driving cancellation and driver release.
package matching

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ridematch/internal/types"
)

const (
	EventRideCancelled = "RideCancelled"
	EventRideFinished  = "RideFinished"
)

type RideCancelled struct {
	CancelRideEventID types.ID `json:"cancelRideEventId"`
	RideID            types.ID `json:"rideId"`
	RefundPercentage  float64  `json:"refundPercentage"`
	DriverID          types.ID `json:"driverId"`
}

type RideFinished struct {
	RideFinishedEventID types.ID        `json:"rideFinishedEventId"`
	DriverUsername      types.ID        `json:"driverUsername"`
	RideID              types.ID        `json:"rideId"`
	StartTime           time.Time       `json:"startTime"`
	EndTime             time.Time       `json:"endTime"`
	DriverEarning       decimal.Decimal `json:"driverEarning"`
}

// RideEventListener applies upstream ride events to matching state. The
// driver's availability record is cleared whether or not a session is still
// live, since matching may have completed long before.
type RideEventListener struct {
	svc *Service
}

func NewRideEventListener(svc *Service) *RideEventListener {
	return &RideEventListener{svc: svc}
}

func (l *RideEventListener) HandleRideCancelled(ctx context.Context, ev RideCancelled) error {
	log := l.svc.log.With("ride_id", ev.RideID, "driver_id", ev.DriverID, "event_id", ev.CancelRideEventID)
	log.Infow("ride cancelled event received", "refund_percentage", ev.RefundPercentage)

	if ev.DriverID != "" {
		l.notifyDriver(ctx, ev)
		if err := l.svc.availability.Delete(ctx, ev.DriverID); err != nil {
			return err
		}
	}
	if err := l.svc.Cancel(ctx, ev.RideID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (l *RideEventListener) HandleRideFinished(ctx context.Context, ev RideFinished) error {
	log := l.svc.log.With("ride_id", ev.RideID, "driver_id", ev.DriverUsername, "event_id", ev.RideFinishedEventID)
	log.Infow("ride finished event received", "driver_earning", ev.DriverEarning.String())

	if ev.DriverUsername != "" {
		if err := l.svc.availability.Delete(ctx, ev.DriverUsername); err != nil {
			return err
		}
	}
	if err := l.svc.Cancel(ctx, ev.RideID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// notifyDriver tells a connected driver the ride is gone. Offline drivers
// and delivery failures are only logged.
func (l *RideEventListener) notifyDriver(ctx context.Context, ev RideCancelled) {
	handle, online, err := l.svc.connectivity.Handle(ctx, ev.DriverID)
	if err != nil {
		l.svc.log.Warnw("connectivity lookup failed", "driver_id", ev.DriverID, "err", err)
		return
	}
	if !online {
		return
	}
	msg := Cancellation{DriverID: ev.DriverID, RideID: ev.RideID}
	if err := l.svc.offers.SendCancellation(ctx, handle, msg); err != nil {
		l.svc.log.Warnw("ride cancellation notification failed", "driver_id", ev.DriverID, "ride_id", ev.RideID, "err", err)
	}
}
