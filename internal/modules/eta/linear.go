// README: Straight-line ETA at a fixed average speed.
package eta

import (
	"context"
	"errors"
	"time"

	"ridematch/internal/types"
)

const defaultSpeedKmh = 30.0

var ErrNoRoute = errors.New("eta: no route found")

// LinearEstimator converts the candidate's straight-line distance to a
// travel time at SpeedKmh.
type LinearEstimator struct {
	SpeedKmh float64
}

func (l LinearEstimator) Estimate(_ context.Context, _, _ types.Point, distanceKm float64) (time.Duration, error) {
	speed := l.SpeedKmh
	if speed <= 0 {
		speed = defaultSpeedKmh
	}
	if distanceKm < 0 {
		distanceKm = 0
	}
	return time.Duration(distanceKm * float64(time.Hour) / speed), nil
}
