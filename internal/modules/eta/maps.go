// README: Google Maps Directions ETA with a linear fallback.
package eta

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"ridematch/internal/types"
)

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// MapsEstimator asks the Directions API for the driving time from the
// driver to the pickup point.
type MapsEstimator struct {
	client   directionsClient
	fallback LinearEstimator
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewMapsEstimator(apiKey string, fallback LinearEstimator, log *zap.SugaredLogger) (*MapsEstimator, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &MapsEstimator{client: client, fallback: fallback, timeout: 2 * time.Second, log: log.Named("eta")}, nil
}

// Estimate never fails: Directions errors fall back to the linear estimate.
func (m *MapsEstimator) Estimate(ctx context.Context, from, to types.Point, distanceKm float64) (time.Duration, error) {
	d, err := m.directions(ctx, from, to)
	if err != nil {
		m.log.Debugw("directions failed, using linear eta", "err", err)
		return m.fallback.Estimate(ctx, from, to, distanceKm)
	}
	return d, nil
}

func (m *MapsEstimator) directions(ctx context.Context, from, to types.Point) (time.Duration, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := m.client.Directions(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, ErrNoRoute
	}
	return routes[0].Legs[0].Duration, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
