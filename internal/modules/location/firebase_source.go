// README: Candidate source backed by Firebase Realtime Database driver locations.
package location

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

// rtdbDriverEntry mirrors a single driver entry under /driver_locations.
type rtdbDriverEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

// FirebaseSource finds online drivers written by the driver app straight
// into the realtime database.
type FirebaseSource struct {
	client *db.Client
}

func NewFirebaseSource(client *db.Client) *FirebaseSource {
	return &FirebaseSource{client: client}
}

// queryOnlineDrivers fetches only drivers with status "online" using an
// ordered query.
func (s *FirebaseSource) queryOnlineDrivers(ctx context.Context) (map[string]rtdbDriverEntry, error) {
	ref := s.client.NewRef("driver_locations")

	var data map[string]rtdbDriverEntry
	if err := ref.OrderByChild("status").EqualTo("online").Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying online drivers: %w", err)
	}
	return data, nil
}

func (s *FirebaseSource) Nearby(ctx context.Context, q matching.NearbyQuery) ([]matching.Candidate, error) {
	data, err := s.queryOnlineDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("location.FirebaseSource.Nearby: %w", err)
	}
	return nearbyFromEntries(data, q), nil
}

func nearbyFromEntries(data map[string]rtdbDriverEntry, q matching.NearbyQuery) []matching.Candidate {
	var result []matching.Candidate
	for driverID, entry := range data {
		pos := types.Point{Lat: entry.Lat, Lng: entry.Lng}
		dist := HaversineKm(q.Center, pos)
		if dist > q.RadiusKm {
			continue
		}
		result = append(result, matching.Candidate{
			DriverID:   types.ID(driverID),
			DistanceKm: dist,
			Active:     entry.Status == "online",
			LastSeen:   time.UnixMilli(entry.Timestamp).UTC(),
			Position:   pos,
		})
	}

	sortByDistance(result, func(c matching.Candidate) float64 { return c.DistanceKm })
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result
}
