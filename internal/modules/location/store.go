// README: Redis-backed candidate source: GEO set of driver positions plus a presence hash per driver.
package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

const (
	driverGeoKey      = "matching:drivers"
	presenceKeyPrefix = "matching:driver:%s:presence"
	// presence older than this is dropped by Redis; Nearby prunes the
	// matching GEO entry when it next sees it.
	presenceTTL = 10 * time.Minute
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// UpsertPresence writes the driver's position and activity flag in one
// round trip.
func (s *Store) UpsertPresence(ctx context.Context, p Presence) error {
	key := presenceKey(p.DriverID)
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(p.DriverID),
		Longitude: p.Position.Lng,
		Latitude:  p.Position.Lat,
	})
	pipe.HSet(ctx, key,
		"active", strconv.FormatBool(p.Active),
		"last_seen", p.LastSeen.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("location.UpsertPresence: %w", err)
	}
	return nil
}

func (s *Store) RemovePresence(ctx context.Context, id types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(id))
	pipe.Del(ctx, presenceKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("location.RemovePresence: %w", err)
	}
	return nil
}

// pruneScript drops a driver's GEO member once its presence hash is gone.
// A driver who reappeared since the read keeps its entry.
var pruneScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// Nearby returns drivers inside the radius, nearest first, with their
// presence attached. Members whose presence expired are pruned and left out.
// The search widens until Limit active drivers are found or the radius holds
// no more members, so inactive drivers can push the result past Limit.
func (s *Store) Nearby(ctx context.Context, q matching.NearbyQuery) ([]matching.Candidate, error) {
	count := q.Limit
	for {
		results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
			GeoSearchQuery: redis.GeoSearchQuery{
				Longitude:  q.Center.Lng,
				Latitude:   q.Center.Lat,
				Radius:     q.RadiusKm,
				RadiusUnit: "km",
				Sort:       "ASC",
				Count:      count,
			},
			WithCoord: true,
			WithDist:  true,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("location.Nearby: %w", err)
		}

		out, stale, err := s.attachPresence(ctx, results)
		if err != nil {
			return nil, err
		}
		s.prune(ctx, stale)

		if count <= 0 || len(results) < count || activeCount(out) >= q.Limit {
			return out, nil
		}
		count *= 2
	}
}

func (s *Store) attachPresence(ctx context.Context, results []redis.GeoLocation) ([]matching.Candidate, []types.ID, error) {
	if len(results) == 0 {
		return nil, nil, nil
	}
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(results))
	for i, r := range results {
		cmds[i] = pipe.HGetAll(ctx, presenceKey(types.ID(r.Name)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, fmt.Errorf("location.Nearby presence: %w", err)
	}

	out := make([]matching.Candidate, 0, len(results))
	var stale []types.ID
	for i, r := range results {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			stale = append(stale, types.ID(r.Name))
			continue
		}
		c := matching.Candidate{
			DriverID:   types.ID(r.Name),
			DistanceKm: r.Dist,
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
		}
		c.Active, _ = strconv.ParseBool(fields["active"])
		if ts, err := time.Parse(time.RFC3339Nano, fields["last_seen"]); err == nil {
			c.LastSeen = ts
		}
		out = append(out, c)
	}
	return out, stale, nil
}

// prune is best effort; a member that survives is pruned on a later search.
func (s *Store) prune(ctx context.Context, ids []types.ID) {
	for _, id := range ids {
		_ = pruneScript.Run(ctx, s.redis, []string{driverGeoKey, presenceKey(id)}, string(id)).Err()
	}
}

func activeCount(cs []matching.Candidate) int {
	n := 0
	for _, c := range cs {
		if c.Active {
			n++
		}
	}
	return n
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func presenceKey(id types.ID) string {
	return fmt.Sprintf(presenceKeyPrefix, string(id))
}
