// README: Driver availability records in Redis; reservation is SET NX with a TTL, release is compare-and-delete.
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

const statusKeyPrefix = "matching:driver:%s:status"

// releaseScript deletes KEYS[1] only if its holder part equals ARGV[1].
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then return 0 end
local sep = string.find(v, "|", 1, true)
if sep and string.sub(v, sep + 1) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var ErrCorruptRecord = errors.New("availability: corrupt record")

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Get(ctx context.Context, driverID types.ID) (matching.Reservation, bool, error) {
	val, err := s.redis.Get(ctx, statusKey(driverID)).Result()
	if err == redis.Nil {
		return matching.Reservation{}, false, nil
	}
	if err != nil {
		return matching.Reservation{}, false, fmt.Errorf("availability.Get: %w", err)
	}
	r, err := decode(val)
	if err != nil {
		return matching.Reservation{}, false, err
	}
	return r, true, nil
}

// Reserve marks the driver PENDING_REQUEST for holder if no record exists.
func (s *Store) Reserve(ctx context.Context, driverID types.ID, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, statusKey(driverID), encode(matching.Reservation{
		State:  matching.DriverPendingRequest,
		Holder: holder,
	}), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("availability.Reserve: %w", err)
	}
	return ok, nil
}

// Put overwrites the record without expiry.
func (s *Store) Put(ctx context.Context, driverID types.ID, r matching.Reservation) error {
	if err := s.redis.Set(ctx, statusKey(driverID), encode(r), 0).Err(); err != nil {
		return fmt.Errorf("availability.Put: %w", err)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, driverID types.ID, holder string) error {
	if err := releaseScript.Run(ctx, s.redis, []string{statusKey(driverID)}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("availability.Release: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, driverID types.ID) error {
	if err := s.redis.Del(ctx, statusKey(driverID)).Err(); err != nil {
		return fmt.Errorf("availability.Delete: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func statusKey(id types.ID) string {
	return fmt.Sprintf(statusKeyPrefix, string(id))
}

// encode stores "STATE|holder"; a bare "STATE" written by another service
// decodes with an empty holder.
func encode(r matching.Reservation) string {
	return string(r.State) + "|" + r.Holder
}

func decode(v string) (matching.Reservation, error) {
	state, holder, _ := strings.Cut(v, "|")
	switch matching.DriverState(state) {
	case matching.DriverPendingRequest, matching.DriverRidingCurrently:
	default:
		return matching.Reservation{}, fmt.Errorf("%w: %q", ErrCorruptRecord, v)
	}
	return matching.Reservation{State: matching.DriverState(state), Holder: holder}, nil
}
