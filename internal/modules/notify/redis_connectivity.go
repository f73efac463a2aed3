// README: Redis-backed driver connectivity: handle per driver written by the gateway or device registration.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ridematch/internal/types"
)

// RedisConnectivity maps a driver to the handle its offer channel needs:
// an API Gateway connection id or an FCM device token.
type RedisConnectivity struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisConnectivity(rdb *redis.Client, ttl time.Duration) *RedisConnectivity {
	return &RedisConnectivity{rdb: rdb, ttl: ttl}
}

func connectionKey(id types.ID) string {
	return fmt.Sprintf("matching:driver:%s:connection", id)
}

func (r *RedisConnectivity) Handle(ctx context.Context, driverID types.ID) (string, bool, error) {
	v, err := r.rdb.Get(ctx, connectionKey(driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("notify.Connectivity get %s: %w", driverID, err)
	}
	return v, v != "", nil
}

// Register stores handle for the driver. A zero ttl keeps it until Unregister.
func (r *RedisConnectivity) Register(ctx context.Context, driverID types.ID, handle string) error {
	if err := r.rdb.Set(ctx, connectionKey(driverID), handle, r.ttl).Err(); err != nil {
		return fmt.Errorf("notify.Connectivity set %s: %w", driverID, err)
	}
	return nil
}

func (r *RedisConnectivity) Unregister(ctx context.Context, driverID types.ID) error {
	return r.rdb.Del(ctx, connectionKey(driverID)).Err()
}
