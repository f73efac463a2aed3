package availability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

func TestEncodeDecode(t *testing.T) {
	r := matching.Reservation{State: matching.DriverPendingRequest, Holder: "ride-1/abc"}
	got, err := decode(encode(r))
	if err != nil || got != r {
		t.Fatalf("decode(encode) = %+v, %v", got, err)
	}

	bare, err := decode("RIDING_CURRENTLY")
	if err != nil || bare.State != matching.DriverRidingCurrently || bare.Holder != "" {
		t.Fatalf("bare state = %+v, %v", bare, err)
	}

	if _, err := decode("ON_BREAK|x"); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func newRedisStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("RIDEMATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEMATCH_TEST_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb)
}

func TestStore_ReservationRoundTrip(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	driver := types.ID(fmt.Sprintf("drv_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = s.Delete(ctx, driver) })

	if _, ok, err := s.Get(ctx, driver); err != nil || ok {
		t.Fatalf("fresh driver should be idle: ok=%v err=%v", ok, err)
	}

	ok, err := s.Reserve(ctx, driver, "ride-a/1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first reserve = %v, %v", ok, err)
	}
	ok, err = s.Reserve(ctx, driver, "ride-b/1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second reserve must lose: %v, %v", ok, err)
	}

	// another holder's release is a no-op
	if err := s.Release(ctx, driver, "ride-b/1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	r, ok, err := s.Get(ctx, driver)
	if err != nil || !ok || r.Holder != "ride-a/1" || r.State != matching.DriverPendingRequest {
		t.Fatalf("record = %+v %v %v", r, ok, err)
	}

	if err := s.Put(ctx, driver, matching.Reservation{State: matching.DriverRidingCurrently, Holder: "ride-a/1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ttl, err := s.redis.TTL(ctx, statusKey(driver)).Result()
	if err != nil || ttl != -1 {
		t.Fatalf("riding record should not expire, ttl=%s err=%v", ttl, err)
	}

	if err := s.Release(ctx, driver, "ride-a/1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := s.Get(ctx, driver); ok {
		t.Fatal("record should be gone after owner release")
	}
	if err := s.Release(ctx, driver, "ride-a/1"); err != nil {
		t.Fatalf("release is idempotent, got %v", err)
	}
}

func TestStore_ReservationExpires(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	driver := types.ID(fmt.Sprintf("drv_ttl_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = s.Delete(ctx, driver) })

	if ok, err := s.Reserve(ctx, driver, "ride-x/1", 100*time.Millisecond); err != nil || !ok {
		t.Fatalf("reserve = %v, %v", ok, err)
	}
	time.Sleep(250 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, driver); ok {
		t.Fatal("pending reservation should expire")
	}
}
