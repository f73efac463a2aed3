// README: Benchmark cases: environment, HTTP contract, websocket driver flow, concurrency and throughput.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	run   string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

// id namespaces bench entities so repeated runs do not collide.
func (r *Runner) id(kind string, n int) string {
	return fmt.Sprintf("bench-%s-%s-%d", r.run, kind, n)
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	passenger := r.id("p", 0)
	ride := r.id("ride", 0)
	driver := r.id("d", 0)

	return []TestCase{
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: history tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},

		httpCase("API: health", http.MethodGet, base+"/health", "", nil, http.StatusOK),
		httpCase("API: health redis", http.MethodGet, base+"/health/redis", "", nil, http.StatusOK),

		// Presence
		httpCase("Presence: update own position", http.MethodPut, base+"/api/drivers/"+driver+"/presence", driver,
			presence(25.0330, 121.5654), http.StatusOK),
		httpCase("Presence: invalid coords -> 400", http.MethodPut, base+"/api/drivers/"+driver+"/presence", driver,
			presence(123, 456), http.StatusBadRequest),
		httpCase("Presence: other driver -> 403", http.MethodPut, base+"/api/drivers/"+driver+"/presence", r.id("d", 99),
			presence(25.0330, 121.5654), http.StatusForbidden),
		httpCase("Presence: go offline", http.MethodDelete, base+"/api/drivers/"+driver+"/presence", driver, nil, http.StatusNoContent),

		// Matching contract
		httpCase("Matching: find driver (valid) -> 202", http.MethodPost, base+"/api/matching/find-driver", passenger,
			rideRequest(ride, passenger), http.StatusAccepted),
		httpCase("Matching: duplicate ride -> 409", http.MethodPost, base+"/api/matching/find-driver", passenger,
			rideRequest(ride, passenger), http.StatusConflict),
		httpCase("Matching: missing fields -> 400", http.MethodPost, base+"/api/matching/find-driver", passenger,
			map[string]any{"rideId": r.id("ride", 1)}, http.StatusBadRequest),
		httpCase("Matching: unknown status -> 404", http.MethodGet, base+"/api/matching/"+r.id("ride", 404)+"/status", passenger, nil, http.StatusNotFound),
		httpCase("Matching: confirm without offer -> 400/404", http.MethodPost, base+"/api/matching/confirm", driver,
			map[string]any{"rideId": ride, "accepted": true}, http.StatusBadRequest, http.StatusNotFound),
		httpCase("Matching: history", http.MethodGet, base+"/api/matching/"+ride+"/history", passenger, nil, http.StatusOK),
		httpCase("Matching: cancel", http.MethodDelete, base+"/api/matching/"+ride, passenger, nil, http.StatusOK),
		httpCase("Matching: cancel again -> 404", http.MethodDelete, base+"/api/matching/"+ride, passenger, nil, http.StatusNotFound),

		// End to end
		{
			Name: "Flow: websocket driver declines, second accepts",
			Run:  func(ctx context.Context, r *Runner) Result { return r.declineThenAccept(ctx) },
		},
		{
			Name: "Flow: cancel releases the offered driver",
			Run:  func(ctx context.Context, r *Runner) Result { return r.cancelDuringOffer(ctx) },
		},

		// Concurrency
		{
			Name: "Concurrency: duplicate confirmations, first wins",
			Run:  func(ctx context.Context, r *Runner) Result { return r.concurrentConfirm(ctx) },
		},

		// Performance
		{
			Name: "Perf: presence update throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				d := r.id("perf-d", 0)
				return r.perfLoad(ctx, func(int64) (string, string, string, any) {
					return http.MethodPut, base + "/api/drivers/" + d + "/presence", d, presence(25.0330, 121.5654)
				})
			},
		},
		{
			Name: "Perf: find-driver throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.perfLoad(ctx, func(n int64) (string, string, string, any) {
					id := r.id("perf-ride", int(n))
					return http.MethodPost, base + "/api/matching/find-driver", passenger, rideRequest(id, passenger)
				})
			},
		},
	}
}

func presence(lat, lng float64) map[string]any {
	return map[string]any{"lat": lat, "lng": lng, "active": true}
}

func rideRequest(rideID, passengerID string) map[string]any {
	return map[string]any{
		"rideId":         rideID,
		"passengerId":    passengerID,
		"pickup":         map[string]any{"address": "Taipei 101", "lat": 25.0330, "lng": 121.5654},
		"dropoff":        map[string]any{"address": "Taipei Main Station", "lat": 25.0478, "lng": 121.5170},
		"estimatedPrice": 235.5,
	}
}

func (r *Runner) do(ctx context.Context, method, url, user string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("username", user)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func httpCase(name, method, url, user string, body any, okStatuses ...int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			code, _, err := r.do(ctx, method, url, user, body)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			latency := time.Since(start)
			if contains(okStatuses, code) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", code)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", code)}
		},
	}
}

// simDriver is a driver app connected over the websocket endpoint.
type simDriver struct {
	id string
	ws *websocket.Conn
}

func (r *Runner) connectDriver(ctx context.Context, id string, lat, lng float64) (*simDriver, error) {
	if code, _, err := r.do(ctx, http.MethodPut, r.cfg.BaseURL+"/api/drivers/"+id+"/presence", id, presence(lat, lng)); err != nil || code != http.StatusOK {
		return nil, fmt.Errorf("presence for %s: status=%d err=%v", id, code, err)
	}
	url := "ws" + strings.TrimPrefix(r.cfg.BaseURL, "http") + "/ws/drivers/" + id
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{"username": []string{id}})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", id, err)
	}
	return &simDriver{id: id, ws: ws}, nil
}

func (d *simDriver) close() { _ = d.ws.Close() }

// nextOffer waits for a RIDE_OFFER frame for rideID.
func (d *simDriver) nextOffer(rideID string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		_ = d.ws.SetReadDeadline(deadline)
		var frame map[string]any
		if err := d.ws.ReadJSON(&frame); err != nil {
			return fmt.Errorf("%s waiting for offer: %w", d.id, err)
		}
		if frame["eventType"] == "RIDE_OFFER" && frame["rideId"] == rideID {
			return nil
		}
	}
}

func (d *simDriver) respond(rideID string, accepted bool) error {
	return d.ws.WriteJSON(map[string]any{"type": "RIDE_RESPONSE", "rideId": rideID, "accepted": accepted})
}

func (r *Runner) waitStatus(ctx context.Context, rideID, passenger string, want ...string) (map[string]any, error) {
	deadline := time.Now().Add(r.cfg.Confirmation + 5*time.Second)
	var last map[string]any
	for time.Now().Before(deadline) {
		code, body, err := r.do(ctx, http.MethodGet, r.cfg.BaseURL+"/api/matching/"+rideID+"/status", passenger, nil)
		if err != nil {
			return nil, err
		}
		if code == http.StatusOK {
			last = map[string]any{}
			_ = json.Unmarshal(body, &last)
			for _, w := range want {
				if last["status"] == w {
					return last, nil
				}
			}
		} else if code == http.StatusNotFound {
			// terminal sessions are removed from the live registry
			return map[string]any{"status": "REMOVED"}, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return last, fmt.Errorf("status never reached %v (last=%v)", want, last)
}

func (r *Runner) declineThenAccept(ctx context.Context) Result {
	near, err := r.connectDriver(ctx, r.id("flow-d", 1), 25.0331, 121.5655)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer near.close()
	far, err := r.connectDriver(ctx, r.id("flow-d", 2), 25.0360, 121.5680)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer far.close()

	passenger := r.id("flow-p", 1)
	ride := r.id("flow-ride", 1)
	start := time.Now()
	if code, body, err := r.do(ctx, http.MethodPost, r.cfg.BaseURL+"/api/matching/find-driver", passenger, rideRequest(ride, passenger)); err != nil || code != http.StatusAccepted {
		return Result{Status: "FAIL", Note: fmt.Sprintf("find-driver status=%d body=%s err=%v", code, body, err)}
	}

	if err := near.nextOffer(ride, r.cfg.Confirmation); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if err := near.respond(ride, false); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if err := far.nextOffer(ride, r.cfg.Confirmation+5*time.Second); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if err := far.respond(ride, true); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if _, err := r.waitStatus(ctx, ride, passenger, "COMPLETED"); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	latency := time.Since(start)

	if r.redis != nil {
		v, _ := r.redis.Get(ctx, "matching:driver:"+far.id+":status").Result()
		if !strings.HasPrefix(v, "RIDING_CURRENTLY") {
			return Result{Status: "FAIL", Latency: latency, Note: "accepted driver not marked riding: " + v}
		}
		_ = r.redis.Del(ctx, "matching:driver:"+far.id+":status").Err()
	}
	return Result{Status: "PASS", Latency: latency}
}

func (r *Runner) cancelDuringOffer(ctx context.Context) Result {
	d, err := r.connectDriver(ctx, r.id("cancel-d", 1), 25.0331, 121.5655)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer d.close()

	passenger := r.id("cancel-p", 1)
	ride := r.id("cancel-ride", 1)
	if code, _, err := r.do(ctx, http.MethodPost, r.cfg.BaseURL+"/api/matching/find-driver", passenger, rideRequest(ride, passenger)); err != nil || code != http.StatusAccepted {
		return Result{Status: "FAIL", Note: fmt.Sprintf("find-driver status=%d err=%v", code, err)}
	}
	if err := d.nextOffer(ride, r.cfg.Confirmation); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	start := time.Now()
	if code, _, err := r.do(ctx, http.MethodDelete, r.cfg.BaseURL+"/api/matching/"+ride, passenger, nil); err != nil || code != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("cancel status=%d err=%v", code, err)}
	}
	latency := time.Since(start)
	if r.redis != nil {
		n, err := r.redis.Exists(ctx, "matching:driver:"+d.id+":status").Result()
		if err != nil || n != 0 {
			return Result{Status: "FAIL", Latency: latency, Note: "driver still reserved after cancel"}
		}
	}
	return Result{Status: "PASS", Latency: latency}
}

func (r *Runner) concurrentConfirm(ctx context.Context) Result {
	d, err := r.connectDriver(ctx, r.id("dup-d", 1), 25.0331, 121.5655)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer d.close()

	passenger := r.id("dup-p", 1)
	ride := r.id("dup-ride", 1)
	if code, _, err := r.do(ctx, http.MethodPost, r.cfg.BaseURL+"/api/matching/find-driver", passenger, rideRequest(ride, passenger)); err != nil || code != http.StatusAccepted {
		return Result{Status: "FAIL", Note: fmt.Sprintf("find-driver status=%d err=%v", code, err)}
	}
	if err := d.nextOffer(ride, r.cfg.Confirmation); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	var succ, rejected int64
	wg := sync.WaitGroup{}
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _, err := r.do(ctx, http.MethodPost, r.cfg.BaseURL+"/api/matching/confirm", d.id, map[string]any{"rideId": ride, "accepted": true})
			if err != nil {
				return
			}
			if code == http.StatusOK {
				atomic.AddInt64(&succ, 1)
			} else {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	if r.redis != nil {
		_ = r.redis.Del(ctx, "matching:driver:"+d.id+":status").Err()
	}
	if succ == 1 {
		return Result{Status: "PASS", Note: fmt.Sprintf("success=1 rejected=%d", rejected)}
	}
	return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d rejected=%d", succ, rejected)}
}

func (r *Runner) perfLoad(ctx context.Context, next func(n int64) (method, url, user string, body any)) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, seq int64
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				method, url, user, body := next(atomic.AddInt64(&seq, 1))
				code, _, err := r.do(ctx, method, url, user, body)
				if err != nil || code >= 500 {
					atomic.AddInt64(&errCount, 1)
					continue
				}
				atomic.AddInt64(&count, 1)
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
