// README: Benchmark runner against a live matching-api; executes HTTP/websocket/DB/Redis checks and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "PASS":
			pass++
		case "FAIL":
			fail++
		case "SKIP":
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL       string
	DSN           string
	RedisAddr     string
	MigrationPath string
	Strict        bool
	Timeout       time.Duration
	Concurrency   int
	Duration      time.Duration
	Confirmation  time.Duration
}

// loadConfig reads RIDEMATCH_* environment defaults; flags override them.
func loadConfig(args []string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RIDEMATCH")
	v.AutomaticEnv()
	v.SetDefault("bench_base_url", "http://localhost:8080")
	v.SetDefault("db_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("bench_migration", "internal/modules/history/migrations/0001_init.sql")
	v.SetDefault("bench_strict", false)
	v.SetDefault("bench_timeout", 90*time.Second)
	v.SetDefault("bench_concurrency", 20)
	v.SetDefault("bench_duration", 10*time.Second)
	v.SetDefault("matching_confirmation_timeout", 15*time.Second)

	var cfg Config
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "base-url", v.GetString("bench_base_url"), "API base URL")
	fs.StringVar(&cfg.DSN, "dsn", v.GetString("db_dsn"), "Postgres DSN (history checks are skipped when empty)")
	fs.StringVar(&cfg.RedisAddr, "redis", v.GetString("redis_addr"), "Redis address")
	fs.StringVar(&cfg.MigrationPath, "migration", v.GetString("bench_migration"), "Migration SQL path")
	fs.BoolVar(&cfg.Strict, "strict", v.GetBool("bench_strict"), "Fail on skipped cases")
	fs.DurationVar(&cfg.Timeout, "timeout", v.GetDuration("bench_timeout"), "Total timeout")
	fs.IntVar(&cfg.Concurrency, "concurrency", v.GetInt("bench_concurrency"), "Concurrency for perf tests")
	fs.DurationVar(&cfg.Duration, "duration", v.GetDuration("bench_duration"), "Duration for perf tests")
	fs.DurationVar(&cfg.Confirmation, "confirmation-timeout", v.GetDuration("matching_confirmation_timeout"), "Server confirmation timeout, bounds flow waits")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}
