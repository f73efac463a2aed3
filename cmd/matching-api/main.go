// README: Entry point; loads config, wires the matching engine and its adapters, serves HTTP until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ridematch/internal/config"
	httptransport "ridematch/internal/http"
	"ridematch/internal/infra"
	"ridematch/internal/modules/availability"
	"ridematch/internal/modules/history"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/matching"
)

const drainTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.Log.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	w := &wiring{cfg: &cfg, log: log, rdb: rdb}
	defer w.close()

	var hist *history.Store
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		w.closers = append(w.closers, func() error { pool.Close(); return nil })
		hist = history.NewStore(pool)
		if err := hist.Migrate(ctx); err != nil {
			return err
		}
	}

	candidates, err := w.candidates(ctx)
	if err != nil {
		return err
	}
	offers, err := w.offers(ctx)
	if err != nil {
		return err
	}
	bus, err := w.eventBus(ctx)
	if err != nil {
		return err
	}
	auth, err := w.auth(ctx)
	if err != nil {
		return err
	}

	avail := availability.NewStore(rdb)
	deps := matching.Deps{
		Candidates:   candidates,
		Availability: avail,
		Connectivity: offers.connectivity,
		Offers:       offers.channel,
		Publisher:    bus.publisher,
		ETA:          w.etaEstimator(),
	}
	if hist != nil {
		deps.History = hist
	}
	svc := matching.NewService(cfg.Matching, deps, log)
	if offers.hub != nil {
		offers.hub.SetConfirmer(svc)
	}

	var consumers sync.WaitGroup
	listener := matching.NewRideEventListener(svc)
	for _, c := range bus.consumers(listener) {
		consumers.Add(1)
		go func(c runner) {
			defer consumers.Done()
			if err := c.Run(ctx); err != nil {
				log.Errorw("ride event consumer stopped", "err", err)
			}
		}(c)
	}

	routes := httptransport.RouterDeps{
		Auth:     auth,
		Log:      log,
		Matching: svc,
		Redis:    avail,
		Sessions: svc.Registry().Len,
	}
	if hist != nil {
		routes.History = hist
		routes.DB = hist
	}
	if cfg.Location.Source == "redis" {
		routes.Presence = location.NewService(location.NewStore(rdb), log)
	}
	if offers.hub != nil {
		routes.Websocket = offers.hub
	}
	if offers.registry != nil {
		routes.Connections = offers.registry
	}

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.NewRouter(routes), log)
	serveErr := server.Run(ctx)
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := svc.Shutdown(drainCtx); err != nil {
		log.Warnw("matching sessions did not drain", "err", err)
	}
	if offers.hub != nil {
		offers.hub.Close()
	}
	consumers.Wait()
	log.Infow("matching service stopped")
	return serveErr
}
