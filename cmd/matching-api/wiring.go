// README: Adapter selection by configuration: candidate source, offer channel, event bus, auth and ETA.
package main

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridematch/internal/config"
	"ridematch/internal/http/middleware"
	"ridematch/internal/infra"
	"ridematch/internal/modules/eta"
	"ridematch/internal/modules/events"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/matching"
	"ridematch/internal/modules/notify"
)

type runner interface {
	Run(ctx context.Context) error
}

type wiring struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	rdb     *redis.Client
	fb      *firebase.App
	closers []func() error
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			w.log.Warnw("close failed", "err", err)
		}
	}
}

func (w *wiring) firebaseApp(ctx context.Context) (*firebase.App, error) {
	if w.fb != nil {
		return w.fb, nil
	}
	fc := w.cfg.Firebase
	app, err := infra.NewFirebaseApp(ctx, fc.ProjectID, fc.CredentialsFile, fc.DatabaseURL)
	if err != nil {
		return nil, err
	}
	w.fb = app
	return app, nil
}

func (w *wiring) candidates(ctx context.Context) (matching.CandidateSource, error) {
	switch w.cfg.Location.Source {
	case "redis":
		return location.NewStore(w.rdb), nil
	case "firebase":
		app, err := w.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
		}
		return location.NewFirebaseSource(client), nil
	}
	return nil, fmt.Errorf("unknown location.source %q", w.cfg.Location.Source)
}

type offerWiring struct {
	channel      matching.OfferChannel
	connectivity matching.ConnectivityLookup
	hub          *notify.Hub
	registry     *notify.RedisConnectivity
}

func (w *wiring) offers(ctx context.Context) (offerWiring, error) {
	var o offerWiring
	switch w.cfg.Offer.Connectivity {
	case "hub":
		if w.cfg.Offer.Channel != "ws" {
			return o, fmt.Errorf("offer.connectivity=hub requires offer.channel=ws")
		}
		o.hub = notify.NewHub(w.log)
		o.channel, o.connectivity = o.hub, o.hub
		return o, nil
	case "redis":
		o.registry = notify.NewRedisConnectivity(w.rdb, w.cfg.Offer.ConnectionTTL)
		o.connectivity = o.registry
	default:
		return o, fmt.Errorf("unknown offer.connectivity %q", w.cfg.Offer.Connectivity)
	}

	switch w.cfg.Offer.Channel {
	case "fcm":
		app, err := w.firebaseApp(ctx)
		if err != nil {
			return o, err
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return o, fmt.Errorf("initialising firebase messaging client: %w", err)
		}
		o.channel = notify.NewFCMChannel(client, w.log)
	case "apigw":
		ac := w.cfg.AWS
		client, err := infra.NewAPIGatewayClient(ctx, ac.Region, ac.WebsocketAPIID, ac.WebsocketStage)
		if err != nil {
			return o, err
		}
		o.channel = notify.NewAPIGatewayChannel(client)
	default:
		return o, fmt.Errorf("offer.channel %q cannot use redis connectivity", w.cfg.Offer.Channel)
	}
	return o, nil
}

type busWiring struct {
	publisher matching.Publisher
	consumers func(events.RideEventHandler) []runner
}

func (w *wiring) eventBus(ctx context.Context) (busWiring, error) {
	none := func(events.RideEventHandler) []runner { return nil }
	switch w.cfg.Events.Bus {
	case "log":
		return busWiring{publisher: events.NewLogPublisher(w.log), consumers: none}, nil
	case "amqp":
		ac := w.cfg.Events.AMQP
		rmq, err := infra.NewRabbitMQ(ctx, ac.URL, w.log)
		if err != nil {
			return busWiring{}, err
		}
		w.closers = append(w.closers, rmq.Close)
		if err := events.DeclareTopology(rmq.Chan, ac); err != nil {
			return busWiring{}, err
		}
		consumeCh, err := rmq.Conn.Channel()
		if err != nil {
			return busWiring{}, fmt.Errorf("amqp consumer channel: %w", err)
		}
		return busWiring{
			publisher: events.NewAMQPPublisher(rmq.Chan, ac, w.log),
			consumers: func(h events.RideEventHandler) []runner {
				return []runner{events.NewAMQPConsumer(consumeCh, ac, h, w.log)}
			},
		}, nil
	case "kafka":
		kc := w.cfg.Events.Kafka
		writer := infra.NewKafkaWriter(kc.Brokers)
		reader := infra.NewKafkaReader(kc.Brokers, kc.GroupID, kc.RideTopic)
		w.closers = append(w.closers, writer.Close, reader.Close)
		return busWiring{
			publisher: events.NewKafkaPublisher(writer, kc),
			consumers: func(h events.RideEventHandler) []runner {
				return []runner{events.NewKafkaConsumer(reader, h, w.log)}
			},
		}, nil
	}
	return busWiring{}, fmt.Errorf("unknown events.bus %q", w.cfg.Events.Bus)
}

func (w *wiring) auth(ctx context.Context) (gin.HandlerFunc, error) {
	switch w.cfg.Auth.Mode {
	case "header":
		return middleware.HeaderAuth(), nil
	case "jwt":
		return middleware.Auth(infra.NewJWTVerifier(w.cfg.Auth.JWTSecret)), nil
	case "firebase":
		app, err := w.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		verifier, err := infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			return nil, err
		}
		return middleware.Auth(verifier), nil
	}
	return nil, fmt.Errorf("unknown auth.mode %q", w.cfg.Auth.Mode)
}

func (w *wiring) etaEstimator() matching.ETAEstimator {
	linear := eta.LinearEstimator{SpeedKmh: w.cfg.Offer.EtaSpeedKmh}
	if w.cfg.Offer.MapsAPIKey == "" {
		return linear
	}
	m, err := eta.NewMapsEstimator(w.cfg.Offer.MapsAPIKey, linear, w.log)
	if err != nil {
		w.log.Warnw("maps estimator unavailable, using linear eta", "err", err)
		return linear
	}
	return m
}
