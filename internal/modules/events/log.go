// README: Publisher that only logs outcome events, for local runs without a broker.
package events

import (
	"context"

	"go.uber.org/zap"

	"ridematch/internal/modules/matching"
)

type LogPublisher struct {
	log *zap.SugaredLogger
}

func NewLogPublisher(log *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{log: log.Named("events")}
}

func (p *LogPublisher) PublishMatched(_ context.Context, ev matching.DriverMatched) error {
	p.log.Infow(matching.EventDriverMatched, "ride_id", ev.RideID, "driver_id", ev.DriverID, "matched_at", ev.MatchedAt)
	return nil
}

func (p *LogPublisher) PublishFailed(_ context.Context, ev matching.MatchingFailed) error {
	p.log.Infow(matching.EventMatchingFailed, "ride_id", ev.RideID, "reason", ev.Reason, "failed_at", ev.FailedAt)
	return nil
}
