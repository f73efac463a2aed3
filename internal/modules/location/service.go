// README: Location service validates driver presence reports and writes them to the store.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ridematch/internal/types"
)

var ErrBadRequest = errors.New("bad request")

type PresenceStore interface {
	UpsertPresence(ctx context.Context, p Presence) error
	RemovePresence(ctx context.Context, id types.ID) error
}

type Service struct {
	store    PresenceStore
	log      *zap.SugaredLogger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store PresenceStore, log *zap.SugaredLogger) *Service {
	return &Service{
		store:    store,
		log:      log.Named("location"),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) UpdatePresence(ctx context.Context, u PresenceUpdate) error {
	if u.DriverID == "" {
		return fmt.Errorf("%w: driver id required", ErrBadRequest)
	}
	if err := s.validate.StructCtx(ctx, u); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	p := Presence{
		DriverID: u.DriverID,
		Position: types.Point{Lat: u.Lat, Lng: u.Lng},
		Active:   u.Active,
		LastSeen: s.now(),
	}
	if err := s.store.UpsertPresence(ctx, p); err != nil {
		return err
	}
	s.log.Debugw("presence updated", "driver_id", u.DriverID, "active", u.Active)
	return nil
}

// GoOffline removes the driver from candidate searches entirely.
func (s *Service) GoOffline(ctx context.Context, id types.ID) error {
	if err := s.store.RemovePresence(ctx, id); err != nil {
		return err
	}
	s.log.Debugw("driver went offline", "driver_id", id)
	return nil
}
