// README: Matching service: starts sessions, takes confirmations and cancellations, answers status queries.
package matching

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ridematch/internal/config"
	"ridematch/internal/types"
)

var (
	ErrNotFound            = errors.New("matching not found")
	ErrInvalidConfirmation = errors.New("invalid confirmation")
	ErrDuplicateSession    = errors.New("matching already in progress")
	ErrBadRequest          = errors.New("bad request")
	ErrShuttingDown        = errors.New("matching service shutting down")
)

// Deps are the collaborators a Service talks to. History and ETA are optional.
type Deps struct {
	Candidates   CandidateSource
	Availability AvailabilityStore
	Connectivity ConnectivityLookup
	Offers       OfferChannel
	Publisher    Publisher
	History      HistoryRecorder
	ETA          ETAEstimator
}

type Service struct {
	cfg          config.MatchingConfig
	registry     *Registry
	candidates   CandidateSource
	availability AvailabilityStore
	connectivity ConnectivityLookup
	offers       OfferChannel
	publisher    Publisher
	history      HistoryRecorder
	eta          ETAEstimator
	log          *zap.SugaredLogger
	validate     *validator.Validate
	now          func() time.Time

	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool
}

func NewService(cfg config.MatchingConfig, deps Deps, log *zap.SugaredLogger) *Service {
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:          cfg,
		registry:     NewRegistry(cfg.RegistryShards),
		candidates:   deps.Candidates,
		availability: deps.Availability,
		connectivity: deps.Connectivity,
		offers:       deps.Offers,
		publisher:    deps.Publisher,
		history:      deps.History,
		eta:          deps.ETA,
		log:          log.Named("matching"),
		validate:     newValidator(),
		now:          func() time.Time { return time.Now().UTC() },
		ctx:          ctx,
		stop:         stop,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Registry exposes the live sessions, mostly for tests and health output.
func (svc *Service) Registry() *Registry { return svc.registry }

// Start registers a session for req and launches its offer loop. It returns
// as soon as the session is registered; the outcome is observed through
// Status or the published events.
func (svc *Service) Start(ctx context.Context, req Request) (StartedResponse, error) {
	if svc.closing.Load() {
		return StartedResponse{}, ErrShuttingDown
	}
	if err := svc.validate.StructCtx(ctx, req); err != nil {
		return StartedResponse{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if req.RideID == "" {
		req.RideID = types.ID(uuid.NewString())
	}

	s, err := svc.registry.Create(req.RideID, req, svc.now())
	if err != nil {
		return StartedResponse{}, err
	}

	svc.wg.Add(1)
	go svc.run(s)

	svc.log.Infow("matching started", "ride_id", s.ID, "passenger_id", req.PassengerID)
	return StartedResponse{RideID: s.ID, Status: StatusInProgress, Message: startedMessage}, nil
}

// Confirm records a driver's answer to the offer it currently holds.
func (svc *Service) Confirm(ctx context.Context, cmd ConfirmCommand) error {
	s, ok := svc.registry.Get(cmd.RideID)
	if !ok {
		return ErrNotFound
	}
	if err := s.confirm(cmd.DriverID, cmd.Accepted, svc.now()); err != nil {
		svc.log.Warnw("confirmation rejected", "ride_id", cmd.RideID, "driver_id", cmd.DriverID, "accepted", cmd.Accepted)
		return err
	}
	svc.log.Infow("confirmation received", "ride_id", cmd.RideID, "driver_id", cmd.DriverID, "accepted", cmd.Accepted)
	if !cmd.Accepted {
		svc.release(ctx, cmd.DriverID, s.holder)
	}
	return nil
}

// ConfirmDriver is Confirm reduced to success or failure.
func (svc *Service) ConfirmDriver(ctx context.Context, rideID, driverID types.ID, accepted bool) bool {
	return svc.Confirm(ctx, ConfirmCommand{RideID: rideID, DriverID: driverID, Accepted: accepted}) == nil
}

// Cancel stops the session for rideID and releases any driver it reserved.
// The offer loop notices at its next checkpoint and exits quietly.
func (svc *Service) Cancel(ctx context.Context, rideID types.ID) error {
	s, ok := svc.registry.Get(rideID)
	if !ok {
		return ErrNotFound
	}
	driverID, ok := s.cancel(svc.now())
	if !ok {
		return ErrNotFound
	}
	svc.registry.RemoveSession(s)
	if driverID != "" {
		svc.release(ctx, driverID, s.holder)
	}
	svc.log.Infow("matching cancelled", "ride_id", rideID, "released_driver_id", driverID)
	svc.archive(s)
	return nil
}

// CancelMatching is Cancel reduced to success or failure.
func (svc *Service) CancelMatching(ctx context.Context, rideID types.ID) bool {
	return svc.Cancel(ctx, rideID) == nil
}

func (svc *Service) Status(rideID types.ID) (StatusView, error) {
	s, ok := svc.registry.Get(rideID)
	if !ok {
		return StatusView{}, ErrNotFound
	}
	return s.Snapshot(), nil
}

// Shutdown stops accepting sessions, interrupts running loops and waits for
// them to finish or for ctx to expire.
func (svc *Service) Shutdown(ctx context.Context) error {
	svc.closing.Store(true)
	svc.stop()

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the goroutine boundary for one session.
func (svc *Service) run(s *Session) {
	defer svc.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			svc.log.Errorw("matching loop panicked", "ride_id", s.ID, "panic", r, "stack", string(debug.Stack()))
			svc.failSession(s, fmt.Sprintf("%s%v", reasonInternalPrefix, r))
		}
	}()

	if err := svc.match(svc.ctx, s); err != nil {
		svc.log.Errorw("matching loop failed", "ride_id", s.ID, "err", err)
		svc.failSession(s, reasonInternalPrefix+err.Error())
	}
}

func (svc *Service) match(ctx context.Context, s *Session) error {
	candidates, err := svc.fetchCandidates(ctx, s.Request)
	if err != nil {
		return err
	}
	if !s.setCandidates(candidates, svc.now()) {
		return nil
	}
	if len(candidates) == 0 {
		svc.finishUnmatched(s, reasonNoDriversInArea)
		return nil
	}

	for i, c := range candidates {
		if s.Cancelled() {
			return nil
		}
		if ctx.Err() != nil {
			return ErrShuttingDown
		}

		res, err := svc.offer(ctx, s, c)
		if err != nil {
			return err
		}
		switch res {
		case offerAccepted, offerCancelled:
			return nil
		case offerRejected:
			if i < len(candidates)-1 && !svc.pause(ctx, s) {
				if s.Cancelled() {
					return nil
				}
				return ErrShuttingDown
			}
		}
	}

	svc.finishUnmatched(s, reasonNoneAccepted)
	return nil
}

// fetchCandidates asks for twice the configured number of drivers, keeps the
// active ones, sorts them nearest first and caps the list.
func (svc *Service) fetchCandidates(ctx context.Context, req Request) ([]Candidate, error) {
	found, err := svc.candidates.Nearby(ctx, NearbyQuery{
		Center:   req.Pickup.Point(),
		RadiusKm: svc.cfg.SearchRadiusKm,
		Limit:    svc.cfg.MaxDriversToTry * 2,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate lookup: %w", err)
	}

	active := make([]Candidate, 0, len(found))
	for _, c := range found {
		if c.Active {
			active = append(active, c)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].DistanceKm < active[j].DistanceKm })
	if len(active) > svc.cfg.MaxDriversToTry {
		active = active[:svc.cfg.MaxDriversToTry]
	}
	return active, nil
}

// pause waits out the inter-attempt delay. It returns false if the session
// was cancelled or the engine is stopping.
func (svc *Service) pause(ctx context.Context, s *Session) bool {
	if svc.cfg.DelayBetweenAttempts <= 0 {
		return true
	}
	t := time.NewTimer(svc.cfg.DelayBetweenAttempts)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (svc *Service) finishUnmatched(s *Session, reason string) {
	if !s.finish(StatusNoDriversAvailable, reason, svc.now()) {
		return
	}
	svc.registry.RemoveSession(s)
	svc.publishFailed(s, reason)
	svc.archive(s)
}

func (svc *Service) failSession(s *Session, reason string) {
	driverID, ok := s.fail(reason, svc.now())
	if !ok {
		return
	}
	svc.registry.RemoveSession(s)
	if driverID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		svc.release(ctx, driverID, s.holder)
		cancel()
	}
	svc.publishFailed(s, reason)
	svc.archive(s)
}

// release drops a driver's reservation written by holder. Failures are
// logged; the reservation TTL clears it eventually.
func (svc *Service) release(ctx context.Context, driverID types.ID, holder string) {
	if err := svc.availability.Release(ctx, driverID, holder); err != nil {
		svc.log.Warnw("release driver reservation failed", "holder", holder, "driver_id", driverID, "err", err)
	}
}
