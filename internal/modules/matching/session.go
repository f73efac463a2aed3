// README: Per-ride matching session; all mutation goes through methods holding the session lock.
package matching

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ridematch/internal/types"
)

// Session is the live state of one ride's driver-matching attempt. Fields are
// only touched under mu, and mu is never held across external I/O.
type Session struct {
	ID      types.ID
	Request Request
	// holder tags availability records written by this session, so a
	// restarted ride never releases a reservation it does not own.
	holder string

	mu            sync.Mutex
	status        Status
	candidates    []Candidate
	current       *Candidate
	offeredAt     time.Time
	responded     bool
	attemptsCount int
	attempts      []Attempt
	startedAt     time.Time
	lastUpdateAt  time.Time
	result        *Result
	failureReason string
	response      chan Response
	done          chan struct{}
}

func newSession(id types.ID, req Request, now time.Time) *Session {
	return &Session{
		ID:           id,
		Request:      req,
		holder:       string(id) + "/" + uuid.NewString(),
		status:       StatusInProgress,
		startedAt:    now,
		lastUpdateAt: now,
		response:     make(chan Response, 1),
		done:         make(chan struct{}),
	}
}

// Done is closed when the session is cancelled.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Cancelled() bool {
	return s.Status() == StatusCancelled
}

// transition must be called with mu held.
func (s *Session) transition(to Status, now time.Time) bool {
	if !CanTransition(s.status, to) {
		return false
	}
	s.status = to
	s.lastUpdateAt = now
	return true
}

func (s *Session) setCandidates(c []Candidate, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return false
	}
	s.candidates = c
	s.lastUpdateAt = now
	return true
}

// beginOffer marks c as the driver holding the outstanding offer. It fails
// when the session is no longer IN_PROGRESS (cancelled or failed).
func (s *Session) beginOffer(c Candidate, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transition(StatusWaitingConfirmation, now) {
		return false
	}
	cand := c
	s.current = &cand
	s.offeredAt = now
	s.responded = false
	s.attemptsCount++
	select {
	case <-s.response:
	default:
	}
	return true
}

// confirm deposits the driver's answer for the outstanding offer. Only the
// first answer from the driver holding the offer is accepted.
func (s *Session) confirm(driverID types.ID, accepted bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaitingConfirmation || s.current == nil || s.current.DriverID != driverID || s.responded {
		return ErrInvalidConfirmation
	}
	select {
	case s.response <- Response{Accepted: accepted, At: now}:
	default:
		return ErrInvalidConfirmation
	}
	s.responded = true
	s.lastUpdateAt = now
	return nil
}

// settleOffer closes the outstanding offer. A deposited confirmation always
// wins over fallback, even if the timer fired first. got is the response the
// caller already received from the channel, if any.
//
// An accepted offer stays in WAITING_CONFIRMATION for complete or
// revertAccepted. Any other outcome is recorded and the session returns to
// IN_PROGRESS. ok is false when the session was cancelled meanwhile.
func (s *Session) settleOffer(got *Response, fallback AttemptOutcome, now time.Time) (accepted bool, outcome AttemptOutcome, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaitingConfirmation || s.current == nil {
		return false, "", false
	}
	if got == nil && s.responded {
		select {
		case r := <-s.response:
			got = &r
		default:
		}
	}
	// block late confirmations for this offer
	s.responded = true

	respondedAt := now
	outcome = fallback
	if got != nil {
		respondedAt = got.At
		if got.Accepted {
			return true, OutcomeAccepted, true
		}
		outcome = OutcomeDeclined
	}
	s.appendAttempt(outcome, respondedAt)
	s.current = nil
	s.transition(StatusInProgress, now)
	return false, outcome, true
}

// complete finishes an accepted offer. It fails if the session was cancelled
// between settleOffer and here.
func (s *Session) complete(now time.Time) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaitingConfirmation || s.current == nil {
		return nil, false
	}
	s.appendAttempt(OutcomeAccepted, now)
	s.result = &Result{DriverID: s.current.DriverID, AcceptedAt: now}
	s.current = nil
	s.transition(StatusCompleted, now)
	r := *s.result
	return &r, true
}

// revertAccepted abandons an accepted offer whose driver could not be
// promoted, recording it as an error.
func (s *Session) revertAccepted(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaitingConfirmation || s.current == nil {
		return false
	}
	s.appendAttempt(OutcomeError, now)
	s.current = nil
	return s.transition(StatusInProgress, now)
}

// appendAttempt must be called with mu held and current set.
func (s *Session) appendAttempt(outcome AttemptOutcome, at time.Time) {
	s.attempts = append(s.attempts, Attempt{
		DriverID:    s.current.DriverID,
		DistanceKm:  s.current.DistanceKm,
		Outcome:     outcome,
		OfferedAt:   s.offeredAt,
		RespondedAt: at,
	})
}

// cancel moves the session to CANCELLED and returns the driver that held the
// outstanding offer, if any. ok is false if the session was already terminal.
func (s *Session) cancel(now time.Time) (driverID types.ID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transition(StatusCancelled, now) {
		return "", false
	}
	if s.current != nil {
		driverID = s.current.DriverID
		s.appendAttempt(OutcomeCancelled, now)
		s.current = nil
	}
	close(s.done)
	return driverID, true
}

// finish moves an IN_PROGRESS session to a terminal status with reason.
func (s *Session) finish(to Status, reason string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil || !s.transition(to, now) {
		return false
	}
	s.failureReason = reason
	return true
}

// fail forces any non-terminal session to FAILED and returns the driver that
// held the outstanding offer, if any.
func (s *Session) fail(reason string, now time.Time) (driverID types.ID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transition(StatusFailed, now) {
		return "", false
	}
	if s.current != nil {
		driverID = s.current.DriverID
		s.appendAttempt(OutcomeError, now)
		s.current = nil
	}
	s.failureReason = reason
	return driverID, true
}

func (s *Session) Snapshot() StatusView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := StatusView{
		RideID:          s.ID,
		PassengerID:     s.Request.PassengerID,
		Status:          s.status,
		AttemptsCount:   s.attemptsCount,
		Attempts:        append([]Attempt(nil), s.attempts...),
		CandidatesCount: len(s.candidates),
		StartedAt:       s.startedAt,
		LastUpdateAt:    s.lastUpdateAt,
		FailureReason:   s.failureReason,
	}
	if s.current != nil {
		v.CurrentDriverID = s.current.DriverID
	}
	if s.result != nil {
		r := *s.result
		v.Result = &r
	}
	return v
}
