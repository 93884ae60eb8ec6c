package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// GraceState describes where the session stands relative to the signaling
// transport.
type GraceState string

const (
	// GraceTransportUp means signaling is connected and the session is live.
	GraceTransportUp GraceState = "transport_up"
	// GraceTransportDown means signaling dropped and the teardown timer is
	// pending. Peer connections are kept alive in the hope of a quick
	// transport recovery.
	GraceTransportDown GraceState = "transport_down"
	// GraceTornDown means the grace period expired or the user left
	// deliberately and the session has been dismantled.
	GraceTornDown GraceState = "torn_down"
)

// GraceService decides what happens to the voice session when the
// signaling transport drops. An unintentional drop starts a single grace
// timer; recovery before expiry resumes and re-announces the session,
// expiry tears everything down.
type GraceService struct {
	gracePeriod time.Duration

	mu    sync.Mutex
	state GraceState
	timer *time.Timer

	// pause suspends periodic work (health sweeps, heartbeats) while the
	// transport is down.
	pause func()
	// resume restarts periodic work after transport recovery.
	resume func()
	// teardown dismantles the whole session.
	teardown func()
	// reannounce rejoins the room and refreshes the participant roster
	// after the transport comes back.
	reannounce func()

	metrics VoiceMetrics
	logger  *zap.SugaredLogger
}

func NewGraceService(gracePeriod time.Duration, metrics VoiceMetrics, logger *zap.SugaredLogger) *GraceService {
	return &GraceService{
		gracePeriod: gracePeriod,
		state:       GraceTransportUp,
		pause:       func() {},
		resume:      func() {},
		teardown:    func() {},
		reannounce:  func() {},
		metrics:     metrics,
		logger:      logger,
	}
}

// Bind wires the session-owned callbacks. Must be called before any
// transport events are dispatched.
func (s *GraceService) Bind(pause, resume, teardown, reannounce func()) {
	s.pause = pause
	s.resume = resume
	s.teardown = teardown
	s.reannounce = reannounce
}

// State returns the current transport state.
func (s *GraceService) State() GraceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TransportDown reacts to the signaling transport closing. A deliberate
// leave tears the session down immediately; an unexpected drop starts the
// grace timer. Repeat down events while a timer is pending are ignored so
// the grace window is never extended.
func (s *GraceService) TransportDown(intentional bool) {
	s.mu.Lock()
	if s.state == GraceTornDown {
		s.mu.Unlock()
		return
	}

	if intentional {
		s.state = GraceTornDown
		s.stopTimerLocked()
		s.mu.Unlock()
		s.logger.Infow("leaving voice, tearing down session")
		if s.metrics != nil {
			s.metrics.IncTeardowns()
		}
		s.teardown()
		return
	}

	if s.state == GraceTransportDown {
		s.mu.Unlock()
		return
	}
	s.state = GraceTransportDown
	s.timer = time.AfterFunc(s.gracePeriod, s.expire)
	s.mu.Unlock()

	s.logger.Warnw("signaling transport lost, grace period started", "grace_period", s.gracePeriod)
	if s.metrics != nil {
		s.metrics.IncGracePeriods()
	}
	s.pause()
}

// TransportUp reacts to the signaling transport (re)connecting. If a grace
// timer is pending it is cancelled and the session is resumed and
// re-announced. Once torn down, a late recovery changes nothing; the
// session must be rejoined explicitly.
func (s *GraceService) TransportUp() {
	s.mu.Lock()
	if s.state != GraceTransportDown {
		s.mu.Unlock()
		return
	}
	s.state = GraceTransportUp
	s.stopTimerLocked()
	s.mu.Unlock()

	s.logger.Infow("signaling transport recovered within grace period")
	s.resume()
	s.reannounce()
}

// Reset returns the controller to the live state after an explicit rejoin.
func (s *GraceService) Reset() {
	s.mu.Lock()
	s.state = GraceTransportUp
	s.stopTimerLocked()
	s.mu.Unlock()
}

func (s *GraceService) expire() {
	s.mu.Lock()
	if s.state != GraceTransportDown {
		s.mu.Unlock()
		return
	}
	s.state = GraceTornDown
	s.timer = nil
	s.mu.Unlock()

	s.logger.Warnw("grace period expired, tearing down session", "grace_period", s.gracePeriod)
	if s.metrics != nil {
		s.metrics.IncTeardowns()
	}
	s.teardown()
}

func (s *GraceService) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
