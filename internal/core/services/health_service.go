package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voicemesh/internal/core/ports"

	"go.uber.org/zap"
)

// HealthService periodically sweeps the connection registry, tears down
// connections that have gone unhealthy, and schedules bounded reconnect
// attempts. Attempt counts live here rather than on the record so that a
// count survives the record's disposal across a reconnect cycle.
type HealthService struct {
	registry  ports.ConnectionRegistry
	lifecycle *LifecycleService
	signaling ports.Signaling

	checkInterval  time.Duration
	reconnectDelay time.Duration
	maxAttempts    int

	// identity returns the room and local user currently joined.
	identity func() (roomID, userID string)
	// onError surfaces a terminal per-peer failure to the session read model.
	onError func(msg string)

	mu       sync.Mutex
	attempts map[string]int
	timers   map[string]*time.Timer
	cancel   context.CancelFunc
	running  bool

	metrics VoiceMetrics
	logger  *zap.SugaredLogger
}

func NewHealthService(
	registry ports.ConnectionRegistry,
	lifecycle *LifecycleService,
	signaling ports.Signaling,
	checkInterval, reconnectDelay time.Duration,
	maxAttempts int,
	metrics VoiceMetrics,
	logger *zap.SugaredLogger,
) *HealthService {
	return &HealthService{
		registry:       registry,
		lifecycle:      lifecycle,
		signaling:      signaling,
		checkInterval:  checkInterval,
		reconnectDelay: reconnectDelay,
		maxAttempts:    maxAttempts,
		attempts:       make(map[string]int),
		timers:         make(map[string]*time.Timer),
		identity:       func() (string, string) { return "", "" },
		onError:        func(string) {},
		metrics:        metrics,
		logger:         logger,
	}
}

// Bind wires the session-owned callbacks. Must be called before Start.
func (s *HealthService) Bind(identity func() (roomID, userID string), onError func(msg string)) {
	s.identity = identity
	if onError != nil {
		s.onError = onError
	}
}

// Start launches the periodic sweep. Calling Start on a running service is
// a no-op.
func (s *HealthService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Infow("health monitor started", "interval", s.checkInterval)
}

// Stop halts the sweep and cancels any pending reconnect timers.
func (s *HealthService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for peerID, t := range s.timers {
		t.Stop()
		delete(s.timers, peerID)
	}
	s.attempts = make(map[string]int)
	s.mu.Unlock()

	s.logger.Infow("health monitor stopped")
}

// Forget drops all reconnect state for peerID. Called when the peer leaves
// the session so a later rejoin starts with a clean attempt budget.
func (s *HealthService) Forget(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[peerID]; ok {
		t.Stop()
		delete(s.timers, peerID)
	}
	delete(s.attempts, peerID)
}

func (s *HealthService) run(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep inspects every registered connection once. Exported so that an
// explicit failure report can trigger an immediate check.
func (s *HealthService) Sweep(ctx context.Context) {
	s.registry.ForEach(func(rec *ports.ConnectionRecord) {
		s.checkRecord(ctx, rec)
	})
}

// CheckPeer runs a health check for a single peer, typically in response
// to a voice_connection_failed report from the other side.
func (s *HealthService) CheckPeer(ctx context.Context, peerID string) {
	rec, ok := s.registry.Get(peerID)
	if !ok {
		return
	}
	s.checkRecord(ctx, rec)
}

func (s *HealthService) checkRecord(ctx context.Context, rec *ports.ConnectionRecord) {
	state := rec.Handle.ConnectionState()
	ice := rec.Handle.ICEConnectionState()
	rec.StampHealthCheck(time.Now())

	if state.Healthy() && ice.Healthy() {
		s.mu.Lock()
		delete(s.attempts, rec.PeerID)
		s.mu.Unlock()
		return
	}
	if !state.Unhealthy() && !ice.Unhealthy() {
		// Still negotiating. Leave it alone until it settles.
		return
	}

	s.mu.Lock()
	if _, pending := s.timers[rec.PeerID]; pending {
		s.mu.Unlock()
		return
	}
	attempt := s.attempts[rec.PeerID] + 1
	s.attempts[rec.PeerID] = attempt
	s.mu.Unlock()

	roomID, userID := s.identity()
	s.logger.Warnw("unhealthy connection detected",
		"peer_id", rec.PeerID,
		"connection_state", state,
		"ice_state", ice,
		"attempt", attempt,
	)

	if attempt > s.maxAttempts {
		s.logger.Errorw("reconnect attempts exhausted, giving up", "peer_id", rec.PeerID)
		s.lifecycle.Dispose(rec.PeerID)
		s.Forget(rec.PeerID)
		if s.metrics != nil {
			s.metrics.IncReconnectExhausted()
		}
		s.onError(fmt.Sprintf("voice connection to %s lost after %d reconnect attempts", rec.PeerID, s.maxAttempts))
		if err := s.signaling.SendConnectionFailed(ctx, roomID, userID); err != nil {
			s.logger.Warnw("failed to report connection failure", "peer_id", rec.PeerID, "error", err)
		}
		return
	}

	rec.SetReconnectAttempts(attempt)
	if s.metrics != nil {
		s.metrics.IncReconnectAttempts()
	}
	s.lifecycle.Dispose(rec.PeerID)
	s.scheduleReconnect(rec.PeerID)
}

func (s *HealthService) scheduleReconnect(peerID string) {
	s.mu.Lock()
	s.timers[peerID] = time.AfterFunc(s.reconnectDelay, func() {
		s.mu.Lock()
		delete(s.timers, peerID)
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
		// Another path may have already repaired the connection while the
		// timer was pending, typically an inbound offer from the peer's own
		// reconnect. In that case the fresh record wins and we stand down.
		if _, ok := s.registry.Get(peerID); ok {
			s.logger.Debugw("reconnect skipped, record already repaired", "peer_id", peerID)
			return
		}
		s.logger.Infow("reconnecting peer", "peer_id", peerID)
		s.lifecycle.Initiate(context.Background(), peerID)
	})
	s.mu.Unlock()
}
