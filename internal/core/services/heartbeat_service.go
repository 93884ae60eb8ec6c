package services

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"go.uber.org/zap"
)

// HeartbeatService periodically publishes a snapshot of every peer
// connection's state over signaling so the relay and other participants
// can observe this node's view of the mesh.
type HeartbeatService struct {
	registry  ports.ConnectionRegistry
	signaling ports.Signaling
	interval  time.Duration

	identity func() (roomID, userID string)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	metrics VoiceMetrics
	logger  *zap.SugaredLogger
}

func NewHeartbeatService(
	registry ports.ConnectionRegistry,
	signaling ports.Signaling,
	interval time.Duration,
	metrics VoiceMetrics,
	logger *zap.SugaredLogger,
) *HeartbeatService {
	return &HeartbeatService{
		registry:  registry,
		signaling: signaling,
		interval:  interval,
		identity:  func() (string, string) { return "", "" },
		metrics:   metrics,
		logger:    logger,
	}
}

// Bind wires the identity callback. Must be called before Start.
func (s *HeartbeatService) Bind(identity func() (roomID, userID string)) {
	s.identity = identity
}

// Start launches the periodic publisher. Calling Start on a running
// service is a no-op.
func (s *HeartbeatService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Infow("heartbeat publisher started", "interval", s.interval)
}

// Stop halts the publisher.
func (s *HeartbeatService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
}

func (s *HeartbeatService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(ctx)
		}
	}
}

func (s *HeartbeatService) publish(ctx context.Context) {
	snapshot := s.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	roomID, userID := s.identity()
	if err := s.signaling.SendHeartbeat(ctx, roomID, userID, snapshot); err != nil {
		s.logger.Warnw("failed to send heartbeat", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncHeartbeatsSent()
	}
	s.logger.Debugw("heartbeat sent", "peers", len(snapshot))
}

// Snapshot collects the current state of every peer connection.
func (s *HeartbeatService) Snapshot() domain.HealthSnapshot {
	snapshot := make(domain.HealthSnapshot)
	s.registry.ForEach(func(rec *ports.ConnectionRecord) {
		snapshot[rec.PeerID] = domain.PeerHealth{
			ConnectionState:    rec.Handle.ConnectionState(),
			ICEConnectionState: rec.Handle.ICEConnectionState(),
		}
	})
	return snapshot
}
