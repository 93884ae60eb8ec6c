package services

import (
	"context"
	"fmt"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// LifecycleService creates and destroys peer connections for remote
// participants and drives the offer/answer exchange. It never lets a
// negotiation failure escape: errors become the session's connectionError
// observable.
type LifecycleService struct {
	registry  ports.ConnectionRegistry
	engine    ports.MediaEngine
	signaling ports.Signaling

	// identity returns the room and local user currently joined.
	identity func() (roomID, userID string)
	// canTransmit gates outbound track attachment.
	canTransmit func() bool
	// onError surfaces a transient negotiation error string.
	onError func(msg string)
	// onStateChange feeds connection/ICE transitions to the health watchdog.
	onStateChange func(peerID string, state domain.ConnectionState, ice domain.ICEConnectionState)

	metrics VoiceMetrics
	logger  *zap.SugaredLogger
}

func NewLifecycleService(
	registry ports.ConnectionRegistry,
	engine ports.MediaEngine,
	signaling ports.Signaling,
	metrics VoiceMetrics,
	logger *zap.SugaredLogger,
) *LifecycleService {
	return &LifecycleService{
		registry:    registry,
		engine:      engine,
		signaling:   signaling,
		metrics:     metrics,
		logger:      logger,
		identity:    func() (string, string) { return "", "" },
		canTransmit: func() bool { return false },
		onError:     func(string) {},
	}
}

// Bind wires the session-owned callbacks. Must be called before any
// signaling traffic is dispatched.
func (s *LifecycleService) Bind(
	identity func() (roomID, userID string),
	canTransmit func() bool,
	onError func(msg string),
	onStateChange func(peerID string, state domain.ConnectionState, ice domain.ICEConnectionState),
) {
	s.identity = identity
	s.canTransmit = canTransmit
	s.onError = onError
	s.onStateChange = onStateChange
}

// Initiate opens a connection toward peerID and sends an offer. It is a
// no-op when a record already exists: concurrent join events and
// health-triggered reconnects race here, and the first writer wins.
func (s *LifecycleService) Initiate(ctx context.Context, peerID string) {
	if _, ok := s.registry.Get(peerID); ok {
		s.logger.Debugw("initiate skipped, record already exists", "peer_id", peerID)
		return
	}

	roomID, userID := s.identity()
	rec, err := s.buildRecord(ctx, peerID)
	if err != nil {
		s.fail(peerID, "create peer connection", err)
		return
	}
	s.registry.Upsert(rec)
	s.reportPeerCount()

	offer, err := rec.Handle.CreateOffer(ctx)
	if err != nil {
		s.registry.RemoveAndDispose(peerID)
		s.reportPeerCount()
		s.fail(peerID, "create offer", err)
		return
	}

	if err := s.signaling.SendOffer(ctx, roomID, userID, peerID, offer); err != nil {
		s.registry.RemoveAndDispose(peerID)
		s.reportPeerCount()
		s.fail(peerID, "send offer", err)
		return
	}

	s.logger.Infow("initiated connection", "peer_id", peerID)
}

// AcceptOffer handles an inbound offer. An existing record for the peer is
// disposed first: a fresh offer supersedes whatever negotiation state we
// held, typically because the remote side is reconnecting.
func (s *LifecycleService) AcceptOffer(ctx context.Context, peerID string, offer webrtc.SessionDescription) {
	if _, ok := s.registry.Get(peerID); ok {
		s.logger.Infow("offer supersedes existing record", "peer_id", peerID)
		s.registry.RemoveAndDispose(peerID)
	}

	roomID, userID := s.identity()
	rec, err := s.buildRecord(ctx, peerID)
	if err != nil {
		s.fail(peerID, "create peer connection", err)
		return
	}
	s.registry.Upsert(rec)
	s.reportPeerCount()

	answer, err := rec.Handle.CreateAnswer(ctx, offer)
	if err != nil {
		s.registry.RemoveAndDispose(peerID)
		s.reportPeerCount()
		s.fail(peerID, "create answer", err)
		return
	}

	if err := s.signaling.SendAnswer(ctx, roomID, userID, peerID, answer); err != nil {
		s.registry.RemoveAndDispose(peerID)
		s.reportPeerCount()
		s.fail(peerID, "send answer", err)
		return
	}

	s.logger.Infow("accepted offer", "peer_id", peerID)
}

// ApplyAnswer forwards a remote answer to the peer's connection. Answers
// for unknown peers are stale signaling and are logged and dropped.
func (s *LifecycleService) ApplyAnswer(peerID string, answer webrtc.SessionDescription) {
	rec, ok := s.registry.Get(peerID)
	if !ok {
		s.logger.Warnw("answer for unknown peer ignored", "peer_id", peerID)
		return
	}
	if err := rec.Handle.AcceptAnswer(answer); err != nil {
		s.fail(peerID, "apply answer", err)
	}
}

// ApplyICECandidate forwards a remote ICE candidate. Candidates for unknown
// peers are stale signaling and are logged and dropped.
func (s *LifecycleService) ApplyICECandidate(peerID string, candidate webrtc.ICECandidateInit) {
	rec, ok := s.registry.Get(peerID)
	if !ok {
		s.logger.Debugw("ICE candidate for unknown peer ignored", "peer_id", peerID)
		return
	}
	if err := rec.Handle.AddICECandidate(candidate); err != nil {
		s.logger.Warnw("failed to add ICE candidate", "peer_id", peerID, "error", err)
	}
}

// Dispose removes and destroys the record for peerID, if any.
func (s *LifecycleService) Dispose(peerID string) {
	if s.registry.RemoveAndDispose(peerID) {
		s.reportPeerCount()
	}
}

func (s *LifecycleService) buildRecord(ctx context.Context, peerID string) (*ports.ConnectionRecord, error) {
	roomID, userID := s.identity()

	handle, sink, err := s.engine.NewPeer(ctx, peerID, s.canTransmit())
	if err != nil {
		return nil, err
	}

	handle.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if err := s.signaling.SendICECandidate(context.Background(), roomID, userID, peerID, candidate); err != nil {
			s.logger.Warnw("failed to send ICE candidate", "peer_id", peerID, "error", err)
		}
	})
	handle.OnConnectionStateChange(func(state domain.ConnectionState) {
		s.logger.Infow("peer connection state changed", "peer_id", peerID, "connection_state", state)
		if s.onStateChange != nil {
			s.onStateChange(peerID, state, handle.ICEConnectionState())
		}
	})
	handle.OnICEConnectionStateChange(func(state domain.ICEConnectionState) {
		s.logger.Infow("peer ICE connection state changed", "peer_id", peerID, "ice_state", state)
		if s.onStateChange != nil {
			s.onStateChange(peerID, handle.ConnectionState(), state)
		}
	})

	return ports.NewConnectionRecord(peerID, handle, sink), nil
}

func (s *LifecycleService) fail(peerID, op string, err error) {
	s.logger.Errorw("negotiation failed",
		"peer_id", peerID,
		"op", op,
		"error", err,
	)
	if s.metrics != nil {
		s.metrics.IncNegotiationErrors()
	}
	s.onError(fmt.Sprintf("voice connection to %s failed: %s", peerID, op))
}

func (s *LifecycleService) reportPeerCount() {
	if s.metrics != nil {
		s.metrics.SetPeersConnected(s.registry.Len())
	}
}
