package services

import (
	"context"
	"sort"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// participantState is the session's authoritative entry for one remote
// participant. It outlives the peer's connection record: entries appear on
// first announcement or first mute message and disappear only on an
// explicit leave.
type participantState struct {
	username string
	// explicitMute is the last mute state the participant announced, nil
	// until the first voice_mute_changed arrives.
	explicitMute *bool
	level        float64
}

// SessionService is the facade over the whole voice session. It owns the
// participant roster, dispatches signaling events to the lifecycle, health
// and grace services, and projects everything into a read model.
type SessionService struct {
	registry   ports.ConnectionRegistry
	engine     ports.MediaEngine
	signaling  ports.Signaling
	lifecycle  *LifecycleService
	health     *HealthService
	grace      *GraceService
	heartbeat  *HeartbeatService
	audioLevel *AudioLevelService

	silenceThreshold float64

	mu              sync.RWMutex
	roomID          string
	userID          string
	username        string
	participants    map[string]*participantState
	localStream     ports.LocalStream
	localLevel      float64
	audioReception  bool
	connecting      bool
	connectionError string

	runCtx    context.Context
	runCancel context.CancelFunc

	logger *zap.SugaredLogger
}

func NewSessionService(
	registry ports.ConnectionRegistry,
	engine ports.MediaEngine,
	signaling ports.Signaling,
	lifecycle *LifecycleService,
	health *HealthService,
	grace *GraceService,
	heartbeat *HeartbeatService,
	audioLevel *AudioLevelService,
	silenceThreshold float64,
	logger *zap.SugaredLogger,
) *SessionService {
	s := &SessionService{
		registry:         registry,
		engine:           engine,
		signaling:        signaling,
		lifecycle:        lifecycle,
		health:           health,
		grace:            grace,
		heartbeat:        heartbeat,
		audioLevel:       audioLevel,
		silenceThreshold: silenceThreshold,
		participants:     make(map[string]*participantState),
		audioReception:   true,
		logger:           logger,
	}
	s.wire()
	return s
}

// wire connects every service callback to the session. Runs once at
// construction, before any signaling traffic can arrive.
func (s *SessionService) wire() {
	identity := func() (string, string) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.roomID, s.userID
	}

	s.lifecycle.Bind(identity, s.CanTransmit, s.setConnectionError, s.onPeerStateChange)
	s.health.Bind(identity, s.setConnectionError)
	s.heartbeat.Bind(identity)
	s.audioLevel.Bind(identity, s.currentLocalStream, s.onLevel)
	s.grace.Bind(s.pausePolling, s.resumePolling, s.tearDown, s.reannounce)

	s.signaling.Handle(ports.SignalingEvents{
		OnParticipants:       s.onParticipants,
		OnUserJoined:         s.onUserJoined,
		OnUserLeft:           s.onUserLeft,
		OnOffer:              s.onOffer,
		OnAnswer:             s.onAnswer,
		OnICECandidate:       s.onICECandidate,
		OnMuteChanged:        s.onMuteChanged,
		OnHeartbeat:          s.onHeartbeat,
		OnConnectionFailed:   s.onConnectionFailed,
		OnReconnectRequested: s.onReconnectRequested,
		OnTransportDown:      func() { s.grace.TransportDown(false) },
		OnTransportUp:        func() { s.grace.TransportUp() },
	})
}

// Join announces presence in the room and starts the periodic services.
func (s *SessionService) Join(ctx context.Context, roomID, userID, username string) error {
	s.mu.Lock()
	s.roomID = roomID
	s.userID = userID
	s.username = username
	s.connecting = true
	s.connectionError = ""
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	runCtx := s.runCtx
	s.mu.Unlock()

	s.grace.Reset()

	if err := s.signaling.JoinVoice(ctx, roomID, userID, username); err != nil {
		s.setConnecting(false)
		return err
	}
	if err := s.signaling.RequestParticipants(ctx, roomID); err != nil {
		s.logger.Warnw("failed to request participants", "room_id", roomID, "error", err)
	}

	s.health.Start(runCtx)
	s.heartbeat.Start(runCtx)
	s.audioLevel.Start(runCtx)

	s.logger.Infow("joined voice room", "room_id", roomID, "user_id", userID)
	return nil
}

// Leave is the intentional cleanup entry point. It dismantles the session
// synchronously and announces the departure.
func (s *SessionService) Leave(ctx context.Context) {
	s.mu.RLock()
	roomID, userID := s.roomID, s.userID
	s.mu.RUnlock()

	s.grace.TransportDown(true)

	if roomID != "" {
		if err := s.signaling.LeaveVoice(ctx, roomID, userID); err != nil {
			s.logger.Warnw("failed to announce leave", "room_id", roomID, "error", err)
		}
	}
}

// AddLocalStream hands the session a ready local audio stream. Existing
// peer connections are renegotiated so the outbound track attaches.
func (s *SessionService) AddLocalStream(ctx context.Context, stream ports.LocalStream) {
	s.mu.Lock()
	s.localStream = stream
	s.mu.Unlock()

	s.engine.SetLocalStream(stream)
	s.logger.Infow("local stream attached")
	s.renegotiateAll(ctx)
}

// RemoveLocalStream detaches the local stream. The caller releases the
// underlying device; existing connections are renegotiated receive-only.
func (s *SessionService) RemoveLocalStream(ctx context.Context) {
	s.mu.Lock()
	s.localStream = nil
	s.localLevel = 0
	s.mu.Unlock()

	s.engine.SetLocalStream(nil)
	s.logger.Infow("local stream detached")
	s.renegotiateAll(ctx)
}

// renegotiateAll rebuilds every current connection so track attachment
// matches the new transmit capability.
func (s *SessionService) renegotiateAll(ctx context.Context) {
	var peers []string
	s.registry.ForEach(func(rec *ports.ConnectionRecord) {
		peers = append(peers, rec.PeerID)
	})
	for _, peerID := range peers {
		s.lifecycle.Dispose(peerID)
		s.lifecycle.Initiate(ctx, peerID)
	}
}

// EnableAudioReception toggles whether remote audio should be played out.
// Signaling and connections are unaffected; this is a read-model flag for
// the playback layer.
func (s *SessionService) EnableAudioReception(enabled bool) {
	s.mu.Lock()
	s.audioReception = enabled
	s.mu.Unlock()
}

// CanTransmit reports whether a local stream is attached.
func (s *SessionService) CanTransmit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localStream != nil
}

// Snapshot projects the session into its externally observable state.
// Mute resolution per participant: an explicit announcement wins; without
// one, sustained silence implies muted.
func (s *SessionService) Snapshot() domain.VoiceSessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]domain.VoiceParticipant, 0, len(s.participants)+1)
	if s.userID != "" {
		selfMuted := true
		if s.localStream != nil {
			selfMuted = !s.localStream.Enabled()
		}
		participants = append(participants, domain.VoiceParticipant{
			UserID:     s.userID,
			Username:   s.username,
			IsMuted:    selfMuted,
			AudioLevel: s.localLevel,
		})
	}
	for userID, p := range s.participants {
		muted := p.level < s.silenceThreshold
		if p.explicitMute != nil {
			muted = *p.explicitMute
		}
		participants = append(participants, domain.VoiceParticipant{
			UserID:     userID,
			Username:   p.username,
			IsMuted:    muted,
			AudioLevel: p.level,
		})
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})

	return domain.VoiceSessionState{
		Participants:    participants,
		IsConnecting:    s.connecting,
		ConnectionError: s.connectionError,
		CanTransmit:     s.localStream != nil,
		IsAudioEnabled:  s.audioReception,
	}
}

// Close releases everything the session owns. Safe to call more than once.
func (s *SessionService) Close() error {
	s.Leave(context.Background())
	if err := s.signaling.Close(); err != nil {
		s.logger.Warnw("failed to close signaling", "error", err)
	}
	return s.engine.Close()
}

// --- grace-period callbacks ---

func (s *SessionService) pausePolling() {
	s.health.Stop()
	s.heartbeat.Stop()
}

func (s *SessionService) resumePolling() {
	s.mu.RLock()
	runCtx := s.runCtx
	s.mu.RUnlock()
	if runCtx == nil || runCtx.Err() != nil {
		return
	}
	s.health.Start(runCtx)
	s.heartbeat.Start(runCtx)
}

// reannounce refreshes presence after a transport recovery. The relay may
// have forgotten this node's membership across its own reconnect.
func (s *SessionService) reannounce() {
	s.mu.RLock()
	roomID, userID, username := s.roomID, s.userID, s.username
	s.mu.RUnlock()
	if roomID == "" {
		return
	}
	ctx := context.Background()
	if err := s.signaling.JoinVoice(ctx, roomID, userID, username); err != nil {
		s.logger.Warnw("failed to re-announce presence", "room_id", roomID, "error", err)
		return
	}
	if err := s.signaling.RequestParticipants(ctx, roomID); err != nil {
		s.logger.Warnw("failed to refresh participants", "room_id", roomID, "error", err)
	}
	s.logger.Infow("re-announced presence after transport recovery", "room_id", roomID)
}

// tearDown dismantles the session completely. All periodic work stops and
// every connection is released before this returns.
func (s *SessionService) tearDown() {
	s.mu.Lock()
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	s.participants = make(map[string]*participantState)
	s.connecting = false
	s.localLevel = 0
	s.mu.Unlock()

	s.health.Stop()
	s.heartbeat.Stop()
	s.audioLevel.Stop()
	s.registry.DisposeAll()

	s.logger.Infow("voice session torn down")
}

// --- signaling event handlers ---

func (s *SessionService) onParticipants(participants []domain.VoiceParticipant) {
	s.mu.Lock()
	me := s.userID
	for _, p := range participants {
		if p.UserID == me {
			continue
		}
		entry, ok := s.participants[p.UserID]
		if !ok {
			entry = &participantState{}
			s.participants[p.UserID] = entry
		}
		entry.username = p.Username
		muted := p.IsMuted
		entry.explicitMute = &muted
	}
	s.connecting = false
	s.mu.Unlock()

	s.logger.Infow("participant roster received", "count", len(participants))
}

func (s *SessionService) onUserJoined(userID, username string) {
	s.mu.Lock()
	me := s.userID
	if userID != me {
		entry, ok := s.participants[userID]
		if !ok {
			entry = &participantState{}
			s.participants[userID] = entry
		}
		entry.username = username
	}
	s.mu.Unlock()
	if userID == me {
		return
	}

	s.logger.Infow("participant joined, initiating connection", "peer_id", userID)
	s.lifecycle.Initiate(context.Background(), userID)
}

func (s *SessionService) onUserLeft(userID string) {
	s.mu.Lock()
	delete(s.participants, userID)
	s.mu.Unlock()

	s.lifecycle.Dispose(userID)
	s.health.Forget(userID)
	s.audioLevel.Drop(userID)
	s.logger.Infow("participant left", "peer_id", userID)
}

func (s *SessionService) onOffer(fromUserID string, offer webrtc.SessionDescription) {
	s.mu.Lock()
	if _, ok := s.participants[fromUserID]; !ok {
		s.participants[fromUserID] = &participantState{}
	}
	s.mu.Unlock()

	s.lifecycle.AcceptOffer(context.Background(), fromUserID, offer)
}

func (s *SessionService) onAnswer(fromUserID string, answer webrtc.SessionDescription) {
	s.lifecycle.ApplyAnswer(fromUserID, answer)
}

func (s *SessionService) onICECandidate(fromUserID string, candidate webrtc.ICECandidateInit) {
	s.lifecycle.ApplyICECandidate(fromUserID, candidate)
}

func (s *SessionService) onMuteChanged(userID string, isMuted bool) {
	s.mu.Lock()
	entry, ok := s.participants[userID]
	if !ok {
		entry = &participantState{}
		s.participants[userID] = entry
	}
	entry.explicitMute = &isMuted
	s.mu.Unlock()

	s.logger.Debugw("participant mute changed", "peer_id", userID, "is_muted", isMuted)
}

func (s *SessionService) onHeartbeat(fromUserID string, states domain.HealthSnapshot) {
	s.mu.RLock()
	roomID, me := s.roomID, s.userID
	s.mu.RUnlock()
	// The peer's view of our connection corroborates local health checking.
	health, ok := states[me]
	if !ok {
		return
	}
	if !health.ConnectionState.Unhealthy() && !health.ICEConnectionState.Unhealthy() {
		return
	}
	s.logger.Warnw("peer reports our connection unhealthy",
		"peer_id", fromUserID,
		"connection_state", health.ConnectionState,
		"ice_state", health.ICEConnectionState,
	)
	ctx := context.Background()
	if rec, ok := s.registry.Get(fromUserID); ok &&
		rec.Handle.ConnectionState().Healthy() && rec.Handle.ICEConnectionState().Healthy() {
		// The two sides disagree: our record looks fine but the peer sees a
		// broken link. Ask the peer to rebuild from its side rather than
		// tearing down a connection that is healthy here.
		if err := s.signaling.SendReconnectRequest(ctx, roomID, me, fromUserID); err != nil {
			s.logger.Warnw("failed to request reconnect", "peer_id", fromUserID, "error", err)
		}
		return
	}
	s.health.CheckPeer(ctx, fromUserID)
}

func (s *SessionService) onConnectionFailed(fromUserID string) {
	s.logger.Warnw("peer reports connection failure", "peer_id", fromUserID)
	s.health.CheckPeer(context.Background(), fromUserID)
}

func (s *SessionService) onReconnectRequested(fromUserID, targetUserID string) {
	s.mu.RLock()
	me := s.userID
	s.mu.RUnlock()
	if targetUserID != me {
		return
	}
	s.logger.Infow("reconnect requested by peer", "peer_id", fromUserID)
	s.lifecycle.Dispose(fromUserID)
	s.health.Forget(fromUserID)
	s.lifecycle.Initiate(context.Background(), fromUserID)
}

// --- internal callbacks ---

func (s *SessionService) currentLocalStream() ports.LocalStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localStream
}

func (s *SessionService) setConnectionError(msg string) {
	s.mu.Lock()
	s.connectionError = msg
	s.mu.Unlock()
}

func (s *SessionService) setConnecting(connecting bool) {
	s.mu.Lock()
	s.connecting = connecting
	s.mu.Unlock()
}

func (s *SessionService) onLevel(userID string, level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID == "" {
		s.localLevel = level
		return
	}
	if entry, ok := s.participants[userID]; ok {
		entry.level = level
	}
}

func (s *SessionService) onPeerStateChange(peerID string, state domain.ConnectionState, ice domain.ICEConnectionState) {
	if state.Healthy() && ice.Healthy() {
		s.setConnectionError("")
	}
}
