package services

import (
	"context"
	"fmt"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// fakePeerHandle is a controllable stand-in for a pion connection.
type fakePeerHandle struct {
	mu sync.Mutex

	state    domain.ConnectionState
	iceState domain.ICEConnectionState

	failCreateOffer  bool
	failCreateAnswer bool

	onStateChange    func(domain.ConnectionState)
	onICEStateChange func(domain.ICEConnectionState)
	onICECandidate   func(webrtc.ICECandidateInit)

	closed bool
}

func newFakePeerHandle() *fakePeerHandle {
	return &fakePeerHandle{
		state:    domain.ConnectionStateConnected,
		iceState: domain.ICEStateConnected,
	}
}

func (h *fakePeerHandle) setStates(state domain.ConnectionState, ice domain.ICEConnectionState) {
	h.mu.Lock()
	h.state = state
	h.iceState = ice
	h.mu.Unlock()
}

func (h *fakePeerHandle) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if h.failCreateOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("offer failed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (h *fakePeerHandle) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if h.failCreateAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("answer failed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (h *fakePeerHandle) AcceptAnswer(answer webrtc.SessionDescription) error { return nil }

func (h *fakePeerHandle) AddICECandidate(candidate webrtc.ICECandidateInit) error { return nil }

func (h *fakePeerHandle) ConnectionState() domain.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *fakePeerHandle) ICEConnectionState() domain.ICEConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.iceState
}

func (h *fakePeerHandle) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	h.mu.Lock()
	h.onStateChange = fn
	h.mu.Unlock()
}

func (h *fakePeerHandle) OnICEConnectionStateChange(fn func(domain.ICEConnectionState)) {
	h.mu.Lock()
	h.onICEStateChange = fn
	h.mu.Unlock()
}

func (h *fakePeerHandle) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	h.mu.Lock()
	h.onICECandidate = fn
	h.mu.Unlock()
}

func (h *fakePeerHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *fakePeerHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeSink reports a settable level and records its closure.
type fakeSink struct {
	mu     sync.Mutex
	level  float64
	closed bool
}

func (s *fakeSink) setLevel(level float64) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

func (s *fakeSink) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *fakeSink) Stats() domain.ConnectionStats { return domain.ConnectionStats{} }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeEngine hands out fake handles and records every NewPeer call.
type fakeEngine struct {
	mu sync.Mutex

	failNewPeer bool
	// nextUnhealthy makes every new handle start in the failed state.
	nextUnhealthy bool

	calls       []string
	attachFlags []bool
	handles     map[string]*fakePeerHandle
	sinks       map[string]*fakeSink
	localStream ports.LocalStream
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		handles: make(map[string]*fakePeerHandle),
		sinks:   make(map[string]*fakeSink),
	}
}

func (e *fakeEngine) SetLocalStream(stream ports.LocalStream) {
	e.mu.Lock()
	e.localStream = stream
	e.mu.Unlock()
}

func (e *fakeEngine) NewPeer(ctx context.Context, peerID string, attachLocal bool) (ports.PeerHandle, ports.AudioSink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNewPeer {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	e.calls = append(e.calls, peerID)
	e.attachFlags = append(e.attachFlags, attachLocal)
	handle := newFakePeerHandle()
	if e.nextUnhealthy {
		handle.state = domain.ConnectionStateFailed
		handle.iceState = domain.ICEStateFailed
	}
	sink := &fakeSink{}
	e.handles[peerID] = handle
	e.sinks[peerID] = sink
	return handle, sink, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) handleFor(peerID string) *fakePeerHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[peerID]
}

func (e *fakeEngine) sinkFor(peerID string) *fakeSink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sinks[peerID]
}

// sentMessage records one outbound signaling call.
type sentMessage struct {
	kind         string
	roomID       string
	userID       string
	targetUserID string
	isMuted      bool
	snapshot     domain.HealthSnapshot
}

// fakeSignaling records everything the services send.
type fakeSignaling struct {
	mu sync.Mutex

	events ports.SignalingEvents
	sent   []sentMessage

	failSend bool
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{}
}

func (f *fakeSignaling) record(msg sentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return fmt.Errorf("transport down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaling) sentOfKind(kind string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignaling) Handle(events ports.SignalingEvents) {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
}

func (f *fakeSignaling) handlers() ports.SignalingEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeSignaling) JoinVoice(ctx context.Context, roomID, userID, username string) error {
	return f.record(sentMessage{kind: "join", roomID: roomID, userID: userID})
}

func (f *fakeSignaling) LeaveVoice(ctx context.Context, roomID, userID string) error {
	return f.record(sentMessage{kind: "leave", roomID: roomID, userID: userID})
}

func (f *fakeSignaling) RequestParticipants(ctx context.Context, roomID string) error {
	return f.record(sentMessage{kind: "request_participants", roomID: roomID})
}

func (f *fakeSignaling) SendOffer(ctx context.Context, roomID, fromUserID, targetUserID string, offer webrtc.SessionDescription) error {
	return f.record(sentMessage{kind: "offer", roomID: roomID, userID: fromUserID, targetUserID: targetUserID})
}

func (f *fakeSignaling) SendAnswer(ctx context.Context, roomID, fromUserID, targetUserID string, answer webrtc.SessionDescription) error {
	return f.record(sentMessage{kind: "answer", roomID: roomID, userID: fromUserID, targetUserID: targetUserID})
}

func (f *fakeSignaling) SendICECandidate(ctx context.Context, roomID, fromUserID, targetUserID string, candidate webrtc.ICECandidateInit) error {
	return f.record(sentMessage{kind: "ice", roomID: roomID, userID: fromUserID, targetUserID: targetUserID})
}

func (f *fakeSignaling) SendMuteChanged(ctx context.Context, roomID, userID string, isMuted bool) error {
	return f.record(sentMessage{kind: "mute", roomID: roomID, userID: userID, isMuted: isMuted})
}

func (f *fakeSignaling) SendHeartbeat(ctx context.Context, roomID, userID string, states domain.HealthSnapshot) error {
	return f.record(sentMessage{kind: "heartbeat", roomID: roomID, userID: userID, snapshot: states})
}

func (f *fakeSignaling) SendConnectionFailed(ctx context.Context, roomID, fromUserID string) error {
	return f.record(sentMessage{kind: "connection_failed", roomID: roomID, userID: fromUserID})
}

func (f *fakeSignaling) SendReconnectRequest(ctx context.Context, roomID, fromUserID, targetUserID string) error {
	return f.record(sentMessage{kind: "reconnect_request", roomID: roomID, userID: fromUserID, targetUserID: targetUserID})
}

func (f *fakeSignaling) Close() error { return nil }

// fakeLocalStream is a toggleable local audio handle.
type fakeLocalStream struct {
	mu      sync.Mutex
	enabled bool
	level   float64
}

func (s *fakeLocalStream) Track() webrtc.TrackLocal { return nil }

func (s *fakeLocalStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeLocalStream) setEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *fakeLocalStream) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *fakeLocalStream) setLevel(level float64) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}
