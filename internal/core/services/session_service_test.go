package services

import (
	"context"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/repositories/memory"

	webrtc "github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	session   *SessionService
	registry  ports.ConnectionRegistry
	engine    *fakeEngine
	signaling *fakeSignaling
	health    *HealthService
	grace     *GraceService
}

// newSessionFixture builds the full service graph with hour-long intervals
// so nothing ticks on its own during a test.
func newSessionFixture(t *testing.T) *sessionFixture {
	return newSessionFixtureWithReconnect(t, time.Hour)
}

func newSessionFixtureWithReconnect(t *testing.T, reconnectDelay time.Duration) *sessionFixture {
	t.Helper()
	log := testLogger()
	registry := memory.NewConnectionRegistry(log)
	engine := newFakeEngine()
	signaling := newFakeSignaling()
	lifecycle := NewLifecycleService(registry, engine, signaling, nil, log)
	health := NewHealthService(registry, lifecycle, signaling, time.Hour, reconnectDelay, 3, nil, log)
	grace := NewGraceService(time.Hour, nil, log)
	heartbeat := NewHeartbeatService(registry, signaling, time.Hour, nil, log)
	audio := NewAudioLevelService(registry, signaling, time.Hour, time.Hour, log)
	session := NewSessionService(registry, engine, signaling, lifecycle, health, grace, heartbeat, audio, 0.02, log)
	t.Cleanup(func() { session.tearDown() })
	return &sessionFixture{
		session:   session,
		registry:  registry,
		engine:    engine,
		signaling: signaling,
		health:    health,
		grace:     grace,
	}
}

func (f *sessionFixture) join(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Join(context.Background(), "room-1", "me", "Me"))
}

func testOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
}

func TestJoinAnnouncesAndRequestsRoster(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	require.Len(t, f.signaling.sentOfKind("join"), 1)
	require.Len(t, f.signaling.sentOfKind("request_participants"), 1)
	assert.True(t, f.session.Snapshot().IsConnecting)
}

func TestRosterArrivalEndsConnecting(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.signaling.handlers().OnParticipants([]domain.VoiceParticipant{
		{UserID: "me", Username: "Me"},
		{UserID: "peer-a", Username: "Alice", IsMuted: true},
	})

	state := f.session.Snapshot()
	assert.False(t, state.IsConnecting)
	require.Len(t, state.Participants, 2)
	assert.Equal(t, "me", state.Participants[0].UserID)
	assert.Equal(t, "peer-a", state.Participants[1].UserID)
	assert.True(t, state.Participants[1].IsMuted)
}

func TestUserJoinedInitiatesConnection(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.signaling.handlers().OnUserJoined("peer-a", "Alice")

	assert.Equal(t, 1, f.registry.Len())
	require.Len(t, f.signaling.sentOfKind("offer"), 1)
	assert.Equal(t, "peer-a", f.signaling.sentOfKind("offer")[0].targetUserID)
}

func TestOwnJoinEchoIgnored(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.signaling.handlers().OnUserJoined("me", "Me")

	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.signaling.sentOfKind("offer"))
}

func TestInboundOfferAnswered(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.signaling.handlers().OnOffer("peer-a", testOffer())

	assert.Equal(t, 1, f.registry.Len())
	require.Len(t, f.signaling.sentOfKind("answer"), 1)
	assert.Equal(t, "peer-a", f.signaling.sentOfKind("answer")[0].targetUserID)

	// The offerer appears in the roster even before any presence message.
	state := f.session.Snapshot()
	require.Len(t, state.Participants, 2)
	assert.Equal(t, "peer-a", state.Participants[1].UserID)
}

func TestStaleAnswerIgnored(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.signaling.handlers().OnAnswer("ghost", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	f.signaling.handlers().OnICECandidate("ghost", webrtc.ICECandidateInit{Candidate: "candidate"})

	assert.Equal(t, 0, f.registry.Len())
}

func TestUserLeftRemovesEverything(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	require.Equal(t, 1, f.registry.Len())

	f.signaling.handlers().OnUserLeft("peer-a")

	assert.Equal(t, 0, f.registry.Len())
	state := f.session.Snapshot()
	require.Len(t, state.Participants, 1)
	assert.Equal(t, "me", state.Participants[0].UserID)
}

func TestSnapshotMutePrecedence(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	// Silent with no announcement: the silence heuristic applies.
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	// Audible with an explicit muted announcement: the announcement wins.
	f.signaling.handlers().OnUserJoined("peer-b", "Bob")
	f.signaling.handlers().OnMuteChanged("peer-b", true)
	f.session.onLevel("peer-b", 0.8)
	// Audible with no announcement.
	f.signaling.handlers().OnUserJoined("peer-c", "Carol")
	f.session.onLevel("peer-c", 0.5)

	state := f.session.Snapshot()
	require.Len(t, state.Participants, 4)
	assert.True(t, state.Participants[1].IsMuted, "silent peer reads as muted")
	assert.True(t, state.Participants[2].IsMuted, "explicit mute beats audible level")
	assert.False(t, state.Participants[3].IsMuted)
}

func TestSnapshotSelfMuteFollowsLocalStream(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	// Without a stream the local participant reads as muted.
	assert.True(t, f.session.Snapshot().Participants[0].IsMuted)
	assert.False(t, f.session.Snapshot().CanTransmit)

	stream := &fakeLocalStream{}
	stream.setEnabled(true)
	f.session.AddLocalStream(context.Background(), stream)

	state := f.session.Snapshot()
	assert.False(t, state.Participants[0].IsMuted)
	assert.True(t, state.CanTransmit)

	stream.setEnabled(false)
	assert.True(t, f.session.Snapshot().Participants[0].IsMuted)
}

func TestAddLocalStreamRenegotiatesPeers(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	require.Equal(t, 1, f.engine.callCount())

	stream := &fakeLocalStream{}
	f.session.AddLocalStream(context.Background(), stream)

	assert.Equal(t, 2, f.engine.callCount())
	assert.Equal(t, 1, f.registry.Len())
}

func TestMuteMessageCreatesRosterEntry(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.signaling.handlers().OnMuteChanged("peer-a", true)

	state := f.session.Snapshot()
	require.Len(t, state.Participants, 2)
	assert.Equal(t, "peer-a", state.Participants[1].UserID)
	assert.True(t, state.Participants[1].IsMuted)
}

func TestReconnectRequestHonoredOnlyWhenTargeted(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	require.Equal(t, 1, f.engine.callCount())

	f.signaling.handlers().OnReconnectRequested("peer-a", "someone-else")
	assert.Equal(t, 1, f.engine.callCount())

	f.signaling.handlers().OnReconnectRequested("peer-a", "me")
	assert.Equal(t, 2, f.engine.callCount())
	assert.Equal(t, 1, f.registry.Len())
}

func TestHeartbeatCorroboratesFailure(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	f.engine.handleFor("peer-a").setStates(domain.ConnectionStateFailed, domain.ICEStateFailed)

	// A report about some other node is not about us.
	f.signaling.handlers().OnHeartbeat("peer-a", domain.HealthSnapshot{
		"other": {ConnectionState: domain.ConnectionStateFailed, ICEConnectionState: domain.ICEStateFailed},
	})
	assert.Equal(t, 1, f.registry.Len())

	// The peer reporting our link unhealthy triggers an immediate check,
	// which disposes the locally failed record.
	f.signaling.handlers().OnHeartbeat("peer-a", domain.HealthSnapshot{
		"me": {ConnectionState: domain.ConnectionStateFailed, ICEConnectionState: domain.ICEStateFailed},
	})
	assert.Equal(t, 0, f.registry.Len())
}

func TestHeartbeatDisagreementRequestsPeerReconnect(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	require.Equal(t, 1, f.registry.Len())

	// Locally the link looks fine, but the peer reports it broken. The
	// session asks the peer to rebuild from its side instead of tearing
	// down a record that is healthy here.
	f.signaling.handlers().OnHeartbeat("peer-a", domain.HealthSnapshot{
		"me": {ConnectionState: domain.ConnectionStateFailed, ICEConnectionState: domain.ICEStateFailed},
	})

	requests := f.signaling.sentOfKind("reconnect_request")
	require.Len(t, requests, 1)
	assert.Equal(t, "peer-a", requests[0].targetUserID)
	assert.Equal(t, 1, f.registry.Len())
}

func TestExhaustedReconnectsSurfaceConnectionError(t *testing.T) {
	f := newSessionFixtureWithReconnect(t, time.Millisecond)
	f.join(t)
	f.engine.nextUnhealthy = true
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	require.Equal(t, 1, f.registry.Len())

	for i := 0; i < 3; i++ {
		f.health.Sweep(context.Background())
		require.Eventually(t, func() bool {
			return f.registry.Len() == 1
		}, time.Second, time.Millisecond)
	}
	f.health.Sweep(context.Background())

	assert.Equal(t, 0, f.registry.Len())
	state := f.session.Snapshot()
	require.NotEmpty(t, state.ConnectionError)
	assert.Contains(t, state.ConnectionError, "peer-a")
}

func TestIntentionalLeaveTearsDownImmediately(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)
	f.signaling.handlers().OnUserJoined("peer-a", "Alice")
	f.signaling.handlers().OnUserJoined("peer-b", "Bob")
	require.Equal(t, 2, f.registry.Len())

	f.session.Leave(context.Background())

	assert.Equal(t, 0, f.registry.Len())
	require.Len(t, f.signaling.sentOfKind("leave"), 1)
	state := f.session.Snapshot()
	require.Len(t, state.Participants, 1)
	assert.Equal(t, GraceTornDown, f.grace.State())
}

func TestHealthyPeerClearsConnectionError(t *testing.T) {
	f := newSessionFixture(t)
	f.join(t)

	f.session.setConnectionError("voice connection to peer-a failed: engine unavailable")
	f.session.onPeerStateChange("peer-a", domain.ConnectionStateConnected, domain.ICEStateConnected)

	assert.Empty(t, f.session.Snapshot().ConnectionError)
}
