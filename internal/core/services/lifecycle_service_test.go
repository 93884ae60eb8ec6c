package services

import (
	"context"
	"testing"

	"voicemesh/internal/infrastructure/repositories/memory"

	webrtc "github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycleFixture(t *testing.T) (*LifecycleService, *fakeEngine, *fakeSignaling, *memory.ConnectionRegistry) {
	t.Helper()
	registry := memory.NewConnectionRegistry(testLogger())
	engine := newFakeEngine()
	signaling := newFakeSignaling()
	svc := NewLifecycleService(registry, engine, signaling, nil, testLogger())
	svc.Bind(
		func() (string, string) { return "room-1", "me" },
		func() bool { return true },
		func(string) {},
		nil,
	)
	return svc, engine, signaling, registry
}

func TestInitiateSendsOfferAndRegistersRecord(t *testing.T) {
	svc, engine, signaling, registry := newLifecycleFixture(t)

	svc.Initiate(context.Background(), "peer-a")

	require.Equal(t, 1, registry.Len())
	rec, ok := registry.Get("peer-a")
	require.True(t, ok)
	assert.Equal(t, "peer-a", rec.PeerID)

	offers := signaling.sentOfKind("offer")
	require.Len(t, offers, 1)
	assert.Equal(t, "peer-a", offers[0].targetUserID)
	assert.Equal(t, "me", offers[0].userID)
	assert.Equal(t, 1, engine.callCount())
}

func TestInitiateIsIdempotent(t *testing.T) {
	svc, engine, signaling, registry := newLifecycleFixture(t)

	svc.Initiate(context.Background(), "peer-a")
	svc.Initiate(context.Background(), "peer-a")

	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, 1, engine.callCount())
	assert.Len(t, signaling.sentOfKind("offer"), 1)
}

func TestInitiateEngineFailureSurfacesError(t *testing.T) {
	registry := memory.NewConnectionRegistry(testLogger())
	engine := newFakeEngine()
	engine.failNewPeer = true
	signaling := newFakeSignaling()
	svc := NewLifecycleService(registry, engine, signaling, nil, testLogger())

	var gotError string
	svc.Bind(
		func() (string, string) { return "room-1", "me" },
		func() bool { return false },
		func(msg string) { gotError = msg },
		nil,
	)

	svc.Initiate(context.Background(), "peer-a")

	assert.Equal(t, 0, registry.Len())
	assert.NotEmpty(t, gotError)
	assert.Empty(t, signaling.sentOfKind("offer"))
}

func TestInitiateSendFailureCleansUpRecord(t *testing.T) {
	svc, _, signaling, registry := newLifecycleFixture(t)
	signaling.failSend = true

	svc.Initiate(context.Background(), "peer-a")

	assert.Equal(t, 0, registry.Len())
}

func TestAcceptOfferRepliesWithAnswer(t *testing.T) {
	svc, _, signaling, registry := newLifecycleFixture(t)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	svc.AcceptOffer(context.Background(), "peer-b", offer)

	require.Equal(t, 1, registry.Len())
	answers := signaling.sentOfKind("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, "peer-b", answers[0].targetUserID)
}

func TestAcceptOfferSupersedesExistingRecord(t *testing.T) {
	svc, engine, _, registry := newLifecycleFixture(t)

	svc.Initiate(context.Background(), "peer-b")
	first := engine.handleFor("peer-b")
	require.NotNil(t, first)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	svc.AcceptOffer(context.Background(), "peer-b", offer)

	assert.Equal(t, 1, registry.Len())
	assert.True(t, first.isClosed())
	assert.Equal(t, 2, engine.callCount())
}

func TestApplyAnswerForUnknownPeerIsIgnored(t *testing.T) {
	svc, _, _, registry := newLifecycleFixture(t)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	svc.ApplyAnswer("ghost", answer)
	svc.ApplyICECandidate("ghost", webrtc.ICECandidateInit{Candidate: "candidate"})

	assert.Equal(t, 0, registry.Len())
}

func TestDisposeClosesHandleAndSink(t *testing.T) {
	svc, engine, _, registry := newLifecycleFixture(t)

	svc.Initiate(context.Background(), "peer-a")
	handle := engine.handleFor("peer-a")

	svc.Dispose("peer-a")

	assert.Equal(t, 0, registry.Len())
	assert.True(t, handle.isClosed())
}
