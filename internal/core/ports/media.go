package ports

import (
	"context"

	"voicemesh/internal/core/domain"

	webrtc "github.com/pion/webrtc/v3"
)

// PeerHandle wraps one underlying peer connection so the lifecycle and
// health services never touch the native primitive directly.
type PeerHandle interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	ConnectionState() domain.ConnectionState
	ICEConnectionState() domain.ICEConnectionState

	OnConnectionStateChange(fn func(domain.ConnectionState))
	OnICEConnectionStateChange(fn func(domain.ICEConnectionState))
	OnICECandidate(fn func(webrtc.ICECandidateInit))

	Close() error
}

// AudioSink receives the remote audio of one peer and exposes its most
// recent signal level. Owned exclusively by the connection record; must be
// closed when the record is disposed or its reader keeps consuming samples.
type AudioSink interface {
	// Level returns the latest instantaneous RMS level in [0,1].
	Level() float64
	Stats() domain.ConnectionStats
	Close() error
}

// LocalStream is the ready local audio handle this component is given.
// Acquisition and release happen outside this subsystem.
type LocalStream interface {
	Track() webrtc.TrackLocal
	Enabled() bool
	Level() float64
}

// MediaEngine builds peer connections and their audio sinks. Exactly one
// engine exists per session; all sinks are children of it.
type MediaEngine interface {
	SetLocalStream(stream LocalStream)
	NewPeer(ctx context.Context, peerID string, attachLocal bool) (PeerHandle, AudioSink, error)
	Close() error
}
