package webrtc

import (
	"context"
	"fmt"
	"sync"

	"voicemesh/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig carries the transport settings for peer connections.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Engine builds peer connections and audio sinks on top of pion. One engine
// exists per session; the underlying API object is built lazily on first
// use and shared by every connection.
type Engine struct {
	config EngineConfig

	mu          sync.RWMutex
	api         *webrtc.API
	localStream ports.LocalStream
	closed      bool

	logger *zap.SugaredLogger
}

func NewEngine(config EngineConfig, logger *zap.SugaredLogger) *Engine {
	return &Engine{config: config, logger: logger}
}

// SetLocalStream swaps the local outbound stream. Only connections created
// afterwards pick it up; callers renegotiate existing ones.
func (e *Engine) SetLocalStream(stream ports.LocalStream) {
	e.mu.Lock()
	e.localStream = stream
	e.mu.Unlock()
}

// NewPeer builds a peer connection toward peerID. When attachLocal is set
// and a local stream is present, the outbound track is added; otherwise the
// connection is receive-only. The returned sink starts producing levels as
// soon as the remote track arrives.
func (e *Engine) NewPeer(ctx context.Context, peerID string, attachLocal bool) (ports.PeerHandle, ports.AudioSink, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil, fmt.Errorf("engine closed")
	}
	if e.api == nil {
		settingEngine := webrtc.SettingEngine{}
		if e.config.PortRange.Min > 0 && e.config.PortRange.Max > 0 {
			if err := settingEngine.SetEphemeralUDPPortRange(e.config.PortRange.Min, e.config.PortRange.Max); err != nil {
				e.mu.Unlock()
				return nil, nil, fmt.Errorf("failed to set port range: %w", err)
			}
		}
		e.api = webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	}
	api := e.api
	localStream := e.localStream
	e.mu.Unlock()

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   e.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	if attachLocal && localStream != nil {
		if _, err := pc.AddTrack(localStream.Track()); err != nil {
			pc.Close()
			return nil, nil, fmt.Errorf("failed to attach local track: %w", err)
		}
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, nil, fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}

	sink := newRemoteSink(peerID, e.logger)
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.logger.Infow("remote track arrived",
			"peer_id", peerID,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		sink.attach(track, receiver)
	})

	return newPeerHandle(pc, e.logger), sink, nil
}

// Close marks the engine unusable. Individual connections are owned by
// their records and closed through them.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.api = nil
	e.localStream = nil
	e.mu.Unlock()
	return nil
}
