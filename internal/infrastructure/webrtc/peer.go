package webrtc

import (
	"context"
	"fmt"
	"sync"

	"voicemesh/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// peerHandle adapts a pion connection to the narrow surface the services
// negotiate through.
type peerHandle struct {
	pc *webrtc.PeerConnection

	mu               sync.Mutex
	onStateChange    func(domain.ConnectionState)
	onICEStateChange func(domain.ICEConnectionState)
	onICECandidate   func(webrtc.ICECandidateInit)

	logger *zap.SugaredLogger
}

func newPeerHandle(pc *webrtc.PeerConnection, logger *zap.SugaredLogger) *peerHandle {
	h := &peerHandle{pc: pc, logger: logger}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		h.mu.Lock()
		fn := h.onStateChange
		h.mu.Unlock()
		if fn != nil {
			fn(mapConnectionState(state))
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		h.mu.Lock()
		fn := h.onICEStateChange
		h.mu.Unlock()
		if fn != nil {
			fn(mapICEState(state))
		}
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		h.mu.Lock()
		fn := h.onICECandidate
		h.mu.Unlock()
		if fn != nil {
			fn(candidate.ToJSON())
		}
	})

	return h
}

func (h *peerHandle) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := h.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := h.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

func (h *peerHandle) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := h.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := h.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return answer, nil
}

func (h *peerHandle) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := h.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (h *peerHandle) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return h.pc.AddICECandidate(candidate)
}

func (h *peerHandle) ConnectionState() domain.ConnectionState {
	return mapConnectionState(h.pc.ConnectionState())
}

func (h *peerHandle) ICEConnectionState() domain.ICEConnectionState {
	return mapICEState(h.pc.ICEConnectionState())
}

func (h *peerHandle) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	h.mu.Lock()
	h.onStateChange = fn
	h.mu.Unlock()
}

func (h *peerHandle) OnICEConnectionStateChange(fn func(domain.ICEConnectionState)) {
	h.mu.Lock()
	h.onICEStateChange = fn
	h.mu.Unlock()
}

func (h *peerHandle) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	h.mu.Lock()
	h.onICECandidate = fn
	h.mu.Unlock()
}

func (h *peerHandle) Close() error {
	return h.pc.Close()
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectionStateNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionStateClosed
	default:
		return domain.ConnectionStateNew
	}
}

func mapICEState(state webrtc.ICEConnectionState) domain.ICEConnectionState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return domain.ICEStateNew
	case webrtc.ICEConnectionStateChecking:
		return domain.ICEStateChecking
	case webrtc.ICEConnectionStateConnected:
		return domain.ICEStateConnected
	case webrtc.ICEConnectionStateCompleted:
		return domain.ICEStateCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return domain.ICEStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.ICEStateFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.ICEStateClosed
	default:
		return domain.ICEStateNew
	}
}
