package ports

import (
	"context"

	"voicemesh/internal/core/domain"

	webrtc "github.com/pion/webrtc/v3"
)

// SignalingEvents are the inbound callbacks a session wires before joining.
// Handlers run on the transport's read goroutine and must not block.
type SignalingEvents struct {
	OnParticipants       func(participants []domain.VoiceParticipant)
	OnUserJoined         func(userID, username string)
	OnUserLeft           func(userID string)
	OnOffer              func(fromUserID string, offer webrtc.SessionDescription)
	OnAnswer             func(fromUserID string, answer webrtc.SessionDescription)
	OnICECandidate       func(fromUserID string, candidate webrtc.ICECandidateInit)
	OnMuteChanged        func(userID string, isMuted bool)
	OnHeartbeat          func(fromUserID string, states domain.HealthSnapshot)
	OnConnectionFailed   func(fromUserID string)
	OnReconnectRequested func(fromUserID, targetUserID string)
	OnTransportDown      func()
	OnTransportUp        func()
}

// Signaling is the thin interface over the external relay. It carries only
// negotiation and presence traffic, never media.
type Signaling interface {
	Handle(events SignalingEvents)

	JoinVoice(ctx context.Context, roomID, userID, username string) error
	LeaveVoice(ctx context.Context, roomID, userID string) error
	RequestParticipants(ctx context.Context, roomID string) error

	SendOffer(ctx context.Context, roomID, fromUserID, targetUserID string, offer webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, roomID, fromUserID, targetUserID string, answer webrtc.SessionDescription) error
	SendICECandidate(ctx context.Context, roomID, fromUserID, targetUserID string, candidate webrtc.ICECandidateInit) error

	SendMuteChanged(ctx context.Context, roomID, userID string, isMuted bool) error
	SendHeartbeat(ctx context.Context, roomID, userID string, states domain.HealthSnapshot) error
	SendConnectionFailed(ctx context.Context, roomID, fromUserID string) error
	SendReconnectRequest(ctx context.Context, roomID, fromUserID, targetUserID string) error

	Close() error
}
