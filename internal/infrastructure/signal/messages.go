package signal

import (
	"voicemesh/internal/core/domain"

	webrtc "github.com/pion/webrtc/v3"
)

// Message types exchanged over the relay.
const (
	TypeJoinVoice           = "join_voice"
	TypeLeaveVoice          = "leave_voice"
	TypeRequestParticipants = "request_voice_participants"
	TypeParticipants        = "voice_participants"
	TypeUserJoined          = "user_joined_voice"
	TypeUserLeft            = "user_left_voice"
	TypeOffer               = "voice_offer"
	TypeAnswer              = "voice_answer"
	TypeICECandidate        = "voice_ice_candidate"
	TypeMuteChanged         = "voice_mute_changed"
	TypeHeartbeat           = "voice_heartbeat"
	TypeConnectionFailed    = "voice_connection_failed"
	TypeReconnectRequested  = "voice_reconnection_requested"
)

// PeerStateInfo is one entry in a heartbeat's connection-state snapshot.
type PeerStateInfo struct {
	ConnectionState    string `json:"connectionState"`
	ICEConnectionState string `json:"iceConnectionState"`
}

// ParticipantInfo is a roster entry in a voice_participants message.
type ParticipantInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsMuted  bool   `json:"isMuted"`
}

// Message is the single envelope for all relay traffic. Only the fields
// relevant to each type are populated.
type Message struct {
	Type         string `json:"type"`
	RoomID       string `json:"roomId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	IsMuted          *bool                    `json:"isMuted,omitempty"`
	Participants     []ParticipantInfo        `json:"participants,omitempty"`
	ConnectionStates map[string]PeerStateInfo `json:"connectionStates,omitempty"`
}

// snapshotToWire converts a domain health snapshot to its wire form.
func snapshotToWire(snapshot domain.HealthSnapshot) map[string]PeerStateInfo {
	states := make(map[string]PeerStateInfo, len(snapshot))
	for peerID, health := range snapshot {
		states[peerID] = PeerStateInfo{
			ConnectionState:    string(health.ConnectionState),
			ICEConnectionState: string(health.ICEConnectionState),
		}
	}
	return states
}

// snapshotFromWire converts wire connection states back to domain form.
func snapshotFromWire(states map[string]PeerStateInfo) domain.HealthSnapshot {
	snapshot := make(domain.HealthSnapshot, len(states))
	for peerID, info := range states {
		snapshot[peerID] = domain.PeerHealth{
			ConnectionState:    domain.ConnectionState(info.ConnectionState),
			ICEConnectionState: domain.ICEConnectionState(info.ICEConnectionState),
		}
	}
	return snapshot
}
