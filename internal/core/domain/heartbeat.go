package domain

// PeerHealth is one entry of a heartbeat payload.
type PeerHealth struct {
	ConnectionState    ConnectionState    `json:"connectionState"`
	ICEConnectionState ICEConnectionState `json:"iceConnectionState"`
}

// HealthSnapshot is the wholesale per-peer state map emitted on each
// heartbeat tick so remote peers can corroborate failures from both sides.
// It is stateless and never persisted.
type HealthSnapshot map[string]PeerHealth
