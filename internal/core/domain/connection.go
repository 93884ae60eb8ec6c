package domain

import "time"

// ConnectionState mirrors the lifecycle of a single peer connection.
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

// Healthy reports whether the connection is fully established.
func (s ConnectionState) Healthy() bool {
	return s == ConnectionStateConnected
}

// Unhealthy reports whether the connection needs repair.
func (s ConnectionState) Unhealthy() bool {
	return s == ConnectionStateFailed || s == ConnectionStateDisconnected
}

// ICEConnectionState mirrors the ICE agent state of a peer connection.
type ICEConnectionState string

const (
	ICEStateNew          ICEConnectionState = "new"
	ICEStateChecking     ICEConnectionState = "checking"
	ICEStateConnected    ICEConnectionState = "connected"
	ICEStateCompleted    ICEConnectionState = "completed"
	ICEStateFailed       ICEConnectionState = "failed"
	ICEStateDisconnected ICEConnectionState = "disconnected"
	ICEStateClosed       ICEConnectionState = "closed"
)

// Healthy reports whether ICE has found a working candidate pair.
func (s ICEConnectionState) Healthy() bool {
	return s == ICEStateConnected || s == ICEStateCompleted
}

// Unhealthy reports whether the ICE agent has lost connectivity.
func (s ICEConnectionState) Unhealthy() bool {
	return s == ICEStateFailed || s == ICEStateDisconnected
}

// ConnectionStats carries receive-side quality numbers sampled from RTCP.
type ConnectionStats struct {
	PacketLoss float64
	Jitter     time.Duration
	Timestamp  time.Time
}
