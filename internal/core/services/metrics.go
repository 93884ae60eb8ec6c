package services

// VoiceMetrics is the narrow metrics surface the voice services report to.
// Satisfied by monitoring.VoiceCollector; may be nil when metrics are
// disabled.
type VoiceMetrics interface {
	SetPeersConnected(n int)
	IncReconnectAttempts()
	IncReconnectExhausted()
	IncGracePeriods()
	IncTeardowns()
	IncHeartbeatsSent()
	IncNegotiationErrors()
}
