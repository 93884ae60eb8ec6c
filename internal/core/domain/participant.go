package domain

// VoiceParticipant is the externally observable view of one participant.
// It is a projection derived from connection records and explicit mute
// signals; an entry may exist before any peer connection does.
type VoiceParticipant struct {
	UserID     string  `json:"userId"`
	Username   string  `json:"username"`
	IsMuted    bool    `json:"isMuted"`
	AudioLevel float64 `json:"audioLevel"`
}

// VoiceSessionState is the aggregate read model exposed to callers.
type VoiceSessionState struct {
	Participants    []VoiceParticipant
	IsConnecting    bool
	ConnectionError string
	CanTransmit     bool
	IsAudioEnabled  bool
}
