package webrtc

import (
	"math"
	"testing"

	"voicemesh/internal/core/domain"

	pion "github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
)

func TestPCMLevelSilence(t *testing.T) {
	assert.Zero(t, pcmLevel(nil))
	assert.Zero(t, pcmLevel(make([]int16, 960)))
}

func TestPCMLevelFullScaleClampsToOne(t *testing.T) {
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = math.MaxInt16
	}
	assert.Equal(t, 1.0, pcmLevel(pcm))
}

func TestPCMLevelScalesWithAmplitude(t *testing.T) {
	// A constant signal at 20% of full scale has an RMS of 0.2, which the
	// headroom factor lifts to 0.3.
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = int16(0.2 * 32768)
	}
	assert.InDelta(t, 0.3, pcmLevel(pcm), 0.001)
}

func TestConnectionStateMapping(t *testing.T) {
	assert.Equal(t, domain.ConnectionStateConnected, mapConnectionState(pion.PeerConnectionStateConnected))
	assert.Equal(t, domain.ConnectionStateFailed, mapConnectionState(pion.PeerConnectionStateFailed))
	assert.Equal(t, domain.ConnectionStateDisconnected, mapConnectionState(pion.PeerConnectionStateDisconnected))
	assert.Equal(t, domain.ConnectionStateClosed, mapConnectionState(pion.PeerConnectionStateClosed))
}

func TestICEStateMapping(t *testing.T) {
	assert.Equal(t, domain.ICEStateConnected, mapICEState(pion.ICEConnectionStateConnected))
	assert.Equal(t, domain.ICEStateCompleted, mapICEState(pion.ICEConnectionStateCompleted))
	assert.Equal(t, domain.ICEStateFailed, mapICEState(pion.ICEConnectionStateFailed))
	assert.Equal(t, domain.ICEStateDisconnected, mapICEState(pion.ICEConnectionStateDisconnected))
}
