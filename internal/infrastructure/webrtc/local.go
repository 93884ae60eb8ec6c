package webrtc

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"gopkg.in/hraban/opus.v2"
)

const (
	// 20ms frames at 48kHz.
	localFrameSamples = 960
	localBitrate      = 64000
)

// LocalAudioTrack is an Opus-encoding local stream fed with raw PCM by the
// capture layer. Disabling it keeps the encoder warm but writes silence,
// so remote jitter buffers keep receiving a steady packet cadence.
type LocalAudioTrack struct {
	track   *webrtc.TrackLocalStaticSample
	encoder *opus.Encoder

	enabled   atomic.Bool
	levelBits atomic.Uint64

	writeMu sync.Mutex
	silence []int16

	logger *zap.SugaredLogger
}

func NewLocalAudioTrack(trackID, streamID string, logger *zap.SugaredLogger) (*LocalAudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		trackID,
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create local track: %w", err)
	}

	encoder, err := opus.NewEncoder(sinkSampleRate, sinkChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := encoder.SetBitrate(localBitrate); err != nil {
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}

	t := &LocalAudioTrack{
		track:   track,
		encoder: encoder,
		silence: make([]int16, localFrameSamples*sinkChannels),
		logger:  logger,
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalAudioTrack) Track() webrtc.TrackLocal {
	return t.track
}

// SetEnabled toggles transmission. The level meter still follows the raw
// input so the UI can show activity while muted.
func (t *LocalAudioTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *LocalAudioTrack) Enabled() bool {
	return t.enabled.Load()
}

// Level returns the latest instantaneous level of the captured input.
func (t *LocalAudioTrack) Level() float64 {
	return math.Float64frombits(t.levelBits.Load())
}

// WritePCM encodes one 20ms PCM frame and hands it to the track. Frames
// must carry exactly localFrameSamples samples.
func (t *LocalAudioTrack) WritePCM(pcm []int16) error {
	if len(pcm) != localFrameSamples*sinkChannels {
		return fmt.Errorf("frame must carry %d samples, got %d", localFrameSamples*sinkChannels, len(pcm))
	}
	t.levelBits.Store(math.Float64bits(pcmLevel(pcm)))

	frame := pcm
	if !t.enabled.Load() {
		frame = t.silence
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	data := make([]byte, 1024)
	n, err := t.encoder.Encode(frame, data)
	if err != nil {
		return fmt.Errorf("opus encode failed: %w", err)
	}
	return t.track.WriteSample(media.Sample{
		Data:     data[:n],
		Duration: 20 * time.Millisecond,
	})
}
