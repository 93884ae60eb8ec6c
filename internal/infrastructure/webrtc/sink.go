package webrtc

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voicemesh/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"gopkg.in/hraban/opus.v2"
)

const (
	sinkSampleRate = 48000
	sinkChannels   = 1
	// Opus frames can be up to 60ms; at 48kHz that is 2880 samples per
	// channel, doubled for safety.
	sinkMaxFrameSamples = 5760
	// headroom scaling applied to the raw RMS before clipping to [0,1].
	levelHeadroom = 1.5
)

// remoteSink consumes one peer's inbound audio. It decodes Opus payloads
// to PCM, keeps the most recent RMS level, and harvests receiver reports
// for packet loss and jitter. Both readers stop when the sink is closed or
// the underlying track errors out.
type remoteSink struct {
	peerID string

	levelBits atomic.Uint64

	statsMu sync.RWMutex
	stats   domain.ConnectionStats

	closeOnce sync.Once
	closed    chan struct{}

	logger *zap.SugaredLogger
}

func newRemoteSink(peerID string, logger *zap.SugaredLogger) *remoteSink {
	return &remoteSink{
		peerID: peerID,
		closed: make(chan struct{}),
		logger: logger,
	}
}

// attach starts the read loops for an arrived remote track.
func (s *remoteSink) attach(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	go s.readRTP(track)
	go s.readRTCP(receiver)
}

// Level returns the latest instantaneous level in [0,1].
func (s *remoteSink) Level() float64 {
	select {
	case <-s.closed:
		return 0
	default:
	}
	return math.Float64frombits(s.levelBits.Load())
}

func (s *remoteSink) Stats() domain.ConnectionStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *remoteSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.levelBits.Store(0)
	})
	return nil
}

func (s *remoteSink) readRTP(track *webrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(sinkSampleRate, sinkChannels)
	if err != nil {
		s.logger.Errorw("failed to create opus decoder", "peer_id", s.peerID, "error", err)
		return
	}

	packetBuffer := make([]byte, 1500)
	pcm := make([]int16, sinkMaxFrameSamples*sinkChannels)
	rtpPacket := &rtp.Packet{}

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		n, _, err := track.Read(packetBuffer)
		if err != nil {
			s.logger.Debugw("remote track closed", "peer_id", s.peerID, "error", err)
			return
		}
		if err := rtpPacket.Unmarshal(packetBuffer[:n]); err != nil {
			s.logger.Warnw("error unmarshaling RTP packet", "peer_id", s.peerID, "error", err)
			continue
		}
		if len(rtpPacket.Payload) == 0 {
			continue
		}

		samples, err := decoder.Decode(rtpPacket.Payload, pcm)
		if err != nil {
			s.logger.Debugw("opus decode failed", "peer_id", s.peerID, "error", err)
			continue
		}
		s.levelBits.Store(math.Float64bits(pcmLevel(pcm[:samples*sinkChannels])))
	}
}

func (s *remoteSink) readRTCP(receiver *webrtc.RTPReceiver) {
	for {
		select {
		case <-s.closed:
			return
		default:
		}

		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			s.logger.Debugw("RTCP reader stopped", "peer_id", s.peerID, "error", err)
			return
		}

		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, r := range report.Reports {
				s.statsMu.Lock()
				s.stats = domain.ConnectionStats{
					PacketLoss: float64(r.FractionLost) / 255.0,
					Jitter:     time.Duration(r.Jitter) * time.Millisecond,
					Timestamp:  time.Now(),
				}
				s.statsMu.Unlock()
			}
		}
	}
}

// pcmLevel computes the root-mean-square of a PCM frame, scaled with
// headroom and clipped to [0,1].
func pcmLevel(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range pcm {
		v := float64(sample) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(pcm)))
	return math.Min(1, rms*levelHeadroom)
}
