package services

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/ports"

	"go.uber.org/zap"
)

// AudioLevelService samples audio levels for the local stream and every
// remote sink, smoothing each series with an exponential moving average,
// and polls the local mute state to announce transitions over signaling.
type AudioLevelService struct {
	registry  ports.ConnectionRegistry
	signaling ports.Signaling

	sampleInterval   time.Duration
	mutePollInterval time.Duration
	smoothingOld     float64
	smoothingNew     float64

	identity    func() (roomID, userID string)
	localStream func() ports.LocalStream
	// onLevel receives smoothed per-user levels; an empty userID means the
	// local participant.
	onLevel func(userID string, level float64)

	muteDetector *MuteDetector

	mu       sync.Mutex
	smoothed map[string]float64
	cancel   context.CancelFunc
	running  bool

	logger *zap.SugaredLogger
}

func NewAudioLevelService(
	registry ports.ConnectionRegistry,
	signaling ports.Signaling,
	sampleInterval, mutePollInterval time.Duration,
	logger *zap.SugaredLogger,
) *AudioLevelService {
	return &AudioLevelService{
		registry:         registry,
		signaling:        signaling,
		sampleInterval:   sampleInterval,
		mutePollInterval: mutePollInterval,
		smoothingOld:     0.7,
		smoothingNew:     0.3,
		identity:         func() (string, string) { return "", "" },
		localStream:      func() ports.LocalStream { return nil },
		onLevel:          func(string, float64) {},
		muteDetector:     NewMuteDetector(),
		smoothed:         make(map[string]float64),
		logger:           logger,
	}
}

// Bind wires the session-owned callbacks. Must be called before Start.
func (s *AudioLevelService) Bind(
	identity func() (roomID, userID string),
	localStream func() ports.LocalStream,
	onLevel func(userID string, level float64),
) {
	s.identity = identity
	s.localStream = localStream
	s.onLevel = onLevel
}

// Start launches the sampling and mute-polling loops. Calling Start on a
// running service is a no-op.
func (s *AudioLevelService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.runSampler(ctx)
	go s.runMutePoll(ctx)
	s.logger.Infow("audio level monitor started",
		"sample_interval", s.sampleInterval,
		"mute_poll_interval", s.mutePollInterval,
	)
}

// Stop halts both loops and clears the smoothed series.
func (s *AudioLevelService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.smoothed = make(map[string]float64)
	s.muteDetector.Reset()
}

func (s *AudioLevelService) runSampler(ctx context.Context) {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *AudioLevelService) sample() {
	if stream := s.localStream(); stream != nil {
		s.onLevel("", s.smooth("", stream.Level()))
	}
	s.registry.ForEach(func(rec *ports.ConnectionRecord) {
		if rec.Sink == nil {
			return
		}
		s.onLevel(rec.PeerID, s.smooth(rec.PeerID, rec.Sink.Level()))
	})
}

// smooth folds an instantaneous level into the per-user moving average.
// The instantaneous input is already clamped to [0, 1] by the sink.
func (s *AudioLevelService) smooth(userID string, instant float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.smoothed[userID]
	level := s.smoothingOld*prev + s.smoothingNew*instant
	s.smoothed[userID] = level
	return level
}

// Drop removes the smoothed series for a departed user.
func (s *AudioLevelService) Drop(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.smoothed, userID)
}

func (s *AudioLevelService) runMutePoll(ctx context.Context) {
	ticker := time.NewTicker(s.mutePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollMute(ctx)
		}
	}
}

func (s *AudioLevelService) pollMute(ctx context.Context) {
	stream := s.localStream()
	if stream == nil {
		return
	}
	muted := !stream.Enabled()
	if !s.muteDetector.Observe(muted) {
		return
	}
	roomID, userID := s.identity()
	s.logger.Infow("local mute state changed", "muted", muted)
	if err := s.signaling.SendMuteChanged(ctx, roomID, userID, muted); err != nil {
		s.logger.Warnw("failed to announce mute change", "error", err)
	}
}
