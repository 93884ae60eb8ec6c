package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"voicemesh/internal/core/services"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/internal/infrastructure/repositories/memory"
	"voicemesh/internal/infrastructure/signal"
	webrtcinfra "voicemesh/internal/infrastructure/webrtc"
	"voicemesh/pkg/config"
	"voicemesh/pkg/logger"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		roomID   = flag.String("room", "", "voice room to join")
		userID   = flag.String("user", "", "user id (generated when empty)")
		username = flag.String("name", "", "display name")
		relayURL = flag.String("relay", "", "relay websocket URL (overrides config)")
		token    = flag.String("token", "", "relay access token")
	)
	flag.Parse()

	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: voice -room <room-id> [-user <id>] [-name <name>]")
		os.Exit(2)
	}
	if *userID == "" {
		*userID = uuid.NewString()
	}
	if *username == "" {
		*username = *userID
	}

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}
	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if *relayURL != "" {
		cfg.Signaling.URL = *relayURL
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	engineConfig := webrtcinfra.EngineConfig{ICEServers: iceServers}
	engineConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	engine := webrtcinfra.NewEngine(engineConfig, log)

	client := signal.NewClient(signal.ClientConfig{
		URL:           cfg.Signaling.URL,
		Token:         *token,
		DialTimeout:   cfg.Signaling.DialTimeout,
		RedialBackoff: cfg.Signaling.RedialBackoff,
		RedialMax:     cfg.Signaling.RedialMax,
	}, log)

	var metrics *monitoring.VoiceCollector
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewVoiceCollector()
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Infow("metrics listener started", "address", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Warnw("metrics listener stopped", "error", err)
			}
		}()
	}

	registry := memory.NewConnectionRegistry(log)
	lifecycle := services.NewLifecycleService(registry, engine, client, voiceMetrics(metrics), log)
	health := services.NewHealthService(
		registry, lifecycle, client,
		cfg.Voice.HealthCheckInterval, cfg.Voice.ReconnectDelay, cfg.Voice.MaxReconnectAttempts,
		voiceMetrics(metrics), log,
	)
	grace := services.NewGraceService(cfg.Voice.GracePeriod, voiceMetrics(metrics), log)
	heartbeat := services.NewHeartbeatService(registry, client, cfg.Voice.HeartbeatInterval, voiceMetrics(metrics), log)
	audioLevel := services.NewAudioLevelService(registry, client, cfg.Voice.SampleInterval, cfg.Voice.MutePollInterval, log)

	session := services.NewSessionService(
		registry, engine, client,
		lifecycle, health, grace, heartbeat, audioLevel,
		cfg.Voice.SilenceThreshold, log,
	)

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Fatalw("failed to connect to relay", "url", cfg.Signaling.URL, "error", err)
	}

	localTrack, err := webrtcinfra.NewLocalAudioTrack("audio", *userID, log)
	if err != nil {
		log.Fatalw("failed to create local track", "error", err)
	}
	session.AddLocalStream(ctx, localTrack)

	if err := session.Join(ctx, *roomID, *userID, *username); err != nil {
		log.Fatalw("failed to join voice room", "room_id", *roomID, "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("received shutdown signal", "signal", sig)

	if err := session.Close(); err != nil {
		log.Errorw("error closing session", "error", err)
	}
	log.Info("voice node stopped")
}

// voiceMetrics keeps a nil collector a nil interface value.
func voiceMetrics(c *monitoring.VoiceCollector) services.VoiceMetrics {
	if c == nil {
		return nil
	}
	return c
}
