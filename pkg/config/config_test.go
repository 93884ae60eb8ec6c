package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"empty relay address", func(cfg *Config) { cfg.Relay.Address = "" }},
		{"zero ping interval", func(cfg *Config) { cfg.Relay.PingInterval = 0 }},
		{"empty signaling url", func(cfg *Config) { cfg.Signaling.URL = "" }},
		{"negative redial max", func(cfg *Config) { cfg.Signaling.RedialMax = -1 }},
		{"half-open port range", func(cfg *Config) { cfg.WebRTC.PortRange.Min = 10000 }},
		{"inverted port range", func(cfg *Config) {
			cfg.WebRTC.PortRange.Min = 20000
			cfg.WebRTC.PortRange.Max = 10000
		}},
		{"zero health check interval", func(cfg *Config) { cfg.Voice.HealthCheckInterval = 0 }},
		{"zero reconnect delay", func(cfg *Config) { cfg.Voice.ReconnectDelay = 0 }},
		{"negative reconnect attempts", func(cfg *Config) { cfg.Voice.MaxReconnectAttempts = -1 }},
		{"zero grace period", func(cfg *Config) { cfg.Voice.GracePeriod = 0 }},
		{"silence threshold out of range", func(cfg *Config) { cfg.Voice.SilenceThreshold = 1.5 }},
		{"prometheus enabled without port", func(cfg *Config) {
			cfg.Monitoring.PrometheusEnabled = true
			cfg.Monitoring.PrometheusPort = 0
		}},
		{"redis enabled without address", func(cfg *Config) {
			cfg.Redis.Enabled = true
			cfg.Redis.Address = ""
		}},
		{"auth enabled without secret", func(cfg *Config) {
			cfg.Auth.Enabled = true
			cfg.Auth.JWTSecret = ""
		}},
		{"rate limiting enabled without rate", func(cfg *Config) {
			cfg.RateLimiting.Enabled = true
			cfg.RateLimiting.MessagesPerSecond = 0
		}},
		{"tracing enabled with bad sample rate", func(cfg *Config) {
			cfg.Tracing.Enabled = true
			cfg.Tracing.SampleRate = 2
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestValidateAllowsDisabledSectionsWithZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.MessagesPerSecond = 0
	cfg.RateLimiting.Burst = 0
	cfg.Redis.Enabled = false
	cfg.Redis.Address = ""
	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled sections must not be validated, got: %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Relay.Address != ":8082" {
		t.Fatalf("expected default relay address, got %q", cfg.Relay.Address)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
relay:
  address: ":9000"
voice:
  max_reconnect_attempts: 5
  silence_threshold: 0.05
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Relay.Address != ":9000" {
		t.Fatalf("expected overridden address, got %q", cfg.Relay.Address)
	}
	if cfg.Voice.MaxReconnectAttempts != 5 {
		t.Fatalf("expected overridden attempts, got %d", cfg.Voice.MaxReconnectAttempts)
	}
	if cfg.Voice.SilenceThreshold != 0.05 {
		t.Fatalf("expected overridden threshold, got %v", cfg.Voice.SilenceThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Voice.HealthCheckInterval != 15*time.Second {
		t.Fatalf("expected default health check interval, got %v", cfg.Voice.HealthCheckInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEMESH_RELAY_ADDRESS", ":7777")
	t.Setenv("VOICEMESH_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Relay.Address != ":7777" {
		t.Fatalf("expected env override, got %q", cfg.Relay.Address)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env override, got %q", cfg.Logging.Level)
	}
}
