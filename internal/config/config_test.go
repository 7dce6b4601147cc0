package config

import (
	"os"
	"testing"
)

var knownVars = []string{
	"HOST", "HTTP_PORT", "THREADS", "MODEL_PATH", "VAD_MODEL", "ONNXRUNTIME_LIB",
	"ASR_BACKEND", "ASR_LANGUAGE", "NUM_THREADS", "SAMPLE_RATE",
	"VAD_THRESHOLD", "VAD_MIN_SILENCE", "VAD_MIN_SPEECH", "VAD_MAX_SPEECH",
	"VAD_WINDOW_SIZE", "VAD_CONTEXT_SIZE",
	"RECOGNIZER_POOL_SIZE", "MAX_CONCURRENT_REQUESTS",
	"SILENCE_THRESHOLD", "MIN_AUDIO_SEC", "MAX_AUDIO_SEC",
	"MAX_UPLOAD_BYTES", "MAX_WS_MESSAGE_BYTES",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_FINAL", "SERVICE_PRINCIPAL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range knownVars {
		os.Unsetenv(v)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Host)
	}
	if cfg.Port != 8081 {
		t.Errorf("expected default port 8081, got %d", cfg.Port)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRate)
	}
	if cfg.VADWindowSize != 512 {
		t.Errorf("expected default window 512, got %d", cfg.VADWindowSize)
	}
	if cfg.VADContextSize != 64 {
		t.Errorf("expected default context 64, got %d", cfg.VADContextSize)
	}
	if cfg.Backend != "whisper" {
		t.Errorf("expected default backend whisper, got %s", cfg.Backend)
	}
	if cfg.MaxAudioSec != 30.0 {
		t.Errorf("expected default max audio 30s, got %v", cfg.MaxAudioSec)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("SAMPLE_RATE", "8000")
	t.Setenv("ASR_BACKEND", "mock")
	t.Setenv("VAD_THRESHOLD", "0.7")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.SampleRate != 8000 {
		t.Errorf("sample rate = %d", cfg.SampleRate)
	}
	if cfg.Backend != "mock" {
		t.Errorf("backend = %s", cfg.Backend)
	}
	if cfg.VADThreshold != 0.7 {
		t.Errorf("threshold = %v", cfg.VADThreshold)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("VAD_THRESHOLD", "also-not")

	cfg := FromEnv()
	if cfg.Port != 8081 {
		t.Errorf("expected default port on parse failure, got %d", cfg.Port)
	}
	if cfg.VADThreshold != 0.5 {
		t.Errorf("expected default threshold on parse failure, got %v", cfg.VADThreshold)
	}
}

func TestValidate_Clamping(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()
	cfg.SampleRate = 96000
	cfg.VADWindowSize = 8192
	cfg.VADContextSize = 64
	cfg.NumThreads = 1000
	cfg.VADThreshold = 1.5

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("sample rate not clamped: %d", cfg.SampleRate)
	}
	if cfg.VADWindowSize != 4096 {
		t.Errorf("window not clamped: %d", cfg.VADWindowSize)
	}
	if cfg.NumThreads != 128 {
		t.Errorf("threads not clamped: %d", cfg.NumThreads)
	}
	if cfg.VADThreshold != 0.99 {
		t.Errorf("threshold not clamped: %v", cfg.VADThreshold)
	}
}

func TestValidate_HardErrors(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }},
		{"zero window", func(c *Config) { c.VADWindowSize = 0 }},
		{"context >= window", func(c *Config) { c.VADContextSize = c.VADWindowSize }},
		{"zero upload bytes", func(c *Config) { c.MaxUploadBytes = 0 }},
		{"zero ws bytes", func(c *Config) { c.MaxWSMessageBytes = 0 }},
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"unknown backend", func(c *Config) { c.Backend = "siri" }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := FromEnv()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsConfigError(err) {
				t.Errorf("expected ConfigError, got %T", err)
			}
		})
	}
}

func TestValidate_AutoDerivation(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()
	cfg.Threads = 8
	cfg.RecognizerPoolSize = 0
	cfg.MaxConcurrentRequests = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.RecognizerPoolSize != 8 {
		t.Errorf("expected pool size 8, got %d", cfg.RecognizerPoolSize)
	}
	if cfg.MaxConcurrentRequests != 16 {
		t.Errorf("expected 16 concurrent requests, got %d", cfg.MaxConcurrentRequests)
	}
}

func TestValidate_DurationFixups(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()
	cfg.MinAudioSec = -1
	cfg.MaxAudioSec = -5
	cfg.VADMinSilence = 0
	cfg.VADMaxSpeech = 0.001

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MinAudioSec != 0 {
		t.Errorf("min audio = %v", cfg.MinAudioSec)
	}
	if cfg.MaxAudioSec <= cfg.MinAudioSec {
		t.Errorf("max audio not fixed: %v", cfg.MaxAudioSec)
	}
	if cfg.VADMinSilence <= 0 {
		t.Errorf("min silence not fixed: %v", cfg.VADMinSilence)
	}
	if cfg.VADMaxSpeech <= cfg.VADMinSpeech {
		t.Errorf("max speech not fixed: %v", cfg.VADMaxSpeech)
	}
}
