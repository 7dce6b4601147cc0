// Package config loads and validates service configuration from
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ConfigError marks a configuration value the service cannot run with.
// The process exits with code 2 when one is raised at startup.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Config holds all service settings. Immutable after Validate.
type Config struct {
	// Server
	Host    string
	Port    int
	Threads int

	// Model paths
	ModelPath  string // whisper ggml model file
	VADModel   string // silero onnx model file
	VADLibrary string // ONNX Runtime shared library; empty uses the platform default

	// ASR
	Backend     string // whisper, google, mock
	Language    string
	NumThreads  int
	SampleRate  int

	// VAD
	VADThreshold   float32
	VADMinSilence  float32 // seconds
	VADMinSpeech   float32 // seconds
	VADMaxSpeech   float32 // seconds
	VADWindowSize  int     // samples
	VADContextSize int     // samples

	// Concurrency
	RecognizerPoolSize    int   // 0 = auto = Threads
	MaxConcurrentRequests int64 // 0 = auto = Threads * 2

	// Audio
	SilenceThreshold  float32
	MinAudioSec       float32
	MaxAudioSec       float32
	MaxUploadBytes    int64
	MaxWSMessageBytes int64

	// Kafka transcript events
	Kafka KafkaConfig
}

// KafkaConfig configures optional publishing of final transcripts.
type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	TopicFinal string
	Principal  string
}

// FromEnv builds a Config from environment variables, falling back to
// defaults for anything unset.
func FromEnv() *Config {
	return &Config{
		Host:    envOrDefault("HOST", "0.0.0.0"),
		Port:    envInt("HTTP_PORT", 8081),
		Threads: envInt("THREADS", runtime.NumCPU()),

		ModelPath:  envOrDefault("MODEL_PATH", "models/ggml-base.bin"),
		VADModel:   envOrDefault("VAD_MODEL", "models/silero_vad.onnx"),
		VADLibrary: envOrDefault("ONNXRUNTIME_LIB", ""),

		Backend:    envOrDefault("ASR_BACKEND", "whisper"),
		Language:   envOrDefault("ASR_LANGUAGE", "en"),
		NumThreads: envInt("NUM_THREADS", 4),
		SampleRate: envInt("SAMPLE_RATE", 16000),

		VADThreshold:   envFloat("VAD_THRESHOLD", 0.5),
		VADMinSilence:  envFloat("VAD_MIN_SILENCE", 0.5),
		VADMinSpeech:   envFloat("VAD_MIN_SPEECH", 0.25),
		VADMaxSpeech:   envFloat("VAD_MAX_SPEECH", 20.0),
		VADWindowSize:  envInt("VAD_WINDOW_SIZE", 512),
		VADContextSize: envInt("VAD_CONTEXT_SIZE", 64),

		RecognizerPoolSize:    envInt("RECOGNIZER_POOL_SIZE", 0),
		MaxConcurrentRequests: envInt64("MAX_CONCURRENT_REQUESTS", 0),

		SilenceThreshold:  envFloat("SILENCE_THRESHOLD", 0.008),
		MinAudioSec:       envFloat("MIN_AUDIO_SEC", 0.5),
		MaxAudioSec:       envFloat("MAX_AUDIO_SEC", 30.0),
		MaxUploadBytes:    envInt64("MAX_UPLOAD_BYTES", 100*1024*1024),
		MaxWSMessageBytes: envInt64("MAX_WS_MESSAGE_BYTES", 4*1024*1024),

		Kafka: KafkaConfig{
			Enabled:    envBool("KAFKA_ENABLED", false),
			Brokers:    envList("KAFKA_BROKERS"),
			TopicFinal: envOrDefault("KAFKA_TOPIC_FINAL", "asr.transcript.final"),
			Principal:  envOrDefault("SERVICE_PRINCIPAL", "svc-asr"),
		},
	}
}

// Validate checks bounds, clamping recoverable values with a warning and
// returning a ConfigError for anything unusable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return configErrorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		log.Warn().Int("sampleRate", c.SampleRate).Msg("Clamping sample_rate to [8000, 48000]")
		c.SampleRate = clampInt(c.SampleRate, 8000, 48000)
	}

	if c.VADWindowSize <= 0 {
		return configErrorf("vad_window_size must be positive, got %d", c.VADWindowSize)
	}
	if c.VADWindowSize < 64 || c.VADWindowSize > 4096 {
		log.Warn().Int("windowSize", c.VADWindowSize).Msg("Clamping vad_window_size to [64, 4096]")
		c.VADWindowSize = clampInt(c.VADWindowSize, 64, 4096)
	}

	if c.VADContextSize < 0 || c.VADContextSize >= c.VADWindowSize {
		return configErrorf("vad_context_size must be in [0, vad_window_size), got %d", c.VADContextSize)
	}

	if c.NumThreads < 1 || c.NumThreads > 128 {
		log.Warn().Int("numThreads", c.NumThreads).Msg("Clamping num_threads to [1, 128]")
		c.NumThreads = clampInt(c.NumThreads, 1, 128)
	}

	if c.Threads < 1 || c.Threads > 256 {
		log.Warn().Int("threads", c.Threads).Msg("Clamping threads to [1, 256]")
		c.Threads = clampInt(c.Threads, 1, 256)
	}

	if c.VADThreshold <= 0.0 || c.VADThreshold >= 1.0 {
		log.Warn().Float32("threshold", c.VADThreshold).Msg("Clamping vad_threshold to (0.0, 1.0)")
		c.VADThreshold = clampFloat(c.VADThreshold, 0.01, 0.99)
	}

	if c.MinAudioSec < 0 {
		log.Warn().Float32("minAudioSec", c.MinAudioSec).Msg("Clamping min_audio_sec to 0")
		c.MinAudioSec = 0
	}

	if c.MaxAudioSec <= c.MinAudioSec {
		log.Warn().
			Float32("maxAudioSec", c.MaxAudioSec).
			Float32("minAudioSec", c.MinAudioSec).
			Msg("max_audio_sec must be > min_audio_sec, fixing")
		c.MaxAudioSec = c.MinAudioSec + 30.0
	}

	if c.MaxUploadBytes <= 0 {
		return configErrorf("max_upload_bytes must be positive")
	}
	if c.MaxWSMessageBytes <= 0 {
		return configErrorf("max_ws_message_bytes must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return configErrorf("port must be in [1, 65535], got %d", c.Port)
	}

	switch c.Backend {
	case "whisper", "google", "mock":
	default:
		return configErrorf("unknown ASR backend %q (expected whisper, google or mock)", c.Backend)
	}

	// Pool size: 0 = auto (= threads)
	if c.RecognizerPoolSize == 0 {
		c.RecognizerPoolSize = c.Threads
	}
	if c.RecognizerPoolSize < 1 || c.RecognizerPoolSize > 256 {
		log.Warn().Int("poolSize", c.RecognizerPoolSize).Msg("Clamping recognizer_pool_size to [1, 256]")
		c.RecognizerPoolSize = clampInt(c.RecognizerPoolSize, 1, 256)
	}

	// Max concurrent requests: 0 = auto (= threads * 2)
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = int64(c.Threads) * 2
	}
	if c.MaxConcurrentRequests < 0 {
		return configErrorf("max_concurrent_requests must be non-negative, got %d", c.MaxConcurrentRequests)
	}

	if c.VADMinSilence <= 0 {
		log.Warn().Float32("minSilence", c.VADMinSilence).Msg("Clamping vad_min_silence to 0.01")
		c.VADMinSilence = 0.01
	}
	if c.VADMinSpeech <= 0 {
		log.Warn().Float32("minSpeech", c.VADMinSpeech).Msg("Clamping vad_min_speech to 0.01")
		c.VADMinSpeech = 0.01
	}
	if c.VADMaxSpeech <= c.VADMinSpeech {
		log.Warn().
			Float32("maxSpeech", c.VADMaxSpeech).
			Float32("minSpeech", c.VADMinSpeech).
			Msg("vad_max_speech must be > vad_min_speech, fixing")
		c.VADMaxSpeech = c.VADMinSpeech + 10.0
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return configErrorf("KAFKA_ENABLED is set but KAFKA_BROKERS is empty")
	}

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int64("default", def).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func envFloat(key string, def float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Float32("default", def).Msg("Invalid float, using default")
		return def
	}
	return float32(f)
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("Invalid boolean, using default")
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
