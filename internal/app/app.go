// Package app assembles the service: recognizer backend and pool, VAD
// factory, event publisher and the HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gulldan/asrcpp-gigam3/internal/config"
	"github.com/gulldan/asrcpp-gigam3/internal/events"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer/google"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer/mock"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer/whisper"
	"github.com/gulldan/asrcpp-gigam3/internal/server"
	"github.com/gulldan/asrcpp-gigam3/internal/vad"
	"github.com/gulldan/asrcpp-gigam3/internal/vad/silero"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Pool      *recognizer.Pool
	Publisher *events.Publisher
	Server    *server.Server
}

// New constructs the full pipeline from validated configuration.
func New(cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:         cfg,
		StartupTime: time.Now().UTC(),
		Logger:      log.With().Str("component", "application").Logger(),
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	a.Logger.Info().
		Str("backend", backend.Name()).
		Str("model", cfg.ModelPath).
		Msg("Loading recognizer")

	pool, err := recognizer.NewPool(backend, cfg.RecognizerPoolSize, cfg.NumThreads)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	a.Pool = pool

	a.Publisher = events.New(&cfg.Kafka)

	detectorFactory := func() (*vad.Detector, error) {
		model, err := silero.New(silero.Config{
			ModelPath:   cfg.VADModel,
			LibraryPath: cfg.VADLibrary,
			SampleRate:  cfg.SampleRate,
			WindowSize:  cfg.VADWindowSize,
			ContextSize: cfg.VADContextSize,
		})
		if err != nil {
			return nil, err
		}
		d, err := vad.NewDetector(vad.Config{
			SampleRate:         cfg.SampleRate,
			WindowSize:         cfg.VADWindowSize,
			Threshold:          cfg.VADThreshold,
			MinSilenceDuration: cfg.VADMinSilence,
			MinSpeechDuration:  cfg.VADMinSpeech,
			MaxSpeechDuration:  cfg.VADMaxSpeech,
		}, model)
		if err != nil {
			_ = model.Close()
			return nil, err
		}
		return d, nil
	}

	a.Server = server.New(cfg, pool, a.Publisher, detectorFactory, backend.Name())

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Int("poolSize", pool.Size()).
		Msg("Application created")
	return a, nil
}

func newBackend(cfg *config.Config) (recognizer.Backend, error) {
	switch cfg.Backend {
	case "whisper":
		return whisper.New(cfg.ModelPath, cfg.Language)
	case "google":
		return google.New(context.Background(), cfg.Language)
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown ASR backend %q", cfg.Backend)
	}
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Shutting down")
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := a.Pool.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Recognizer pool close failed")
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Publisher close failed")
	}
}
