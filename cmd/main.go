package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gulldan/asrcpp-gigam3/internal/app"
	"github.com/gulldan/asrcpp-gigam3/internal/config"
	"github.com/gulldan/asrcpp-gigam3/internal/observability/logging"
)

func main() {
	logging.Setup("asr-server")

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Configuration error")
		os.Exit(2)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Fatal error during startup")
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- application.Server.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Signal received, shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("Fatal error while serving")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	application.Shutdown(ctx)

	log.Info().Msg("Server stopped")
}
