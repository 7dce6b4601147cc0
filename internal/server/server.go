// Package server exposes the recognition pipeline over HTTP: a
// streaming WebSocket channel, a one-shot upload endpoint and the
// health and metrics surfaces.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/gulldan/asrcpp-gigam3/internal/config"
	"github.com/gulldan/asrcpp-gigam3/internal/events"
	"github.com/gulldan/asrcpp-gigam3/internal/observability/metrics"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer"
	"github.com/gulldan/asrcpp-gigam3/internal/vad"
)

// DetectorFactory creates a fresh VAD detector for each streaming
// connection; detectors carry per-session recurrent state and cannot be
// shared.
type DetectorFactory func() (*vad.Detector, error)

// Server wires the transports to the pipeline.
type Server struct {
	cfg         *config.Config
	pool        *recognizer.Pool
	publisher   *events.Publisher
	newDetector DetectorFactory
	backendName string
	metrics     *metrics.Metrics

	requestSem *semaphore.Weighted
	connIDs    *Generator
	httpSrv    *http.Server
}

// New builds the server and its router.
func New(cfg *config.Config, pool *recognizer.Pool, publisher *events.Publisher, newDetector DetectorFactory, backendName string) *Server {
	s := &Server{
		cfg:         cfg,
		pool:        pool,
		publisher:   publisher,
		newDetector: newDetector,
		backendName: backendName,
		metrics:     metrics.Default(),
		requestSem:  semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		connIDs:     NewGenerator(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/recognize", s.handleRecognize)
	r.Get("/ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     r,
		ReadTimeout: 0, // streaming uploads and sockets manage their own deadlines
		IdleTimeout: 5 * time.Minute,
	}
	return s
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe blocks serving traffic until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Info().
		Str("addr", s.httpSrv.Addr).
		Int("threads", s.cfg.Threads).
		Msg("Starting server")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server, then force-closes anything still
// open (long-lived WebSocket connections included).
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	_ = s.httpSrv.Close()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, "static/index.html")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": s.backendName,
		"threads":  s.cfg.NumThreads,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
