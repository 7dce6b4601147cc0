package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gulldan/asrcpp-gigam3/internal/audio"
	"github.com/gulldan/asrcpp-gigam3/internal/observability/metrics"
)

// Memory ceiling for multipart parsing; larger bodies spill to disk.
const multipartMemoryBytes = 32 << 20

// handleRecognize transcribes one uploaded WAV file. Concurrency is
// bounded by a non-blocking semaphore: callers beyond the limit get a
// 503 instead of queueing.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if !s.requestSem.TryAcquire(1) {
		s.metrics.ObserveError("capacity_exceeded")
		s.metrics.ObserveRequest(0, 0, 0, 0, 0, 0, 0, metrics.ModeHTTP, "failed")
		writeError(w, http.StatusServiceUnavailable, "Server at capacity, try again later")
		return
	}
	defer s.requestSem.Release(1)

	s.metrics.SessionStarted()
	start := time.Now()

	fail := func(status int, detail, errorType string) {
		s.metrics.ObserveError(errorType)
		s.metrics.ObserveRequest(time.Since(start).Seconds(), 0, 0, 0, 0, 0, 0, metrics.ModeHTTP, "failed")
		s.metrics.SessionEnded(0)
		writeError(w, status, detail)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	ioStart := time.Now()
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			fail(http.StatusRequestEntityTooLarge, "File too large", "file_too_large")
			return
		}
		fail(http.StatusBadRequest, "No file uploaded", "empty_file")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file := firstUploadedFile(r)
	if file == nil {
		fail(http.StatusBadRequest, "No file uploaded", "empty_file")
		return
	}

	f, err := file.Open()
	if err != nil {
		fail(http.StatusBadRequest, "No file uploaded", "empty_file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		fail(http.StatusBadRequest, "Failed to read upload", "empty_file")
		return
	}
	ioSec := time.Since(ioStart).Seconds()

	if len(data) == 0 {
		fail(http.StatusBadRequest, "Empty file", "empty_file")
		return
	}

	preprocessStart := time.Now()
	decoded, err := audio.DecodeWAV(data, s.cfg.SampleRate)
	if err != nil {
		if audio.IsAudioError(err) {
			fail(http.StatusBadRequest, err.Error(), "invalid_audio")
		} else {
			fail(http.StatusInternalServerError, err.Error(), "internal_error")
		}
		return
	}
	preprocessSec := time.Since(preprocessStart).Seconds()

	decodeStart := time.Now()
	text := s.pool.Transcribe(decoded.Samples, s.cfg.SampleRate)
	decodeSec := time.Since(decodeStart).Seconds()
	totalSec := time.Since(start).Seconds()

	s.metrics.ObserveTTFR(decodeSec, metrics.ModeHTTP)
	s.metrics.ObserveSegment(float64(decoded.DurationSec), decodeSec)
	s.metrics.ObserveRequest(totalSec, float64(decoded.DurationSec), decodeSec, 1,
		int64(len(data)), preprocessSec, ioSec, metrics.ModeHTTP, "success")
	s.metrics.RecordResult(text)
	s.metrics.SessionEnded(totalSec)

	log.Info().
		Float32("audioSec", decoded.DurationSec).
		Float64("decodeSec", decodeSec).
		Int("textLen", len(text)).
		Msg("One-shot recognition completed")

	writeJSON(w, http.StatusOK, map[string]any{
		"text":     text,
		"duration": decoded.DurationSec,
	})
}

// firstUploadedFile returns the first file in the multipart form
// regardless of its field name.
func firstUploadedFile(r *http.Request) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	for _, headers := range r.MultipartForm.File {
		if len(headers) > 0 {
			return headers[0]
		}
	}
	return nil
}
