// Package session owns the per-connection recognition pipeline: it
// accumulates incoming audio into VAD windows, drains finalized speech
// segments through the recognizer pool and emits interim, final and
// done messages while tracking request metrics.
package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gulldan/asrcpp-gigam3/internal/audio"
	"github.com/gulldan/asrcpp-gigam3/internal/observability/metrics"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer"
	"github.com/gulldan/asrcpp-gigam3/internal/vad"
)

// Config carries the session-relevant subset of the service
// configuration. Immutable per session.
type Config struct {
	SampleRate    int
	VADWindowSize int
	MinAudioSec   float32
	MaxAudioSec   float32
}

// Session drives chunked audio through resample-free accumulation, VAD
// segmentation and pooled transcription. Confined to one logical owner
// at a time; it may migrate between goroutines only between calls.
type Session struct {
	pool    *recognizer.Pool
	vad     *vad.Detector
	cfg     Config
	metrics *metrics.Metrics
	mode    string

	// pending is always strictly shorter than one VAD window.
	pending []float32

	// Reusable outgoing message buffer; logical length resets per call.
	messages []Message
	outSize  int

	start                time.Time
	firstResult          time.Time
	hasFirstResult       bool
	segments             int
	silenceSegments      int
	decodeSec            float64
	preprocessSec        float64
	audioSamples         int64
	totalSamplesReceived int64
	chunks               int64
	bytes                int64
	sessionActive        bool
	maxDurationExceeded  bool
}

// New constructs a session around an externally-owned pool and
// detector.
func New(pool *recognizer.Pool, detector *vad.Detector, cfg Config, mode string) *Session {
	s := &Session{
		pool:     pool,
		vad:      detector,
		cfg:      cfg,
		metrics:  metrics.Default(),
		mode:     mode,
		pending:  make([]float32, 0, cfg.VADWindowSize),
		messages: make([]Message, 0, 4),
	}
	s.resetCounters()
	return s
}

// --- Zero-alloc message buffer ---

func (s *Session) beginMessages() { s.outSize = 0 }

func (s *Session) nextMessage() *Message {
	if s.outSize >= len(s.messages) {
		s.messages = append(s.messages, Message{payload: make([]byte, 0, 128)})
	}
	m := &s.messages[s.outSize]
	s.outSize++
	return m
}

func (s *Session) currentMessages() []Message {
	return s.messages[:s.outSize]
}

// --- Lifecycle ---

func (s *Session) resetCounters() {
	s.start = time.Now()
	s.firstResult = time.Time{}
	s.hasFirstResult = false
	s.segments = 0
	s.silenceSegments = 0
	s.decodeSec = 0
	s.preprocessSec = 0
	s.audioSamples = 0
	s.totalSamplesReceived = 0
	s.chunks = 0
	s.bytes = 0
	s.maxDurationExceeded = false
}

func (s *Session) processVADSegments() {
	for !s.vad.Empty() {
		segment := s.vad.Front()
		audioSec := float32(len(segment.Samples)) / float32(s.cfg.SampleRate)

		if audioSec < s.cfg.MinAudioSec {
			log.Debug().Float32("duration", audioSec).Msg("Skipping short segment")
			s.silenceSegments++
			s.metrics.RecordSilence()
			s.vad.Pop()
			continue
		}

		t0 := time.Now()
		text := s.pool.Transcribe(segment.Samples, s.cfg.SampleRate)
		segDecodeSec := time.Since(t0).Seconds()
		s.decodeSec += segDecodeSec
		s.audioSamples += int64(len(segment.Samples))

		if !s.hasFirstResult {
			s.firstResult = time.Now()
			s.hasFirstResult = true
			s.metrics.ObserveTTFR(s.firstResult.Sub(s.start).Seconds(), s.mode)
		}

		s.metrics.ObserveSegment(float64(audioSec), segDecodeSec)

		if text == "" {
			s.silenceSegments++
			s.metrics.RecordSilence()
		} else {
			s.segments++
			s.metrics.RecordResult(text)
			s.nextMessage().writeFinal(text, audioSec)
		}

		s.vad.Pop()
	}
}

// flushPending zero-pads the partial window, feeds it and forces the
// VAD to finalize the current run.
func (s *Session) flushPending() error {
	if len(s.pending) > 0 {
		for len(s.pending) < s.cfg.VADWindowSize {
			s.pending = append(s.pending, 0)
		}
		if err := s.vad.Accept(s.pending); err != nil {
			return err
		}
		s.pending = s.pending[:0]
	}
	s.vad.Flush()
	return nil
}

func (s *Session) finalizeSession() {
	totalSec := time.Since(s.start).Seconds()
	audioSec := float64(s.audioSamples) / float64(s.cfg.SampleRate)

	s.metrics.ObserveRequest(totalSec, audioSec, s.decodeSec, s.chunks, s.bytes,
		s.preprocessSec, 0, s.mode, "success")

	if total := s.segments + s.silenceSegments; total > 0 {
		s.metrics.SetSpeechRatio(float64(s.segments) / float64(total))
	}

	s.nextMessage().writeDone()

	if s.sessionActive {
		s.metrics.SessionEnded(totalSec)
		s.sessionActive = false
	}

	s.vad.Reset()
	s.pending = s.pending[:0]
	s.resetCounters()
}

// --- Public API ---

// OnAudio appends a chunk to the session, drains complete windows into
// the VAD and returns final messages for any segments produced, or a
// single interim status message. After the max-audio guard fires,
// subsequent calls return no messages until the next reset.
func (s *Session) OnAudio(samples []float32) ([]Message, error) {
	s.beginMessages()

	if s.maxDurationExceeded {
		return s.currentMessages(), nil
	}

	preprocessStart := time.Now()

	// Lazy session start: idle connections don't count as sessions.
	if !s.sessionActive {
		s.sessionActive = true
		s.metrics.SessionStarted()
	}

	s.chunks++
	s.totalSamplesReceived += int64(len(samples))
	s.bytes += int64(len(samples)) * 4

	rms := audio.RMS(samples)
	s.metrics.RecordAudioLevel(float64(rms))

	// Accumulate and feed the VAD in exact window-sized slices.
	offset := 0
	for offset < len(samples) {
		toCopy := s.cfg.VADWindowSize - len(s.pending)
		if remaining := len(samples) - offset; remaining < toCopy {
			toCopy = remaining
		}
		s.pending = append(s.pending, samples[offset:offset+toCopy]...)
		offset += toCopy

		if len(s.pending) == s.cfg.VADWindowSize {
			if err := s.vad.Accept(s.pending); err != nil {
				return nil, err
			}
			s.pending = s.pending[:0]
		}
	}

	s.preprocessSec += time.Since(preprocessStart).Seconds()

	s.processVADSegments()

	if s.outSize == 0 {
		duration := float32(s.totalSamplesReceived) / float32(s.cfg.SampleRate)
		s.nextMessage().writeInterim(duration, rms, s.vad.IsSpeech())
	}

	// Auto-finalize once the per-session audio bound is hit.
	receivedSec := float32(s.totalSamplesReceived) / float32(s.cfg.SampleRate)
	if receivedSec > s.cfg.MaxAudioSec {
		log.Warn().
			Float32("receivedSec", receivedSec).
			Float32("maxAudioSec", s.cfg.MaxAudioSec).
			Msg("Max audio duration exceeded, forcing recognize")
		if err := s.flushPending(); err != nil {
			return nil, err
		}
		s.processVADSegments()
		s.finalizeSession()
		s.maxDurationExceeded = true
	}

	return s.currentMessages(), nil
}

// OnRecognize finalizes the current utterance: pads and feeds the
// pending remainder, flushes the VAD, transcribes every queued segment
// and appends a done message. If the max-audio guard already finalized
// the session, the guard flag is consumed and no messages are returned.
func (s *Session) OnRecognize() ([]Message, error) {
	s.beginMessages()

	if s.maxDurationExceeded {
		s.maxDurationExceeded = false
		return s.currentMessages(), nil
	}

	if err := s.flushPending(); err != nil {
		return nil, err
	}
	s.processVADSegments()
	s.finalizeSession()
	return s.currentMessages(), nil
}

// OnReset discards pending audio and all session state without
// emitting messages.
func (s *Session) OnReset() {
	if s.sessionActive {
		s.metrics.SessionEnded(0)
		s.sessionActive = false
	}
	s.vad.Reset()
	s.pending = s.pending[:0]
	s.resetCounters()
}

// OnClose settles session metrics when the transport disconnects.
func (s *Session) OnClose() {
	if s.sessionActive {
		s.metrics.SessionEnded(time.Since(s.start).Seconds())
		s.sessionActive = false
	}
}
