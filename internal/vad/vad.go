// Package vad segments a continuous sample stream into bounded speech
// runs using a learned frame classifier and a duration-hysteresis state
// machine.
package vad

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrWindowSize is returned when Accept receives a slice whose length
// does not match the configured window size.
var ErrWindowSize = errors.New("vad: window length mismatch")

// Model scores one window of samples, returning the probability that it
// contains speech. Implementations own the trailing-context ring and the
// recurrent state carried between calls; Reset zeroes both.
type Model interface {
	Infer(window []float32) (float32, error)
	Reset()
	Close() error
}

// Config bounds the hysteresis state machine.
type Config struct {
	SampleRate         int
	WindowSize         int
	Threshold          float32
	MinSilenceDuration float32 // seconds of silence that close a run
	MinSpeechDuration  float32 // runs shorter than this are discarded
	MaxSpeechDuration  float32 // runs reaching this are force-closed
}

// Segment is a finalized run of speech samples, handed to the
// recognizer exactly once.
type Segment struct {
	Samples []float32
}

// Detector drives the segmentation state machine. Not safe for
// concurrent use; each session owns one.
type Detector struct {
	cfg   Config
	model Model

	minSilenceSamples int64
	maxSpeechSamples  int64
	speechCap         int

	inSpeech       bool
	silenceSamples int64
	segmentSamples int64
	speechBuf      []float32
	segments       []Segment
}

// NewDetector validates the configuration and wires the model.
func NewDetector(cfg Config, model Model) (*Detector, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("vad: window_size must be positive, got %d", cfg.WindowSize)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: sample_rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold must be in (0, 1), got %v", cfg.Threshold)
	}
	if model == nil {
		return nil, errors.New("vad: model is required")
	}

	d := &Detector{
		cfg:               cfg,
		model:             model,
		minSilenceSamples: int64(cfg.MinSilenceDuration * float32(cfg.SampleRate)),
		maxSpeechSamples:  int64(cfg.MaxSpeechDuration * float32(cfg.SampleRate)),
		speechCap:         int(cfg.MaxSpeechDuration * float32(cfg.SampleRate)),
	}
	d.speechBuf = make([]float32, 0, d.speechCap)

	log.Info().
		Float32("threshold", cfg.Threshold).
		Int("window", cfg.WindowSize).
		Int("sampleRate", cfg.SampleRate).
		Msg("VAD initialized")
	return d, nil
}

// Accept consumes exactly WindowSize samples, advancing the state
// machine and possibly finalizing a segment.
func (d *Detector) Accept(window []float32) error {
	if len(window) != d.cfg.WindowSize {
		return fmt.Errorf("%w: expected %d samples, got %d", ErrWindowSize, d.cfg.WindowSize, len(window))
	}

	prob, err := d.model.Infer(window)
	if err != nil {
		return fmt.Errorf("vad: inference failed: %w", err)
	}

	windowSamples := int64(d.cfg.WindowSize)

	if prob >= d.cfg.Threshold {
		if !d.inSpeech {
			d.inSpeech = true
			d.segmentSamples = 0
			d.speechBuf = d.speechBuf[:0]
		}
		d.silenceSamples = 0
		d.speechBuf = append(d.speechBuf, window...)
		d.segmentSamples += windowSamples

		if d.segmentSamples >= d.maxSpeechSamples {
			log.Debug().Int64("samples", d.segmentSamples).Msg("VAD: force-split at max speech duration")
			d.finalizeSegment()
		}
		return nil
	}

	// Silence outside a run is ignored; inside a run it extends the
	// segment until the hysteresis threshold closes it.
	if d.inSpeech {
		d.silenceSamples += windowSamples
		d.speechBuf = append(d.speechBuf, window...)
		d.segmentSamples += windowSamples

		if d.silenceSamples >= d.minSilenceSamples {
			d.finalizeSegment()
		}
	}
	return nil
}

func (d *Detector) finalizeSegment() {
	if len(d.speechBuf) == 0 {
		d.inSpeech = false
		d.silenceSamples = 0
		d.segmentSamples = 0
		return
	}

	duration := float32(len(d.speechBuf)) / float32(d.cfg.SampleRate)
	if duration < d.cfg.MinSpeechDuration {
		log.Debug().
			Float32("duration", duration).
			Float32("minSpeech", d.cfg.MinSpeechDuration).
			Msg("VAD: discarding short segment")
		d.inSpeech = false
		d.silenceSamples = 0
		d.segmentSamples = 0
		d.speechBuf = d.speechBuf[:0]
		return
	}

	d.segments = append(d.segments, Segment{Samples: d.speechBuf})

	d.inSpeech = false
	d.silenceSamples = 0
	d.segmentSamples = 0
	// The finalized segment owns the old buffer; re-reserve so
	// steady-state appends stay allocation-free.
	d.speechBuf = make([]float32, 0, d.speechCap)
}

// Empty reports whether no finalized segments are queued.
func (d *Detector) Empty() bool { return len(d.segments) == 0 }

// Front returns the oldest finalized segment. Callers must check Empty
// first.
func (d *Detector) Front() Segment { return d.segments[0] }

// Pop removes the oldest finalized segment.
func (d *Detector) Pop() {
	d.segments[0] = Segment{}
	d.segments = d.segments[1:]
	if len(d.segments) == 0 {
		d.segments = nil
	}
}

// IsSpeech reports whether the state machine is inside a speech run.
func (d *Detector) IsSpeech() bool { return d.inSpeech }

// Flush force-finalizes the current run, if any, without resetting the
// model state.
func (d *Detector) Flush() {
	if d.inSpeech && len(d.speechBuf) > 0 {
		d.finalizeSegment()
	}
}

// Close releases the model.
func (d *Detector) Close() error {
	return d.model.Close()
}

// Reset wipes the state machine, the segment queue and the model's
// recurrent state.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.silenceSamples = 0
	d.segmentSamples = 0
	d.speechBuf = d.speechBuf[:0]
	d.segments = nil
	d.model.Reset()
}
