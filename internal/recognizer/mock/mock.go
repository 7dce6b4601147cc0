// Package mock provides a deterministic recognizer backend for tests
// and for running the service without model files or cloud credentials.
package mock

import (
	"github.com/gulldan/asrcpp-gigam3/internal/audio"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer"
)

// Near-silent clips transcribe to nothing, mimicking a real decoder on
// background noise.
const silenceRMS = 0.001

// Phrases are returned in a deterministic rotation keyed by clip length
// so tests can predict output.
var Phrases = []string{
	"I want to cancel my subscription",
	"Yes please go ahead",
	"Can you help me with my account",
	"I've been waiting for over an hour",
	"Thank you very much",
}

var _ recognizer.Backend = (*Backend)(nil)

// Backend hands out stateless mock slots.
type Backend struct{}

// New creates a mock backend.
func New() *Backend { return &Backend{} }

// Name identifies this backend in logs and health output.
func (b *Backend) Name() string { return "mock" }

// NewSlot returns a stateless mock slot.
func (b *Backend) NewSlot(_ int) (recognizer.Slot, error) {
	return &slot{}, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

type slot struct{}

// Transcribe returns empty text for near-silent clips and a canned
// phrase chosen by clip length otherwise.
func (s *slot) Transcribe(samples []float32, _ int) (string, error) {
	if audio.RMS(samples) < silenceRMS {
		return "", nil
	}
	return Phrases[len(samples)%len(Phrases)], nil
}

func (s *slot) Close() error { return nil }
