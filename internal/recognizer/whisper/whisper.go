// Package whisper provides a recognizer backend over the whisper.cpp
// CGO bindings. The model is loaded once and shared; each pool slot
// owns its own inference context, so slots decode in parallel while a
// single context stays strictly serialized.
//
// The whisper.cpp static library (libwhisper.a) and headers must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/gulldan/asrcpp-gigam3/internal/recognizer"
)

var _ recognizer.Backend = (*Backend)(nil)

// Backend loads a ggml whisper model and hands out per-slot contexts.
type Backend struct {
	model    whisperlib.Model
	language string
}

// New loads the model from modelPath.
func New(modelPath, language string) (*Backend, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	if language == "" {
		language = "en"
	}
	return &Backend{model: model, language: language}, nil
}

// Name identifies this backend in logs and health output.
func (b *Backend) Name() string { return "whisper" }

// NewSlot creates an inference context budgeted to the given thread
// count. Contexts are not thread-safe; the pool serializes access.
func (b *Backend) NewSlot(threads int) (recognizer.Slot, error) {
	ctx, err := b.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if threads > 0 {
		ctx.SetThreads(uint(threads))
	}
	if err := ctx.SetLanguage(b.language); err != nil {
		return nil, fmt.Errorf("whisper: set language %q: %w", b.language, err)
	}
	return &slot{ctx: ctx}, nil
}

// Close releases the shared model. Call only after all slots are
// closed.
func (b *Backend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}

type slot struct {
	ctx whisperlib.Context
}

// Transcribe runs full inference over the samples and concatenates the
// decoded segments.
func (s *slot) Transcribe(samples []float32, sampleRate int) (string, error) {
	if sampleRate != whisperlib.SampleRate {
		return "", fmt.Errorf("whisper: expected %d Hz input, got %d", whisperlib.SampleRate, sampleRate)
	}

	if err := s.ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := s.ctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close is a no-op; contexts are released with the model.
func (s *slot) Close() error { return nil }
