// Package silero runs the silero voice-activity model over ONNX Runtime
// as a vad.Model.
package silero

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// Recurrent state shape is fixed by the model: (2, 1, 128).
const stateSize = 2 * 1 * 128

// Tensor names are part of the exported model's signature and must stay
// stable for the session lifetime.
var (
	inputNames  = []string{"input", "state", "sr"}
	outputNames = []string{"output", "stateN"}
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime brings up the shared ONNX Runtime environment once per
// process.
func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// Config locates the model and sizes its buffers.
type Config struct {
	ModelPath   string
	LibraryPath string // ONNX Runtime shared library; empty uses the platform default
	SampleRate  int
	WindowSize  int
	ContextSize int // trailing samples carried between inference calls
}

// Model is a silero VAD session with all tensors pre-allocated at
// construction; Infer performs no per-call allocation.
type Model struct {
	cfg Config

	session  *ort.AdvancedSession
	input    *ort.Tensor[float32] // [1, context+window]
	state    *ort.Tensor[float32] // [2, 1, 128]
	sr       *ort.Tensor[int64]   // [1]
	probOut  *ort.Tensor[float32] // [1, 1]
	stateOut *ort.Tensor[float32] // [2, 1, 128]

	context []float32 // last ContextSize samples of the previous window
}

// New loads the model and pre-allocates every tensor the session needs.
func New(cfg Config) (*Model, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("silero: window_size must be positive, got %d", cfg.WindowSize)
	}
	if cfg.ContextSize < 0 || cfg.ContextSize >= cfg.WindowSize {
		return nil, fmt.Errorf("silero: context_size must be in [0, window_size), got %d", cfg.ContextSize)
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("silero: onnxruntime init: %w", err)
	}

	m := &Model{
		cfg:     cfg,
		context: make([]float32, cfg.ContextSize),
	}

	inputLen := cfg.ContextSize + cfg.WindowSize
	var err error
	m.input, err = ort.NewTensor(ort.NewShape(1, int64(inputLen)), make([]float32, inputLen))
	if err != nil {
		return nil, fmt.Errorf("silero: input tensor: %w", err)
	}
	m.state, err = ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, stateSize))
	if err != nil {
		m.destroyTensors()
		return nil, fmt.Errorf("silero: state tensor: %w", err)
	}
	m.sr, err = ort.NewTensor(ort.NewShape(1), []int64{int64(cfg.SampleRate)})
	if err != nil {
		m.destroyTensors()
		return nil, fmt.Errorf("silero: sr tensor: %w", err)
	}
	m.probOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		m.destroyTensors()
		return nil, fmt.Errorf("silero: output tensor: %w", err)
	}
	m.stateOut, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		m.destroyTensors()
		return nil, fmt.Errorf("silero: state output tensor: %w", err)
	}

	m.session, err = ort.NewAdvancedSession(cfg.ModelPath,
		inputNames, outputNames,
		[]ort.Value{m.input, m.state, m.sr},
		[]ort.Value{m.probOut, m.stateOut},
		nil)
	if err != nil {
		m.destroyTensors()
		return nil, fmt.Errorf("silero: load %s: %w", cfg.ModelPath, err)
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Int("window", cfg.WindowSize).
		Int("context", cfg.ContextSize).
		Msg("Silero VAD model loaded")
	return m, nil
}

// Infer scores one window, updating the recurrent state and the context
// ring in place.
func (m *Model) Infer(window []float32) (float32, error) {
	if len(window) != m.cfg.WindowSize {
		return 0, fmt.Errorf("silero: expected %d samples, got %d", m.cfg.WindowSize, len(window))
	}

	in := m.input.GetData()
	copy(in, m.context)
	copy(in[m.cfg.ContextSize:], window)

	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}

	prob := m.probOut.GetData()[0]
	copy(m.state.GetData(), m.stateOut.GetData())
	copy(m.context, window[m.cfg.WindowSize-m.cfg.ContextSize:])

	return prob, nil
}

// Reset zeroes the recurrent state and the context ring.
func (m *Model) Reset() {
	clear(m.state.GetData())
	clear(m.context)
}

// Close releases the session and its tensors.
func (m *Model) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	m.destroyTensors()
	return nil
}

func (m *Model) destroyTensors() {
	if m.input != nil {
		_ = m.input.Destroy()
		m.input = nil
	}
	if m.state != nil {
		_ = m.state.Destroy()
		m.state = nil
	}
	if m.sr != nil {
		_ = m.sr.Destroy()
		m.sr = nil
	}
	if m.probOut != nil {
		_ = m.probOut.Destroy()
		m.probOut = nil
	}
	if m.stateOut != nil {
		_ = m.stateOut.Destroy()
		m.stateOut = nil
	}
}
