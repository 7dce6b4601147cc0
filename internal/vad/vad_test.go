package vad

import (
	"errors"
	"testing"
)

// markerModel scores a window by its first sample: windows beginning
// with a value >= 0.5 are speech. Lets tests drive the state machine
// deterministically.
type markerModel struct {
	resets   int
	closed   bool
	inferErr error
}

func (m *markerModel) Infer(window []float32) (float32, error) {
	if m.inferErr != nil {
		return 0, m.inferErr
	}
	if window[0] >= 0.5 {
		return 0.9, nil
	}
	return 0.1, nil
}

func (m *markerModel) Reset() { m.resets++ }

func (m *markerModel) Close() error {
	m.closed = true
	return nil
}

func testConfig() Config {
	return Config{
		SampleRate:         16000,
		WindowSize:         512,
		Threshold:          0.5,
		MinSilenceDuration: 0.5,
		MinSpeechDuration:  0.25,
		MaxSpeechDuration:  20.0,
	}
}

func newTestDetector(t *testing.T, cfg Config, model Model) *Detector {
	t.Helper()
	d, err := NewDetector(cfg, model)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func speechWindow(size int) []float32 {
	w := make([]float32, size)
	for i := range w {
		w[i] = 0.6
	}
	return w
}

func silenceWindow(size int) []float32 {
	return make([]float32, size)
}

func feed(t *testing.T, d *Detector, window []float32, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		if err := d.Accept(window); err != nil {
			t.Fatalf("Accept: %v", err)
		}
	}
}

// windowsFor returns how many windows cover the given duration.
func windowsFor(cfg Config, seconds float32) int {
	return int(seconds*float32(cfg.SampleRate))/cfg.WindowSize + 1
}

func TestDetector_SilenceProducesNothing(t *testing.T) {
	cfg := testConfig()
	d := newTestDetector(t, cfg, &markerModel{})

	// Two seconds of zeros, 62 windows of 512 samples.
	feed(t, d, silenceWindow(cfg.WindowSize), 62)

	if !d.Empty() {
		t.Error("expected no segments for silence")
	}
	if d.IsSpeech() {
		t.Error("expected IsSpeech() == false for silence")
	}
}

func TestDetector_WindowSizeMismatch(t *testing.T) {
	d := newTestDetector(t, testConfig(), &markerModel{})

	err := d.Accept(make([]float32, 100))
	if !errors.Is(err, ErrWindowSize) {
		t.Fatalf("expected ErrWindowSize, got %v", err)
	}
}

func TestDetector_SegmentAfterSilence(t *testing.T) {
	cfg := testConfig()
	d := newTestDetector(t, cfg, &markerModel{})

	speechWindows := windowsFor(cfg, 1.0)
	silenceWindows := windowsFor(cfg, cfg.MinSilenceDuration)
	feed(t, d, speechWindow(cfg.WindowSize), speechWindows)
	if !d.IsSpeech() {
		t.Fatal("expected IsSpeech() == true during speech run")
	}
	feed(t, d, silenceWindow(cfg.WindowSize), silenceWindows)

	if d.Empty() {
		t.Fatal("expected a finalized segment")
	}
	seg := d.Front()

	// The segment carries the speech run plus the closing silence.
	duration := float32(len(seg.Samples)) / float32(cfg.SampleRate)
	minDur := cfg.MinSpeechDuration
	maxDur := cfg.MaxSpeechDuration + float32(cfg.WindowSize)/float32(cfg.SampleRate)
	if duration < minDur || duration > maxDur {
		t.Errorf("segment duration %v outside [%v, %v]", duration, minDur, maxDur)
	}

	d.Pop()
	if !d.Empty() {
		t.Error("expected queue empty after Pop")
	}
	if d.IsSpeech() {
		t.Error("expected IsSpeech() == false after finalize")
	}
}

func TestDetector_ShortSegmentDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeechDuration = 1.0
	d := newTestDetector(t, cfg, &markerModel{})

	// Half a second of speech, below the minimum.
	feed(t, d, speechWindow(cfg.WindowSize), windowsFor(cfg, 0.5))
	feed(t, d, silenceWindow(cfg.WindowSize), windowsFor(cfg, cfg.MinSilenceDuration))

	if !d.Empty() {
		t.Error("expected short segment to be discarded")
	}
}

func TestDetector_MaxSpeechForceSplit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSpeechDuration = 1.0
	d := newTestDetector(t, cfg, &markerModel{})

	// Three seconds of continuous speech must split into segments.
	feed(t, d, speechWindow(cfg.WindowSize), windowsFor(cfg, 3.0))

	count := 0
	for !d.Empty() {
		seg := d.Front()
		duration := float32(len(seg.Samples)) / float32(cfg.SampleRate)
		limit := cfg.MaxSpeechDuration + float32(cfg.WindowSize)/float32(cfg.SampleRate)
		if duration > limit {
			t.Errorf("segment %d duration %v exceeds %v", count, duration, limit)
		}
		d.Pop()
		count++
	}
	if count < 2 {
		t.Errorf("expected at least 2 force-split segments, got %d", count)
	}
}

func TestDetector_SegmentsKeepArrivalOrder(t *testing.T) {
	cfg := testConfig()
	d := newTestDetector(t, cfg, &markerModel{})

	// Two speech runs with distinct levels separated by silence.
	first := speechWindow(cfg.WindowSize)
	second := speechWindow(cfg.WindowSize)
	for i := range second {
		second[i] = 0.9
	}

	feed(t, d, first, windowsFor(cfg, 0.5))
	feed(t, d, silenceWindow(cfg.WindowSize), windowsFor(cfg, cfg.MinSilenceDuration))
	feed(t, d, second, windowsFor(cfg, 0.5))
	feed(t, d, silenceWindow(cfg.WindowSize), windowsFor(cfg, cfg.MinSilenceDuration))

	if d.Empty() {
		t.Fatal("expected two segments")
	}
	if got := d.Front().Samples[0]; got != 0.6 {
		t.Errorf("first segment starts with %v, want 0.6", got)
	}
	d.Pop()
	if d.Empty() {
		t.Fatal("expected second segment")
	}
	if got := d.Front().Samples[0]; got != 0.9 {
		t.Errorf("second segment starts with %v, want 0.9", got)
	}
}

func TestDetector_FlushFinalizesCurrentRun(t *testing.T) {
	cfg := testConfig()
	d := newTestDetector(t, cfg, &markerModel{})

	feed(t, d, speechWindow(cfg.WindowSize), windowsFor(cfg, 1.0))
	if !d.Empty() {
		t.Fatal("run should still be open")
	}

	d.Flush()
	if d.Empty() {
		t.Error("expected Flush to finalize the open run")
	}
}

func TestDetector_Reset(t *testing.T) {
	cfg := testConfig()
	model := &markerModel{}
	d := newTestDetector(t, cfg, model)

	feed(t, d, speechWindow(cfg.WindowSize), windowsFor(cfg, 1.0))
	d.Flush()
	d.Reset()

	if !d.Empty() {
		t.Error("expected empty queue after Reset")
	}
	if d.IsSpeech() {
		t.Error("expected IsSpeech() == false after Reset")
	}
	if model.resets != 1 {
		t.Errorf("expected model Reset once, got %d", model.resets)
	}
}

func TestDetector_InferenceFailureSurfaces(t *testing.T) {
	cfg := testConfig()
	model := &markerModel{inferErr: errors.New("model exploded")}
	d := newTestDetector(t, cfg, model)

	if err := d.Accept(silenceWindow(cfg.WindowSize)); err == nil {
		t.Fatal("expected inference failure to surface")
	}
}

func TestNewDetector_Validation(t *testing.T) {
	model := &markerModel{}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.WindowSize = 0 }},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"threshold too low", func(c *Config) { c.Threshold = 0 }},
		{"threshold too high", func(c *Config) { c.Threshold = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := NewDetector(cfg, model); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if _, err := NewDetector(testConfig(), nil); err == nil {
		t.Error("expected error for nil model")
	}
}
