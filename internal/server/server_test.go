package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gulldan/asrcpp-gigam3/internal/config"
	"github.com/gulldan/asrcpp-gigam3/internal/events"
	"github.com/gulldan/asrcpp-gigam3/internal/recognizer"
	"github.com/gulldan/asrcpp-gigam3/internal/vad"
)

// markerModel treats windows whose first sample is >= 0.5 as speech.
type markerModel struct{}

func (m *markerModel) Infer(window []float32) (float32, error) {
	if window[0] >= 0.5 {
		return 0.9, nil
	}
	return 0.1, nil
}

func (m *markerModel) Reset()       {}
func (m *markerModel) Close() error { return nil }

// stubBackend returns a fixed transcript; an optional gate blocks
// transcription until released.
type stubBackend struct {
	text        string
	gate        chan struct{} // when set, Transcribe blocks until closed
	started     chan struct{} // when set, closed once Transcribe is entered
	startedOnce sync.Once
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) NewSlot(int) (recognizer.Slot, error) {
	return &stubSlot{b: b}, nil
}

func (b *stubBackend) Close() error { return nil }

type stubSlot struct {
	b *stubBackend
}

func (s *stubSlot) Transcribe(samples []float32, sampleRate int) (string, error) {
	if s.b.started != nil {
		s.b.startedOnce.Do(func() { close(s.b.started) })
	}
	if s.b.gate != nil {
		<-s.b.gate
	}
	return s.b.text, nil
}

func (s *stubSlot) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Host:                  "127.0.0.1",
		Port:                  8081,
		Threads:               2,
		Backend:               "mock",
		Language:              "en",
		NumThreads:            1,
		SampleRate:            16000,
		VADThreshold:          0.5,
		VADMinSilence:         0.5,
		VADMinSpeech:          0.25,
		VADMaxSpeech:          20.0,
		VADWindowSize:         512,
		VADContextSize:        64,
		RecognizerPoolSize:    2,
		MaxConcurrentRequests: 4,
		MinAudioSec:           0.5,
		MaxAudioSec:           30.0,
		MaxUploadBytes:        100 << 20,
		MaxWSMessageBytes:     4 << 20,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, backend *stubBackend) *Server {
	t.Helper()
	pool, err := recognizer.NewPool(backend, cfg.RecognizerPoolSize, cfg.NumThreads)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	factory := func() (*vad.Detector, error) {
		return vad.NewDetector(vad.Config{
			SampleRate:         cfg.SampleRate,
			WindowSize:         cfg.VADWindowSize,
			Threshold:          cfg.VADThreshold,
			MinSilenceDuration: cfg.VADMinSilence,
			MinSpeechDuration:  cfg.VADMinSpeech,
			MaxSpeechDuration:  cfg.VADMaxSpeech,
		}, &markerModel{})
	}

	return New(cfg, pool, events.New(nil), factory, backend.Name())
}

// buildWAV constructs a minimal RIFF/WAVE container around int16 PCM.
func buildWAV(channels, sampleRate int, payload []byte) []byte {
	var buf bytes.Buffer
	blockAlign := channels * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(payload)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func sineWAV(channels, sampleRate, frames int) []byte {
	payload := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(0.5 * 32767 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(payload[(i*channels+ch)*2:], uint16(v))
		}
	}
	return buildWAV(channels, sampleRate, payload)
}

func uploadRequest(t *testing.T, wavData []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(wavData); err != nil {
		t.Fatal(err)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/recognize", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRecognize_Success(t *testing.T) {
	srv := newTestServer(t, testConfig(), &stubBackend{text: "hello world"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, sineWAV(1, 16000, 16000)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("text = %q", resp.Text)
	}
	if math.Abs(resp.Duration-1.0) > 0.01 {
		t.Errorf("duration = %v, want ~1.0", resp.Duration)
	}
}

func TestRecognize_RejectsStereo(t *testing.T) {
	srv := newTestServer(t, testConfig(), &stubBackend{text: "x"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, sineWAV(2, 16000, 1600)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error JSON: %v", err)
	}
	if resp.Detail == "" {
		t.Error("expected a detail message")
	}
}

func TestRecognize_NoFile(t *testing.T) {
	srv := newTestServer(t, testConfig(), &stubBackend{text: "x"})

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/recognize", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRecognize_UploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 1024
	srv := newTestServer(t, cfg, &stubBackend{text: "x"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, sineWAV(1, 16000, 16000)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestRecognize_CapacityExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	backend := &stubBackend{text: "x", gate: make(chan struct{}), started: make(chan struct{})}
	srv := newTestServer(t, cfg, backend)

	firstDone := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, uploadRequest(t, sineWAV(1, 16000, 16000)))
		firstDone <- rec.Code
	}()

	// Wait until the first request holds the semaphore inside the
	// gated transcription, then the second must be rejected.
	<-backend.started
	reject := httptest.NewRecorder()
	srv.Handler().ServeHTTP(reject, uploadRequest(t, sineWAV(1, 16000, 1600)))
	if reject.Code != http.StatusServiceUnavailable {
		t.Errorf("expected a 503 while at capacity, got %d", reject.Code)
	}

	close(backend.gate)
	if code := <-firstDone; code != http.StatusOK {
		t.Errorf("first request status = %d", code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testConfig(), &stubBackend{text: "x"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status   string `json:"status"`
		Provider string `json:"provider"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Provider != "stub" {
		t.Errorf("unexpected health payload: %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(), &stubBackend{text: "x"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("gigaam_")) {
		t.Error("expected service metric families in /metrics output")
	}
}
