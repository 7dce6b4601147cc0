// Package metrics provides the Prometheus facade for the recognition
// pipeline. Every collector and every label combination used on a hot
// path is created at initialization, so observation calls never
// allocate.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gigaam"

// Transport modes used as metric labels.
const (
	ModeWebsocket = "websocket"
	ModeHTTP      = "http"
)

// Histogram bucket boundaries per metric family.
var (
	ttfrBuckets       = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	rtfBuckets        = []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 5}
	requestBuckets    = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}
	decodeBuckets     = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	audioBuckets      = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}
	segmentBuckets    = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30}
	preprocessBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
	ioBuckets         = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
	connectionBuckets = []float64{1, 5, 15, 60, 300, 900, 3600}
	sessionBuckets    = []float64{0.5, 1, 5, 15, 60, 300, 900}
	wordBuckets       = []float64{1, 2, 5, 10, 20, 50, 100, 200}
	rmsBuckets        = []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5}
)

// RMS below this level counts as a low-volume warning.
const lowVolumeRMS = 0.005

// Metrics holds every collector for the service.
type Metrics struct {
	// Pipeline histograms
	ttfr            *prometheus.HistogramVec
	rtf             *prometheus.HistogramVec
	rtfDecode       *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
	decodeDuration  prometheus.Histogram
	audioDuration   prometheus.Histogram
	segmentDuration prometheus.Histogram
	preprocessDur   prometheus.Histogram
	ioDuration      prometheus.Histogram
	segmentRTF      prometheus.Histogram

	// Pipeline counters
	requestsTotal     *prometheus.CounterVec
	segmentsTotal     prometheus.Counter
	audioSecondsTotal prometheus.Counter
	errorsTotal       *prometheus.CounterVec
	chunksTotal       prometheus.Counter
	bytesTotal        prometheus.Counter

	// Pipeline gauges
	currentRTF        prometheus.Gauge
	currentTTFR       prometheus.Gauge
	currentDecode     prometheus.Gauge
	currentRequest    prometheus.Gauge
	currentAudio      prometheus.Gauge
	currentPreprocess prometheus.Gauge
	currentIO         prometheus.Gauge

	// Connection and session lifecycle
	activeConnections   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	disconnectionsTotal *prometheus.CounterVec
	connectionDuration  prometheus.Histogram
	sessionsTotal       prometheus.Counter
	activeSessions      prometheus.Gauge
	sessionDuration     prometheus.Histogram

	// Recognition results
	wordsPerRequest    prometheus.Histogram
	audioRMS           prometheus.Histogram
	emptyResultsTotal  prometheus.Counter
	wordsTotal         prometheus.Counter
	charactersTotal    prometheus.Counter
	silenceSegments    prometheus.Counter
	lowVolumeWarnings  prometheus.Counter
	speechRatio        prometheus.Gauge

	// Kafka publishing
	kafkaPublishTotal   *prometheus.CounterVec
	kafkaPublishErrors  *prometheus.CounterVec
	kafkaPublishLatency prometheus.Histogram

	// Pre-cached label combinations for the hot request path.
	requestsWSSuccess    prometheus.Counter
	requestsHTTPSuccess  prometheus.Counter
	requestsWSFailed     prometheus.Counter
	requestsHTTPFailed   prometheus.Counter
	requestDurWSSuccess  prometheus.Observer
	requestDurHTTPSucc   prometheus.Observer
	requestDurWSFailed   prometheus.Observer
	requestDurHTTPFailed prometheus.Observer
	ttfrWS               prometheus.Observer
	ttfrHTTP             prometheus.Observer
	rtfWS                prometheus.Observer
	rtfHTTP              prometheus.Observer
	rtfDecodeWS          prometheus.Observer
	rtfDecodeHTTP        prometheus.Observer
	disconnectionsNormal prometheus.Counter
}

var (
	initOnce sync.Once
	def      *Metrics
)

// Default returns the process-wide metrics instance, creating and
// registering it on first use.
func Default() *Metrics {
	initOnce.Do(func() {
		def = newMetrics(prometheus.DefaultRegisterer)
	})
	return def
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		ttfr: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ttfr_seconds",
			Help:      "Time to first result",
			Buckets:   ttfrBuckets,
		}, []string{"mode"}),
		rtf: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtf",
			Help:      "Real-time factor",
			Buckets:   rtfBuckets,
		}, []string{"mode"}),
		rtfDecode: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtf_decode",
			Help:      "Real-time factor for decode only",
			Buckets:   rtfBuckets,
		}, []string{"mode"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Total request duration",
			Buckets:   requestBuckets,
		}, []string{"mode", "status"}),
		decodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Decode duration per segment",
			Buckets:   decodeBuckets,
		}),
		audioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_duration_seconds",
			Help:      "Audio duration per request",
			Buckets:   audioBuckets,
		}),
		segmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_duration_seconds",
			Help:      "Segment duration",
			Buckets:   segmentBuckets,
		}),
		preprocessDur: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "preprocess_duration_seconds",
			Help:      "Preprocessing duration",
			Buckets:   preprocessBuckets,
		}),
		ioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "io_duration_seconds",
			Help:      "I/O duration",
			Buckets:   ioBuckets,
		}),
		segmentRTF: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_rtf",
			Help:      "RTF per segment",
			Buckets:   rtfBuckets,
		}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests",
		}, []string{"status", "mode"}),
		segmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Total segments processed",
		}),
		audioSecondsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Cumulative audio duration",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors",
		}, []string{"error_type"}),
		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Total audio chunks received",
		}),
		bytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total bytes received",
		}),

		currentRTF: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_rtf",
			Help:      "Most recent real-time factor",
		}),
		currentTTFR: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_ttfr_seconds",
			Help:      "Most recent time to first result",
		}),
		currentDecode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_decode_seconds",
			Help:      "Most recent decode time",
		}),
		currentRequest: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_request_seconds",
			Help:      "Most recent request duration",
		}),
		currentAudio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_audio_seconds",
			Help:      "Most recent audio duration",
		}),
		currentPreprocess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_preprocess_seconds",
			Help:      "Most recent preprocess time",
		}),
		currentIO: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_io_seconds",
			Help:      "Most recent I/O time",
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Active WebSocket connections",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total connections",
		}),
		disconnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnections_total",
			Help:      "Total disconnections",
		}, []string{"reason"}),
		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "WebSocket connection duration",
			Buckets:   connectionBuckets,
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total sessions",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Active sessions",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration",
			Buckets:   sessionBuckets,
		}),

		wordsPerRequest: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "words_per_request",
			Help:      "Words per recognition result",
			Buckets:   wordBuckets,
		}),
		audioRMS: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_rms_level",
			Help:      "RMS level of input audio",
			Buckets:   rmsBuckets,
		}),
		emptyResultsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_results_total",
			Help:      "Empty result count",
		}),
		wordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_total",
			Help:      "Cumulative words",
		}),
		charactersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "characters_total",
			Help:      "Cumulative characters",
		}),
		silenceSegments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_segments_total",
			Help:      "Silence segments",
		}),
		lowVolumeWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_volume_warnings_total",
			Help:      "Low volume warnings",
		}),
		speechRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_ratio",
			Help:      "Speech vs silence ratio",
		}),

		kafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total Kafka messages published",
		}, []string{"topic"}),
		kafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total Kafka publish errors",
		}, []string{"topic"}),
		kafkaPublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency",
			Buckets:   preprocessBuckets,
		}),
	}

	m.requestsWSSuccess = m.requestsTotal.WithLabelValues("success", ModeWebsocket)
	m.requestsHTTPSuccess = m.requestsTotal.WithLabelValues("success", ModeHTTP)
	m.requestsWSFailed = m.requestsTotal.WithLabelValues("failed", ModeWebsocket)
	m.requestsHTTPFailed = m.requestsTotal.WithLabelValues("failed", ModeHTTP)
	m.requestDurWSSuccess = m.requestDuration.WithLabelValues(ModeWebsocket, "success")
	m.requestDurHTTPSucc = m.requestDuration.WithLabelValues(ModeHTTP, "success")
	m.requestDurWSFailed = m.requestDuration.WithLabelValues(ModeWebsocket, "failed")
	m.requestDurHTTPFailed = m.requestDuration.WithLabelValues(ModeHTTP, "failed")
	m.ttfrWS = m.ttfr.WithLabelValues(ModeWebsocket)
	m.ttfrHTTP = m.ttfr.WithLabelValues(ModeHTTP)
	m.rtfWS = m.rtf.WithLabelValues(ModeWebsocket)
	m.rtfHTTP = m.rtf.WithLabelValues(ModeHTTP)
	m.rtfDecodeWS = m.rtfDecode.WithLabelValues(ModeWebsocket)
	m.rtfDecodeHTTP = m.rtfDecode.WithLabelValues(ModeHTTP)
	m.disconnectionsNormal = m.disconnectionsTotal.WithLabelValues("normal")

	return m
}

// ObserveTTFR records time to first result for the given mode.
func (m *Metrics) ObserveTTFR(sec float64, mode string) {
	if mode == ModeWebsocket {
		m.ttfrWS.Observe(sec)
	} else {
		m.ttfrHTTP.Observe(sec)
	}
	m.currentTTFR.Set(sec)
}

// ObserveSegment records per-segment decode timing.
func (m *Metrics) ObserveSegment(audioSec, decodeSec float64) {
	m.decodeDuration.Observe(decodeSec)
	m.segmentDuration.Observe(audioSec)
	m.segmentsTotal.Inc()
	m.audioSecondsTotal.Add(audioSec)
	if audioSec > 0 {
		m.segmentRTF.Observe(decodeSec / audioSec)
	}
	m.currentDecode.Set(decodeSec)
}

// ObserveRequest records request-level accounting for either transport.
func (m *Metrics) ObserveRequest(totalSec, audioSec, decodeSec float64, chunks int64, bytes int64, preprocessSec, ioSec float64, mode, status string) {
	isWS := mode == ModeWebsocket
	isSuccess := status == "success"

	switch {
	case isSuccess && isWS:
		m.requestsWSSuccess.Inc()
		m.requestDurWSSuccess.Observe(totalSec)
	case isSuccess:
		m.requestsHTTPSuccess.Inc()
		m.requestDurHTTPSucc.Observe(totalSec)
	case isWS:
		m.requestsWSFailed.Inc()
		m.requestDurWSFailed.Observe(totalSec)
	default:
		m.requestsHTTPFailed.Inc()
		m.requestDurHTTPFailed.Observe(totalSec)
	}

	m.audioDuration.Observe(audioSec)
	m.preprocessDur.Observe(preprocessSec)
	m.ioDuration.Observe(ioSec)

	if audioSec > 0 {
		rtf := totalSec / audioSec
		if isWS {
			m.rtfWS.Observe(rtf)
			m.rtfDecodeWS.Observe(decodeSec / audioSec)
		} else {
			m.rtfHTTP.Observe(rtf)
			m.rtfDecodeHTTP.Observe(decodeSec / audioSec)
		}
		m.currentRTF.Set(rtf)
	}

	m.chunksTotal.Add(float64(chunks))
	m.bytesTotal.Add(float64(bytes))

	m.currentRequest.Set(totalSec)
	m.currentAudio.Set(audioSec)
	m.currentPreprocess.Set(preprocessSec)
	m.currentIO.Set(ioSec)
}

// ObserveError counts an error by type.
func (m *Metrics) ObserveError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// ConnectionOpened records a new transport connection.
func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

// ConnectionClosed records a transport connection ending.
func (m *Metrics) ConnectionClosed(reason string, durationSec float64) {
	m.activeConnections.Dec()
	if reason == "normal" {
		m.disconnectionsNormal.Inc()
	} else {
		m.disconnectionsTotal.WithLabelValues(reason).Inc()
	}
	m.connectionDuration.Observe(durationSec)
}

// SessionStarted records a recognition session beginning.
func (m *Metrics) SessionStarted() {
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

// SessionEnded records a recognition session ending.
func (m *Metrics) SessionEnded(durationSec float64) {
	m.activeSessions.Dec()
	m.sessionDuration.Observe(durationSec)
}

// RecordResult accumulates word and character statistics for a
// transcript, counting empty results separately.
func (m *Metrics) RecordResult(text string) {
	if text == "" {
		m.emptyResultsTotal.Inc()
		return
	}
	words := countWords(text)
	m.wordsTotal.Add(float64(words))
	m.charactersTotal.Add(float64(len(text)))
	m.wordsPerRequest.Observe(float64(words))
}

// countWords counts whitespace-delimited runs without allocating.
func countWords(s string) int {
	words, inWord := 0, false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				inWord = true
				words++
			}
		}
	}
	return words
}

// RecordAudioLevel tracks the RMS of an incoming chunk.
func (m *Metrics) RecordAudioLevel(rms float64) {
	m.audioRMS.Observe(rms)
	if rms < lowVolumeRMS {
		m.lowVolumeWarnings.Inc()
	}
}

// RecordSilence counts a segment discarded as silence.
func (m *Metrics) RecordSilence() {
	m.silenceSegments.Inc()
}

// SetSpeechRatio publishes the speech/silence ratio of the last
// finalized session.
func (m *Metrics) SetSpeechRatio(ratio float64) {
	m.speechRatio.Set(ratio)
}

// RecordKafkaPublish records a publish attempt to the given topic.
func (m *Metrics) RecordKafkaPublish(topic string, err error, latencySec float64) {
	m.kafkaPublishTotal.WithLabelValues(topic).Inc()
	m.kafkaPublishLatency.Observe(latencySec)
	if err != nil {
		m.kafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
