package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gulldan/asrcpp-gigam3/internal/audio"
	"github.com/gulldan/asrcpp-gigam3/internal/models"
	"github.com/gulldan/asrcpp-gigam3/internal/observability/logging"
	"github.com/gulldan/asrcpp-gigam3/internal/observability/metrics"
	"github.com/gulldan/asrcpp-gigam3/internal/session"
)

// Recognized text commands on the streaming channel.
const (
	cmdRecognize = "RECOGNIZE"
	cmdReset     = "RESET"
)

// Declared client sample rates outside this range are rejected.
const (
	minClientRate = 8000
	maxClientRate = 192000
)

// wsConn holds the per-connection streaming state.
type wsConn struct {
	srv    *Server
	conn   *websocket.Conn
	sess   *session.Session
	connID string

	resampler          *audio.StreamResampler
	sampleRateReceived bool

	// audioBuf is the aligned copy target for binary frames; its
	// capacity is reused across messages.
	audioBuf []float32

	closeReason string
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WS: upgrade failed")
		return
	}

	connID := s.connIDs.Next()
	logger := logging.WithConnection(connID)
	logger.Info().Str("remote", r.RemoteAddr).Msg("WS: connection opened")
	s.metrics.ConnectionOpened()
	connectedAt := time.Now()

	detector, err := s.newDetector()
	if err != nil {
		logger.Error().Err(err).Msg("WS: VAD init failed")
		s.metrics.ObserveError("vad_init_failed")
		conn.Close(websocket.StatusInternalError, "Server not ready")
		s.metrics.ConnectionClosed("internal_error", time.Since(connectedAt).Seconds())
		return
	}
	defer func() {
		if err := detector.Close(); err != nil {
			logger.Warn().Err(err).Msg("WS: VAD close failed")
		}
	}()

	// Allow slightly more than the frame cap so oversize frames are
	// observed and rejected with a distinct close reason instead of a
	// silent read failure.
	conn.SetReadLimit(s.cfg.MaxWSMessageBytes + 1024)

	c := &wsConn{
		srv:    s,
		conn:   conn,
		connID: connID,
		sess: session.New(s.pool, detector, session.Config{
			SampleRate:    s.cfg.SampleRate,
			VADWindowSize: s.cfg.VADWindowSize,
			MinAudioSec:   s.cfg.MinAudioSec,
			MaxAudioSec:   s.cfg.MaxAudioSec,
		}, metrics.ModeWebsocket),
		closeReason: "normal",
	}

	c.serve(r.Context(), logger)

	c.sess.OnClose()
	duration := time.Since(connectedAt).Seconds()
	logger.Info().
		Float64("durationSec", duration).
		Str("reason", c.closeReason).
		Msg("WS: connection closed")
	s.metrics.ConnectionClosed(c.closeReason, duration)
}

func (c *wsConn) serve(ctx context.Context, logger zerolog.Logger) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("WS: read failed")
				c.closeReason = "read_error"
			}
			return
		}

		if int64(len(data)) > c.srv.cfg.MaxWSMessageBytes {
			logger.Warn().
				Int("bytes", len(data)).
				Int64("limit", c.srv.cfg.MaxWSMessageBytes).
				Msg("WS: message too large")
			c.closeReason = "message_too_large"
			c.conn.Close(websocket.StatusMessageTooBig, "Message too large")
			return
		}

		var handleErr error
		switch typ {
		case websocket.MessageBinary:
			handleErr = c.onBinary(ctx, data, logger)
		case websocket.MessageText:
			handleErr = c.onText(ctx, string(data), logger)
		default:
			continue
		}
		if handleErr != nil {
			logger.Error().Err(handleErr).Msg("WS: handler failed")
			c.srv.metrics.ObserveError("ws_handler_error")
			c.closeReason = "internal_error"
			c.conn.Close(websocket.StatusInternalError, "Internal error")
			return
		}
	}
}

// onBinary copies a little-endian float32 frame into the session-owned
// aligned buffer and feeds it through the pipeline.
func (c *wsConn) onBinary(ctx context.Context, data []byte, logger zerolog.Logger) error {
	if len(data) < 4 || len(data)%4 != 0 {
		logger.Warn().Int("bytes", len(data)).Msg("WS: invalid binary frame size")
		return nil
	}

	n := len(data) / 4
	if cap(c.audioBuf) < n {
		c.audioBuf = make([]float32, n)
	}
	c.audioBuf = c.audioBuf[:n]
	// Byte-oriented copy: wire frames carry no alignment guarantee.
	for i := 0; i < n; i++ {
		c.audioBuf[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}

	samples := c.audioBuf
	if c.resampler != nil {
		resampled, err := c.resampler.Process(c.audioBuf)
		if err != nil {
			return err
		}
		samples = resampled
	}

	msgs, err := c.sess.OnAudio(samples)
	if err != nil {
		return err
	}
	return c.send(ctx, msgs)
}

func (c *wsConn) onText(ctx context.Context, msg string, logger zerolog.Logger) error {
	// The first text frame may be a sample-rate handshake.
	if !c.sampleRateReceived && len(msg) > 0 && msg[0] == '{' {
		var hs struct {
			SampleRate int `json:"sample_rate"`
		}
		if err := json.Unmarshal([]byte(msg), &hs); err == nil && hs.SampleRate != 0 {
			if hs.SampleRate < minClientRate || hs.SampleRate > maxClientRate {
				logger.Warn().Int("sampleRate", hs.SampleRate).Msg("WS: invalid sample_rate, ignoring")
				return nil
			}
			c.sampleRateReceived = true
			if hs.SampleRate != c.srv.cfg.SampleRate {
				r, err := audio.NewStreamResampler(hs.SampleRate, c.srv.cfg.SampleRate)
				if err != nil {
					return err
				}
				c.resampler = r
				logger.Info().
					Int("from", hs.SampleRate).
					Int("to", c.srv.cfg.SampleRate).
					Msg("WS: resampling enabled")
			}
			return nil
		}
		// Not a valid handshake, fall through to command handling.
	}

	switch msg {
	case cmdRecognize:
		// Drain the resampler filter tail through the session first.
		if c.resampler != nil {
			tail, err := c.resampler.Flush()
			if err != nil {
				return err
			}
			if len(tail) > 0 {
				msgs, err := c.sess.OnAudio(tail)
				if err != nil {
					return err
				}
				if err := c.send(ctx, msgs); err != nil {
					return err
				}
			}
		}
		msgs, err := c.sess.OnRecognize()
		if err != nil {
			return err
		}
		return c.send(ctx, msgs)

	case cmdReset:
		c.sess.OnReset()
		// The filter tail belongs to the discarded utterance.
		if c.resampler != nil {
			if _, err := c.resampler.Flush(); err != nil {
				return err
			}
		}
		return nil

	default:
		logger.Warn().Str("message", msg).Msg("WS: unknown text message")
		return nil
	}
}

// send writes the messages as text frames in order, publishing final
// transcripts to the event stream on the way out.
func (c *wsConn) send(ctx context.Context, msgs []session.Message) error {
	for i := range msgs {
		m := &msgs[i]
		if m.Type == session.Final {
			c.publishFinal(m.Payload())
		}
		if err := c.conn.Write(ctx, websocket.MessageText, m.Payload()); err != nil {
			return err
		}
	}
	return nil
}

// publishFinal forwards a final transcript to the Kafka publisher.
// Publish failures are logged, never surfaced to the client.
func (c *wsConn) publishFinal(payload []byte) {
	if c.srv.publisher == nil {
		return
	}
	var parsed struct {
		Text     string  `json:"text"`
		Duration float32 `json:"duration"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return
	}
	ev := models.TranscriptFinal{
		EventType:    models.EventTypeFinal,
		ConnectionID: c.connID,
		Text:         parsed.Text,
		DurationSec:  parsed.Duration,
		Timestamp:    time.Now().UnixMilli(),
	}
	if err := c.srv.publisher.PublishFinal(context.Background(), ev); err != nil {
		log.Warn().Err(err).Str("connectionId", c.connID).Msg("Failed to publish final transcript")
	}
}
