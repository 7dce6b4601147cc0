package session

import "strconv"

// MessageType tags an outgoing message. The tag is advisory for the
// transport; all variants are serialized as text frames.
type MessageType int

const (
	// Interim reports in-progress status for the current utterance.
	Interim MessageType = iota
	// Final carries a committed transcript.
	Final
	// Done terminates a request.
	Done
)

// Message is one outgoing frame with a pre-formatted JSON payload. The
// payload buffer is owned by the session and rewritten on the next
// session call; transports must send or copy it first.
type Message struct {
	Type    MessageType
	payload []byte
}

// Payload returns the serialized JSON, valid until the next session
// call.
func (m *Message) Payload() []byte { return m.payload }

func (m *Message) writeInterim(duration, rms float32, isSpeech bool) {
	b := m.payload[:0]
	b = append(b, `{"type":"interim","duration":`...)
	b = strconv.AppendFloat(b, roundTo(float64(duration), 10), 'f', 1, 64)
	b = append(b, `,"rms":`...)
	b = strconv.AppendFloat(b, roundTo(float64(rms), 10000), 'f', 4, 64)
	b = append(b, `,"is_speech":`...)
	b = strconv.AppendBool(b, isSpeech)
	b = append(b, '}')
	m.Type = Interim
	m.payload = b
}

func (m *Message) writeFinal(text string, duration float32) {
	b := m.payload[:0]
	b = append(b, `{"type":"final","text":"`...)
	b = appendJSONEscaped(b, text)
	b = append(b, `","duration":`...)
	b = strconv.AppendFloat(b, roundTo(float64(duration), 1000), 'f', 3, 64)
	b = append(b, '}')
	m.Type = Final
	m.payload = b
}

func (m *Message) writeDone() {
	m.Type = Done
	m.payload = append(m.payload[:0], `{"type":"done"}`...)
}

func roundTo(v float64, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}

const hexDigits = "0123456789abcdef"

// appendJSONEscaped appends s with the mandatory RFC 8259 escapes.
// Multi-byte UTF-8 sequences pass through untouched.
func appendJSONEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if c < 0x20 {
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				dst = append(dst, c)
			}
		}
	}
	return dst
}
