// Package models defines the transcript event payloads published to
// downstream consumers.
package models

// EventTypeFinal is the event type tag for final transcripts.
const EventTypeFinal = "asr.transcript.final"

// TranscriptFinal is a committed utterance transcript produced by the
// streaming pipeline.
type TranscriptFinal struct {
	EventType    string  `json:"eventType"`
	ConnectionID string  `json:"connectionId"`
	Text         string  `json:"text"`
	DurationSec  float32 `json:"durationSec"`
	Timestamp    int64   `json:"timestamp"`
}
