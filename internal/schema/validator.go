// Package schema validates outbound event payloads before publishing.
package schema

import (
	"errors"
	"fmt"

	"github.com/gulldan/asrcpp-gigam3/internal/models"
)

var errUnknownEvent = errors.New("schema: unknown event type")

// Validator checks that events carry every required field.
type Validator struct{}

// New creates a Validator.
func New() *Validator {
	return &Validator{}
}

// Validate returns an error describing the first missing or invalid
// field.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.TranscriptFinal:
		if e.EventType != models.EventTypeFinal {
			return fmt.Errorf("schema: eventType must be %q, got %q", models.EventTypeFinal, e.EventType)
		}
		if e.ConnectionID == "" {
			return errors.New("schema: connectionId is required")
		}
		if e.Text == "" {
			return errors.New("schema: text is required")
		}
		if e.Timestamp <= 0 {
			return errors.New("schema: timestamp is required")
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", errUnknownEvent, event)
	}
}
