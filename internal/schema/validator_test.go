package schema

import (
	"testing"
	"time"

	"github.com/gulldan/asrcpp-gigam3/internal/models"
)

func validFinal() models.TranscriptFinal {
	return models.TranscriptFinal{
		EventType:    models.EventTypeFinal,
		ConnectionID: "conn-1",
		Text:         "hello world",
		DurationSec:  1.5,
		Timestamp:    time.Now().UnixMilli(),
	}
}

func TestValidate_Final(t *testing.T) {
	v := New()
	if err := v.Validate(validFinal()); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	v := New()
	cases := []struct {
		name   string
		mutate func(*models.TranscriptFinal)
	}{
		{"wrong event type", func(e *models.TranscriptFinal) { e.EventType = "other" }},
		{"missing connection id", func(e *models.TranscriptFinal) { e.ConnectionID = "" }},
		{"missing text", func(e *models.TranscriptFinal) { e.Text = "" }},
		{"missing timestamp", func(e *models.TranscriptFinal) { e.Timestamp = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validFinal()
			tc.mutate(&ev)
			if err := v.Validate(ev); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_UnknownType(t *testing.T) {
	v := New()
	if err := v.Validate(struct{}{}); err == nil {
		t.Error("expected error for unknown event type")
	}
}
