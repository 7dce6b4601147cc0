// Package events publishes final transcript events to Kafka. When
// Kafka is disabled the publisher runs in log-only mode so the rest of
// the pipeline is unaffected.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gulldan/asrcpp-gigam3/internal/config"
	"github.com/gulldan/asrcpp-gigam3/internal/models"
	"github.com/gulldan/asrcpp-gigam3/internal/observability/metrics"
	"github.com/gulldan/asrcpp-gigam3/internal/schema"
)

// Publisher writes final transcript events to a Kafka topic, keyed by
// connection id so one connection's transcripts stay ordered.
type Publisher struct {
	writer    *kafka.Writer
	validator *schema.Validator
	principal string
	topic     string
	enabled   bool
	metrics   *metrics.Metrics
}

// New creates a publisher from the Kafka configuration. A disabled or
// broker-less configuration yields a log-only publisher.
func New(cfg *config.KafkaConfig) *Publisher {
	p := &Publisher{
		validator: schema.New(),
		metrics:   metrics.Default(),
	}
	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, transcript events use log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicFinal,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.principal = cfg.Principal
	p.topic = cfg.TopicFinal
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// PublishFinal validates and publishes one final transcript event.
func (p *Publisher) PublishFinal(ctx context.Context, ev models.TranscriptFinal) error {
	if err := p.validator.Validate(ev); err != nil {
		return fmt.Errorf("events: invalid final transcript: %w", err)
	}

	if !p.enabled {
		log.Debug().
			Str("connectionId", ev.ConnectionID).
			Str("text", ev.Text).
			Msg("Transcript event (log-only)")
		return nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal final transcript: %w", err)
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ConnectionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "principal", Value: []byte(p.principal)},
			{Key: "eventType", Value: []byte(ev.EventType)},
		},
	})
	p.metrics.RecordKafkaPublish(p.topic, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("events: publish final transcript: %w", err)
	}
	return nil
}

// Close flushes and closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
