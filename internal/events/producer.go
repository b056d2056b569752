// Package events publishes analysis lifecycle events to Kafka so external
// consumers (SIEM pipelines, dashboards) can follow sessions in near real
// time. Publishing is best-effort: a broker outage never fails an analysis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"apiguardian/internal/config"
	"apiguardian/types"
)

// EventType represents the lifecycle events the engine emits.
type EventType string

const (
	AnalysisStartedEvent EventType = "analysis_started"
	PlanGeneratedEvent   EventType = "plan_generated"
	ActionExecutedEvent  EventType = "action_executed"
	ActionSkippedEvent   EventType = "action_skipped"
	ReportReadyEvent     EventType = "report_ready"
	SystemEvent          EventType = "system"
)

// Event is the wire shape of one lifecycle event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	SessionID string                 `json:"session_id,omitempty"`
	Endpoint  string                 `json:"endpoint,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Producer sends lifecycle events. The interface exists so the engine can
// run with the no-op implementation when Kafka is disabled.
type Producer interface {
	Produce(ctx context.Context, event Event) error
	Close() error
}

// NoOpProducer discards all events.
type NoOpProducer struct{}

func (p *NoOpProducer) Produce(_ context.Context, _ Event) error { return nil }
func (p *NoOpProducer) Close() error                             { return nil }

var _ Producer = (*NoOpProducer)(nil)

// KafkaProducer publishes events to a single topic, keyed by session so a
// session's events land on one partition in order.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer builds a producer from config. The writer dials lazily;
// broker availability is discovered on first write.
func NewKafkaProducer(cfg config.EventsConfig) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 500 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

// Produce sends one event.
func (p *KafkaProducer) Produce(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = "apiguardian"
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := event.SessionID
	if key == "" {
		key = string(event.Type)
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

var _ Producer = (*KafkaProducer)(nil)

// New returns a Kafka producer when events are enabled, else the no-op.
func New(cfg config.EventsConfig) Producer {
	if !cfg.Enable {
		return &NoOpProducer{}
	}
	log.Printf("📡 Kafka event producer enabled (topic %s)", cfg.Topic)
	return NewKafkaProducer(cfg)
}

// EmitReport publishes the per-action and summary events for a finished
// report. Failures are logged, never propagated.
func EmitReport(ctx context.Context, producer Producer, report *types.ExecutionReport) {
	for _, result := range report.Results {
		eventType := ActionExecutedEvent
		if result.Status == types.StatusSkipped || result.Status == types.StatusUnsupported {
			eventType = ActionSkippedEvent
		}
		emit(ctx, producer, Event{
			Type:      eventType,
			SessionID: report.SessionID,
			Endpoint:  report.Endpoint,
			Data: map[string]interface{}{
				"kind":   string(result.Action.Kind),
				"target": result.Action.Target,
				"status": string(result.Status),
				"reason": result.Reason,
			},
		})
	}
	emit(ctx, producer, Event{
		Type:      ReportReadyEvent,
		SessionID: report.SessionID,
		Endpoint:  report.Endpoint,
		Data: map[string]interface{}{
			"plan_source":           string(report.PlanSource),
			"fixes_applied":         report.FixesApplied,
			"vulnerabilities_found": report.VulnerabilitiesFound,
		},
	})
}

func emit(ctx context.Context, producer Producer, event Event) {
	if err := producer.Produce(ctx, event); err != nil {
		log.Printf("⚠️ Failed to produce %s event: %v", event.Type, err)
	}
}
