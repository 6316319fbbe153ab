package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// SchemaVersion is the current record event schema version
const SchemaVersion = "1.0"

// Record event types
const (
	EventRecordCreated = "record.created"
	EventRecordMerged  = "record.merged"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchSize:              cfg.BatchSize,
			BatchTimeout:           cfg.BatchTimeout,
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:            compressionCodec(cfg.Compression),
			AllowAutoTopicCreation: true,
		},
		logger: logger,
		topic:  cfg.Topic,
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	}
	return kafka.Snappy
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// RecordEvent is a lifecycle event of a record, record type or category. Events of one entity share
// a partition because the entity id is the message key.
type RecordEvent struct {
	EventType string          `json:"event_type"`
	Kind      string          `json:"kind"`
	EntityID  string          `json:"entity_id"`
	TypeID    string          `json:"type_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   string          `json:"schema_version"`
	Timestamp time.Time       `json:"timestamp"`
	TraceID   string          `json:"trace_id,omitempty"`
}

// PublishRecordEvent publishes one record event
func (p *Producer) PublishRecordEvent(ctx context.Context, event *RecordEvent) error {
	return p.PublishRecordEvents(ctx, []*RecordEvent{event})
}

// PublishRecordEvents publishes record events in one batch
func (p *Producer) PublishRecordEvents(ctx context.Context, events []*RecordEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishRecordEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		msg, err := p.message(ctx, event)
		if err != nil {
			return err
		}
		messages[i] = msg
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.RecordKafkaMessage(p.topic, "out", "failed")
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish record events")
		return err
	}

	for _, event := range events {
		metrics.RecordKafkaMessage(p.topic, "out", "ok")
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"event_type": event.EventType,
			"entity_id":  event.EntityID,
			"kind":       event.Kind,
		}).Debug("Published record event")
	}
	return nil
}

func (p *Producer) message(ctx context.Context, event *RecordEvent) (kafka.Message, error) {
	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Version == "" {
		event.Version = SchemaVersion
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "kind", Value: []byte(event.Kind)},
		{Key: "schema_version", Value: []byte(event.Version)},
	}
	// downstream consumers continue the trace that produced the event
	if tp := tracing.GetTraceParent(ctx); tp != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(tp)})
		if ts := tracing.GetTraceState(ctx); ts != "" {
			headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(ts)})
		}
	}

	return kafka.Message{
		Topic:   p.topic,
		Key:     []byte(event.EntityID),
		Value:   data,
		Headers: headers,
	}, nil
}
