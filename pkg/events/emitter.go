// Package events handles event emission for record lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Publisher writes record events; *kafka.Producer satisfies it.
type Publisher interface {
	PublishRecordEvent(ctx context.Context, event *kafka.RecordEvent) error
}

// Emitter turns record lifecycle changes into Kafka events
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitRecordCreated emits a record.created event
func (e *Emitter) EmitRecordCreated(ctx context.Context, rec *models.Record, source string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRecordCreated")
	defer span.End()

	data, err := json.Marshal(newRecordCreatedData(rec, source))
	if err != nil {
		return err
	}

	event := &kafka.RecordEvent{
		EventType: kafka.EventRecordCreated,
		Kind:      string(models.KindRecord),
		EntityID:  rec.ID,
		TypeID:    rec.TypeID,
		Data:      data,
	}

	if err := e.publisher.PublishRecordEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(tracing.LogFields(ctx)).Error("Failed to emit record.created event")
		return err
	}
	return nil
}

// EmitMerged emits a record.merged event for a merge of any kind
func (e *Emitter) EmitMerged(ctx context.Context, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMerged")
	defer span.End()

	data, err := json.Marshal(newRecordMergedData(result))
	if err != nil {
		return err
	}

	event := &kafka.RecordEvent{
		EventType: kafka.EventRecordMerged,
		Kind:      string(result.Kind),
		EntityID:  result.CanonicalID,
		Data:      data,
	}

	if err := e.publisher.PublishRecordEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(tracing.LogFields(ctx)).Error("Failed to emit record.merged event")
		return err
	}
	return nil
}
