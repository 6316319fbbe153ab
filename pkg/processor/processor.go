// Package processor handles record import messages from Kafka. Every record of an import goes
// through the resolution service, so import paths converge on one canonical record per concept.
package processor

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	reqctx "github.com/Ramsey-B/sorrel/pkg/context"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/resolution"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Resolver resolves a batch of names of one record type.
type Resolver interface {
	GetOrCreateBatch(ctx context.Context, typeSlug string, reqs []models.ResolveRequest) ([]models.BatchResolveItem, error)
}

// Summary counts what one import message did.
type Summary struct {
	Records     int
	Created     int
	Matched     int
	Failed      int
	UnknownType int
}

// Processor handles import messages
type Processor struct {
	logger   ectologger.Logger
	resolver Resolver
}

// NewProcessor creates a new import processor
func NewProcessor(logger ectologger.Logger, resolver Resolver) *Processor {
	return &Processor{
		logger:   logger,
		resolver: resolver,
	}
}

// ProcessMessage resolves every record of an import message. Records are grouped by type in the
// order the types first appear. Unknown types and invalid names are logged and skipped, so that a
// bad record never blocks the partition; storage failures are returned and the message is
// redelivered.
func (p *Processor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	_, err := p.Process(ctx, msg)
	return err
}

// Process is ProcessMessage returning the per-message summary.
func (p *Processor) Process(ctx context.Context, msg *kafka.IncomingMessage) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Process")
	defer span.End()

	if msg.Import == nil {
		if err := msg.ParseImport(); err != nil {
			return nil, err
		}
	}
	ctx = reqctx.SetSource(ctx, msg.Import.Source)

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"key":     msg.Key,
		"topic":   msg.Topic,
		"offset":  msg.Offset,
		"source":  msg.Import.Source,
		"records": len(msg.Import.Records),
	}).WithFields(tracing.LogFields(ctx))

	summary := &Summary{Records: len(msg.Import.Records)}
	for _, g := range groupByType(msg.Import.Records) {
		items, err := p.resolver.GetOrCreateBatch(ctx, g.typeSlug, g.records)
		if err != nil {
			if errors.Is(err, resolution.ErrTypeNotFound) {
				summary.UnknownType += len(g.records)
				log.WithError(err).WithField("type", g.typeSlug).Warn("Skipping records of unknown type")
				continue
			}
			log.WithError(err).WithField("type", g.typeSlug).Error("Failed to resolve import batch")
			return summary, err
		}

		for i, item := range items {
			if item.Err != nil {
				summary.Failed++
				log.WithError(item.Err).WithFields(map[string]any{
					"type": g.typeSlug,
					"name": g.records[i].Name,
				}).Warn("Failed to resolve imported record")
				continue
			}
			if item.Result.Outcome == models.ResolveOutcomeCreated {
				summary.Created++
			} else {
				summary.Matched++
			}
		}
	}

	metrics.RecordImport(msg.Import.Source, summary.Created, summary.Matched, summary.Failed+summary.UnknownType)
	log.WithFields(map[string]any{
		"created":      summary.Created,
		"matched":      summary.Matched,
		"failed":       summary.Failed,
		"unknown_type": summary.UnknownType,
	}).Info("Processed import")
	return summary, nil
}

type typeGroup struct {
	typeSlug string
	records  []models.ResolveRequest
}

func groupByType(records []models.ResolveRequest) []typeGroup {
	var groups []typeGroup
	index := make(map[string]int)
	for _, r := range records {
		i, ok := index[r.TypeSlug]
		if !ok {
			i = len(groups)
			index[r.TypeSlug] = i
			groups = append(groups, typeGroup{typeSlug: r.TypeSlug})
		}
		groups[i].records = append(groups[i].records, r)
	}
	return groups
}
