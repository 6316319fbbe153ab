package resolution

import (
	"context"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// GetOrCreateBatch resolves many names of one record type. Existing records are pre-loaded by
// normalized name in chunks and answered without further lookups; the rest go through the full
// resolution. Records created earlier in the batch are reused, so repeated names converge. The
// returned slice is parallel to reqs and carries per-item errors; only an unknown type or a
// cancelled context fails the whole call.
func (s *Service) GetOrCreateBatch(ctx context.Context, typeSlug string, reqs []models.ResolveRequest) ([]models.BatchResolveItem, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.GetOrCreateBatch")
	defer span.End()

	rt, err := s.recordType(ctx, typeSlug)
	if err != nil {
		return nil, err
	}

	items := make([]models.BatchResolveItem, len(reqs))
	preps := make([]prepared, len(reqs))
	var names []string
	seen := make(map[string]struct{}, len(reqs))
	for i, req := range reqs {
		req.TypeSlug = rt.Slug
		p, err := s.prepare(req)
		if err != nil {
			items[i] = failed(err)
			continue
		}
		preps[i] = p
		if _, ok := seen[p.normalized]; !ok {
			seen[p.normalized] = struct{}{}
			names = append(names, p.normalized)
		}
	}

	known, err := s.preload(ctx, rt.ID, names)
	if err != nil {
		return nil, err
	}

	for i := range reqs {
		if items[i].Err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := preps[i]
		start := time.Now()

		if rec, ok := known[p.normalized]; ok && p.req.ExternalID == "" {
			result := &models.ResolveResult{Record: rec, Outcome: models.ResolveOutcomeExact, Score: 1, Reason: matching.ReasonExact}
			s.attach(ctx, rec, p)
			metrics.RecordResolution(rt.Slug, string(result.Outcome), time.Since(start).Seconds())
			items[i] = models.BatchResolveItem{Result: result}
			continue
		}

		result, err := s.resolve(ctx, rt, p)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("index", i).Warn("Failed to resolve batch item")
			items[i] = failed(err)
			continue
		}
		metrics.RecordResolution(rt.Slug, string(result.Outcome), time.Since(start).Seconds())
		items[i] = models.BatchResolveItem{Result: result}
		known[p.normalized] = result.Record
	}

	return items, nil
}

func (s *Service) preload(ctx context.Context, typeID string, names []string) (map[string]*models.Record, error) {
	known := make(map[string]*models.Record, len(names))
	for start := 0; start < len(names); start += s.opts.BatchChunkSize {
		end := min(start+s.opts.BatchChunkSize, len(names))
		records, err := s.records.GetByNormalizedNames(ctx, typeID, names[start:end])
		if err != nil {
			return nil, err
		}
		for i := range records {
			known[records[i].NameNormalized] = &records[i]
		}
	}
	return known, nil
}

func failed(err error) models.BatchResolveItem {
	return models.BatchResolveItem{Error: err.Error(), Err: err}
}
