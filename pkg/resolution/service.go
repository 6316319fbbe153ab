// Package resolution maps an incoming name to its canonical record, creating the record when no
// existing one is equivalent. Concurrent callers converge on one record through the active
// (type_id, name_normalized) unique index and a bounded retry.
package resolution

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/extractor"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const minSubstringLookup = 3

// Records is the record store the service reads and writes.
type Records interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, rec *models.Record) error
	AddSource(ctx context.Context, src *models.RecordSource) error
	UpdateEmbedding(ctx context.Context, id string, vector []float32) error
	GetByExternalID(ctx context.Context, typeID, externalID string) (*models.Record, error)
	GetByNormalizedName(ctx context.Context, typeID, nameNormalized string) (*models.Record, error)
	GetByNormalizedNames(ctx context.Context, typeID string, names []string) ([]models.Record, error)
	FindBySubstring(ctx context.Context, typeID, fragment string, limit int) ([]models.Record, error)
	ListCandidates(ctx context.Context, typeID, country string, limit int) ([]models.Record, error)
}

// RecordTypes resolves record type slugs.
type RecordTypes interface {
	GetBySlug(ctx context.Context, slug string) (*models.RecordType, error)
}

// Categories links resolved records to categories.
type Categories interface {
	GetOrCreate(ctx context.Context, name string) (*models.Category, error)
	Link(ctx context.Context, recordID, categoryID string) error
}

// Matcher is the similarity engine as the service uses it.
type Matcher interface {
	Threshold() float64
	EquivalentAt(ctx context.Context, a, b, locale string, threshold float64) matching.Verdict
	Embedding(ctx context.Context, name, locale string) ([]float32, error)
	Remember(name, locale string, vector []float32)
}

// EventEmitter publishes record lifecycle events.
type EventEmitter interface {
	EmitRecordCreated(ctx context.Context, rec *models.Record, source string) error
}

// GraphProjector mirrors created records into the graph database.
type GraphProjector interface {
	UpsertRecord(ctx context.Context, rec *models.Record) error
}

// Options contains configuration for the service
type Options struct {
	CandidateLimit int  // bound on records compared by the similarity step (default: 5000)
	MaxRaceRetries int  // create attempts after the first that may lose a uniqueness race (default: 3)
	BatchChunkSize int  // names per pre-load query of GetOrCreateBatch (default: 500)
	EmbedOnCreate  bool // compute and store the embedding of every created record
}

// DefaultOptions returns default service configuration
func DefaultOptions() Options {
	return Options{
		CandidateLimit: 5000,
		MaxRaceRetries: 3,
		BatchChunkSize: 500,
		EmbedOnCreate:  true,
	}
}

// Service is the resolution service
type Service struct {
	logger     ectologger.Logger
	records    Records
	types      RecordTypes
	categories Categories
	matcher    Matcher
	emitter    EventEmitter
	graph      GraphProjector
	opts       Options
}

// NewService creates a new resolution service. Categories, emitter and graph are optional and may
// be set with the With* methods.
func NewService(logger ectologger.Logger, records Records, types RecordTypes, matcher Matcher, opts Options) *Service {
	defaults := DefaultOptions()
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = defaults.CandidateLimit
	}
	if opts.MaxRaceRetries < 0 {
		opts.MaxRaceRetries = defaults.MaxRaceRetries
	}
	if opts.BatchChunkSize <= 0 {
		opts.BatchChunkSize = defaults.BatchChunkSize
	}
	return &Service{
		logger:  logger,
		records: records,
		types:   types,
		matcher: matcher,
		opts:    opts,
	}
}

// WithCategories enables category links from ResolveRequest.Categories
func (s *Service) WithCategories(c Categories) *Service {
	s.categories = c
	return s
}

// WithEmitter enables record.created events
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

// WithGraph enables the graph projection of created records
func (s *Service) WithGraph(g GraphProjector) *Service {
	s.graph = g
	return s
}

// prepared is a request with its derived keys
type prepared struct {
	req        models.ResolveRequest
	name       string
	locale     string // comparison locale, may come from language detection
	keyLocale  string
	normalized string
	threshold  float64
}

func (s *Service) prepare(req models.ResolveRequest) (prepared, error) {
	p := prepared{req: req, name: strings.TrimSpace(req.Name)}
	p.locale = normalizers.LocaleFor(req.Country, p.name)
	p.keyLocale = normalizers.KeyLocale(req.Country)
	p.normalized = normalizers.Normalize(p.name, p.keyLocale)
	if p.normalized == "" {
		return p, fmt.Errorf("%w: %q", ErrInvalidName, req.Name)
	}
	p.threshold = req.SimilarityThreshold
	if p.threshold <= 0 {
		p.threshold = s.matcher.Threshold()
	}
	return p, nil
}

func (s *Service) recordType(ctx context.Context, slug string) (*models.RecordType, error) {
	rt, err := s.types.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, slug)
	}
	return rt, nil
}

// GetOrCreate returns the canonical record for req, creating it when no active record of the type
// is equivalent. Lookups run in order: external id, normalized name, similarity (unless the threshold
// is 1.0), composite extraction; the first hit wins.
func (s *Service) GetOrCreate(ctx context.Context, req models.ResolveRequest) (*models.ResolveResult, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.GetOrCreate")
	defer span.End()

	start := time.Now()

	rt, err := s.recordType(ctx, req.TypeSlug)
	if err != nil {
		return nil, err
	}
	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	result, err := s.resolve(ctx, rt, p)
	if err != nil {
		return nil, err
	}
	metrics.RecordResolution(rt.Slug, string(result.Outcome), time.Since(start).Seconds())
	return result, nil
}

func (s *Service) resolve(ctx context.Context, rt *models.RecordType, p prepared) (*models.ResolveResult, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"type":            rt.Slug,
		"name_normalized": p.normalized,
	})

	onConflict := func(attempt int) {
		metrics.UniquenessRetriesTotal.WithLabelValues(rt.Slug).Inc()
		log.WithField("attempt", attempt).Debug("Lost uniqueness race, refetching")
	}

	result, err := retryOnConflict(ctx, s.opts.MaxRaceRetries, onConflict, func(attempt int) (*models.ResolveResult, error) {
		var (
			found *models.ResolveResult
			err   error
		)
		if attempt == 0 {
			found, err = s.find(ctx, rt, p)
		} else {
			found, err = s.findExact(ctx, rt, p)
			if found != nil {
				found.Outcome = models.ResolveOutcomeRaceLost
			}
		}
		if err != nil || found != nil {
			return found, err
		}
		return s.create(ctx, rt, p)
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome != models.ResolveOutcomeCreated {
		s.attach(ctx, result.Record, p)
	} else {
		s.afterCreate(ctx, result.Record, p)
	}
	return result, nil
}

// find runs every lookup step
func (s *Service) find(ctx context.Context, rt *models.RecordType, p prepared) (*models.ResolveResult, error) {
	if found, err := s.findExact(ctx, rt, p); err != nil || found != nil {
		return found, err
	}
	if p.threshold < 1.0 {
		if found, err := s.findSimilar(ctx, rt, p); err != nil || found != nil {
			return found, err
		}
	}
	return s.findComposite(ctx, rt, p)
}

// findExact looks up by external id, then by normalized name
func (s *Service) findExact(ctx context.Context, rt *models.RecordType, p prepared) (*models.ResolveResult, error) {
	if p.req.ExternalID != "" {
		rec, err := s.records.GetByExternalID(ctx, rt.ID, p.req.ExternalID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return &models.ResolveResult{Record: rec, Outcome: models.ResolveOutcomeExternalID, Score: 1}, nil
		}
	}

	rec, err := s.records.GetByNormalizedName(ctx, rt.ID, p.normalized)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return &models.ResolveResult{Record: rec, Outcome: models.ResolveOutcomeExact, Score: 1, Reason: matching.ReasonExact}, nil
	}
	return nil, nil
}

// findSimilar scores the active records of the type, in the same country when one is given. The best
// verdict at or above the threshold wins; candidates come oldest first so ties keep the earliest.
func (s *Service) findSimilar(ctx context.Context, rt *models.RecordType, p prepared) (*models.ResolveResult, error) {
	country := strings.ToUpper(strings.TrimSpace(p.req.Country))
	candidates, err := s.records.ListCandidates(ctx, rt.ID, country, s.opts.CandidateLimit)
	if err != nil {
		return nil, err
	}

	var (
		best    *models.Record
		verdict matching.Verdict
	)
	for i := range candidates {
		c := &candidates[i]
		if len(c.Embedding.Data) > 0 {
			s.matcher.Remember(c.Name, p.locale, c.Embedding.Data)
		}

		v := s.matcher.EquivalentAt(ctx, p.name, c.Name, p.locale, p.threshold)
		if !v.IsEquivalent {
			continue
		}
		if best == nil || v.Score > verdict.Score {
			best, verdict = c, v
		}
		if v.Reason == matching.ReasonExact {
			break
		}
	}
	if best == nil {
		return nil, nil
	}
	return &models.ResolveResult{Record: best, Outcome: models.ResolveOutcomeSimilar, Score: verdict.Score, Reason: verdict.Reason}, nil
}

// findComposite resolves a composite name to the first record one of its parts points at
func (s *Service) findComposite(ctx context.Context, rt *models.RecordType, p prepared) (*models.ResolveResult, error) {
	comp := extractor.DetectComposite(p.name)
	if !comp.IsComposite {
		return nil, nil
	}

	for _, part := range comp.ExtractedNames {
		normalized := normalizers.Normalize(part, p.keyLocale)
		if normalized == "" {
			continue
		}

		rec, err := s.records.GetByNormalizedName(ctx, rt.ID, normalized)
		if err != nil {
			return nil, err
		}
		if rec == nil && utf8.RuneCountInString(normalized) >= minSubstringLookup {
			hits, err := s.records.FindBySubstring(ctx, rt.ID, normalized, 1)
			if err != nil {
				return nil, err
			}
			if len(hits) > 0 {
				rec = &hits[0]
			}
		}
		if rec != nil {
			return &models.ResolveResult{Record: rec, Outcome: models.ResolveOutcomeComposite, Reason: string(comp.PatternType)}, nil
		}
	}
	return nil, nil
}

// create inserts the record and its provenance in one transaction
func (s *Service) create(ctx context.Context, rt *models.RecordType, p prepared) (*models.ResolveResult, error) {
	rec := &models.Record{
		TypeID:         rt.ID,
		Name:           p.name,
		NameNormalized: p.normalized,
		Slug:           normalizers.Slug(p.name, p.keyLocale),
		ExternalID:     optional(p.req.ExternalID),
		Country:        strings.ToUpper(strings.TrimSpace(p.req.Country)),
		AdminLevel1:    optional(p.req.AdminLevel1),
		AdminLevel2:    optional(p.req.AdminLevel2),
		ParentID:       optional(p.req.ParentID),
		Latitude:       p.req.Latitude,
		Longitude:      p.req.Longitude,
		Attributes:     database.NewJSONB(p.req.Attributes),
	}

	err := s.records.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, rec); err != nil {
			return err
		}
		if p.req.Source == "" {
			return nil
		}
		return s.records.AddSource(ctx, &models.RecordSource{RecordID: rec.ID, Source: p.req.Source, SourceRef: p.req.SourceRef})
	})
	if err != nil {
		if !database.IsUniqueViolation(err) {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to create record")
		}
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"id":   rec.ID,
		"type": rt.Slug,
		"name": rec.Name,
	}).Info("Created record")
	return &models.ResolveResult{Record: rec, Outcome: models.ResolveOutcomeCreated}, nil
}

// attach records provenance and categories on an existing record. Failures are logged only.
func (s *Service) attach(ctx context.Context, rec *models.Record, p prepared) {
	if p.req.Source != "" {
		src := &models.RecordSource{RecordID: rec.ID, Source: p.req.Source, SourceRef: p.req.SourceRef}
		if err := s.records.AddSource(ctx, src); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("record_id", rec.ID).Warn("Failed to add record source")
		}
	}
	s.linkCategories(ctx, rec, p)
}

// afterCreate runs the side effects of a new record. None of them fails the resolution.
func (s *Service) afterCreate(ctx context.Context, rec *models.Record, p prepared) {
	log := s.logger.WithContext(ctx).WithField("record_id", rec.ID)

	s.linkCategories(ctx, rec, p)

	if s.opts.EmbedOnCreate {
		vector, err := s.matcher.Embedding(ctx, rec.Name, p.locale)
		switch {
		case err != nil:
			log.WithError(err).Debug("Skipping embedding of new record")
		default:
			if err := s.records.UpdateEmbedding(ctx, rec.ID, vector); err != nil {
				log.WithError(err).Warn("Failed to store record embedding")
			} else {
				rec.Embedding = database.NewJSONB(vector)
			}
		}
	}

	if s.emitter != nil {
		if err := s.emitter.EmitRecordCreated(ctx, rec, p.req.Source); err != nil {
			log.WithError(err).Warn("Failed to emit record.created")
		}
	}
	if s.graph != nil {
		if err := s.graph.UpsertRecord(ctx, rec); err != nil {
			log.WithError(err).Warn("Failed to project record into graph")
		}
	}
}

func (s *Service) linkCategories(ctx context.Context, rec *models.Record, p prepared) {
	if s.categories == nil {
		return
	}
	for _, name := range p.req.Categories {
		if strings.TrimSpace(name) == "" {
			continue
		}
		cat, err := s.categories.GetOrCreate(ctx, name)
		if err == nil {
			err = s.categories.Link(ctx, rec.ID, cat.ID)
		}
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"record_id": rec.ID,
				"category":  name,
			}).Warn("Failed to link category")
		}
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
