package resolution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/internal/repositories/memory"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fixture struct {
	store   *memory.Store
	service *Service
	typ     *models.RecordType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	rt := &models.RecordType{Slug: "municipality", Name: "Municipality"}
	require.NoError(t, store.RecordTypes().Create(context.Background(), rt))

	engine := matching.NewEngine(testLogger(), nil, nil, nil, matching.DefaultOptions())
	svc := NewService(testLogger(), store.Records(), store.RecordTypes(), engine, DefaultOptions()).
		WithCategories(store.Categories())
	return &fixture{store: store, service: svc, typ: rt}
}

func (f *fixture) resolve(t *testing.T, req models.ResolveRequest) *models.ResolveResult {
	t.Helper()
	if req.TypeSlug == "" {
		req.TypeSlug = "municipality"
	}
	res, err := f.service.GetOrCreate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	return res
}

func TestGetOrCreate_ExactAfterCreate(t *testing.T) {
	f := newFixture(t)

	created := f.resolve(t, models.ResolveRequest{Name: "Köln", Country: "DE"})
	assert.Equal(t, models.ResolveOutcomeCreated, created.Outcome)
	assert.Equal(t, "koln", created.Record.NameNormalized)
	assert.Equal(t, "koln", created.Record.Slug)
	assert.Equal(t, "DE", created.Record.Country)

	again := f.resolve(t, models.ResolveRequest{Name: "Koeln", Country: "DE"})
	assert.Equal(t, models.ResolveOutcomeExact, again.Outcome)
	assert.Equal(t, created.Record.ID, again.Record.ID)
}

func TestGetOrCreate_CountrylessKeysAreNeutral(t *testing.T) {
	f := newFixture(t)

	created := f.resolve(t, models.ResolveRequest{Name: "Koeln"})
	assert.Equal(t, models.ResolveOutcomeCreated, created.Outcome)
	assert.Equal(t, "koeln", created.Record.NameNormalized)
	assert.Equal(t, "koeln", created.Record.Slug)
	assert.Empty(t, created.Record.Country)

	again := f.resolve(t, models.ResolveRequest{Name: "KOELN"})
	assert.Equal(t, models.ResolveOutcomeExact, again.Outcome)
	assert.Equal(t, created.Record.ID, again.Record.ID)
}

func TestGetOrCreate_TypeNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetOrCreate(context.Background(), models.ResolveRequest{TypeSlug: "planet", Name: "Mars"})
	assert.ErrorIs(t, err, ErrTypeNotFound)
}

func TestGetOrCreate_InvalidName(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetOrCreate(context.Background(), models.ResolveRequest{TypeSlug: "municipality", Name: " -- "})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestGetOrCreate_ExternalID(t *testing.T) {
	f := newFixture(t)

	created := f.resolve(t, models.ResolveRequest{Name: "Bamberg", Country: "DE", ExternalID: "09461000"})
	require.NotNil(t, created.Record.ExternalID)

	got := f.resolve(t, models.ResolveRequest{Name: "Kreisfreie Stadt Bamberg", Country: "DE", ExternalID: "09461000"})
	assert.Equal(t, models.ResolveOutcomeExternalID, got.Outcome)
	assert.Equal(t, created.Record.ID, got.Record.ID)
}

func TestGetOrCreate_Similarity(t *testing.T) {
	f := newFixture(t)

	bamberg := f.resolve(t, models.ResolveRequest{Name: "Bamberg", Country: "DE"})
	nurnberg := f.resolve(t, models.ResolveRequest{Name: "Nürnberg", Country: "DE"})

	t.Run("core name", func(t *testing.T) {
		got := f.resolve(t, models.ResolveRequest{Name: "Stadt Bamberg", Country: "DE"})
		assert.Equal(t, models.ResolveOutcomeSimilar, got.Outcome)
		assert.Equal(t, matching.ReasonCoreName, got.Reason)
		assert.Equal(t, bamberg.Record.ID, got.Record.ID)
	})

	t.Run("fuzzy", func(t *testing.T) {
		got := f.resolve(t, models.ResolveRequest{Name: "Nurnburg", Country: "DE"})
		assert.Equal(t, models.ResolveOutcomeSimilar, got.Outcome)
		assert.Equal(t, matching.ReasonFuzzy, got.Reason)
		assert.InDelta(t, 0.875, got.Score, 1e-9)
		assert.Equal(t, nurnberg.Record.ID, got.Record.ID)
	})

	t.Run("threshold 1.0 only matches exactly", func(t *testing.T) {
		got := f.resolve(t, models.ResolveRequest{Name: "Markt Bamberg", Country: "DE", SimilarityThreshold: 1.0})
		assert.Equal(t, models.ResolveOutcomeCreated, got.Outcome)
		assert.NotEqual(t, bamberg.Record.ID, got.Record.ID)
	})

}

func TestGetOrCreate_CountryScopesCandidates(t *testing.T) {
	f := newFixture(t)

	wien := f.resolve(t, models.ResolveRequest{Name: "Wien", Country: "AT"})

	got := f.resolve(t, models.ResolveRequest{Name: "Wienn", Country: "DE"})
	assert.Equal(t, models.ResolveOutcomeCreated, got.Outcome)
	assert.NotEqual(t, wien.Record.ID, got.Record.ID)
}

func TestGetOrCreate_Composite(t *testing.T) {
	f := newFixture(t)

	litzendorf := f.resolve(t, models.ResolveRequest{Name: "Litzendorf", Country: "DE"})
	f.resolve(t, models.ResolveRequest{Name: "Buttenheim", Country: "DE"})

	got := f.resolve(t, models.ResolveRequest{Name: "Gemeinden Litzendorf und Buttenheim", Country: "DE", SimilarityThreshold: 1.0})
	assert.Equal(t, models.ResolveOutcomeComposite, got.Outcome)
	assert.Equal(t, "plural-jurisdiction", got.Reason)
	assert.Equal(t, litzendorf.Record.ID, got.Record.ID)
}

func TestGetOrCreate_CompositeSubstringFallback(t *testing.T) {
	f := newFixture(t)

	hallstadt := f.resolve(t, models.ResolveRequest{Name: "Stadt Hallstadt", Country: "DE"})

	got := f.resolve(t, models.ResolveRequest{Name: "Region Bamberg, Gemeinde Hallstadt", Country: "DE", SimilarityThreshold: 1.0})
	assert.Equal(t, models.ResolveOutcomeComposite, got.Outcome)
	assert.Equal(t, "region-member", got.Reason)
	assert.Equal(t, hallstadt.Record.ID, got.Record.ID)
}

func TestGetOrCreate_ProvenanceAndCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.resolve(t, models.ResolveRequest{Name: "Köln", Country: "DE", Source: "crawler", SourceRef: "https://example.org/koeln", Categories: []string{"Großstadt"}})
	f.resolve(t, models.ResolveRequest{Name: "Koeln", Country: "DE", Source: "api:destatis", Categories: []string{"Grossstadt", "Domstadt"}})

	sources := f.store.Records().Sources(ctx, first.Record.ID)
	require.Len(t, sources, 2)
	assert.Equal(t, "crawler", sources[0].Source)
	assert.Equal(t, "api:destatis", sources[1].Source)

	assert.Len(t, f.store.Categories().Links(ctx, first.Record.ID), 2)
}

type captureSideEffects struct {
	mu      sync.Mutex
	created []string
	graph   []string
}

func (c *captureSideEffects) EmitRecordCreated(_ context.Context, rec *models.Record, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, rec.ID)
	return nil
}

func (c *captureSideEffects) UpsertRecord(_ context.Context, rec *models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graph = append(c.graph, rec.ID)
	return errors.New("graph unavailable")
}

func TestGetOrCreate_SideEffectsOnlyOnCreate(t *testing.T) {
	f := newFixture(t)
	fx := &captureSideEffects{}
	f.service.WithEmitter(fx).WithGraph(fx)

	created := f.resolve(t, models.ResolveRequest{Name: "Bamberg", Country: "DE"})
	f.resolve(t, models.ResolveRequest{Name: "Bamberg", Country: "DE"})

	assert.Equal(t, []string{created.Record.ID}, fx.created)
	assert.Equal(t, []string{created.Record.ID}, fx.graph, "graph failures are logged, not returned")
}

func TestGetOrCreate_StoresEmbedding(t *testing.T) {
	store := memory.NewStore()
	rt := &models.RecordType{Slug: "municipality", Name: "Municipality"}
	require.NoError(t, store.RecordTypes().Create(context.Background(), rt))

	engine := matching.NewEngine(testLogger(), staticEmbedder{}, nil, nil, matching.DefaultOptions())
	svc := NewService(testLogger(), store.Records(), store.RecordTypes(), engine, DefaultOptions())

	res, err := svc.GetOrCreate(context.Background(), models.ResolveRequest{TypeSlug: "municipality", Name: "Bamberg"})
	require.NoError(t, err)

	stored, err := store.Records().Get(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, stored.Embedding.Data)
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, texts ...string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestGetOrCreate_ConcurrentCallersConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "Köln"
			if i%2 == 1 {
				name = "Koeln"
			}
			res, err := f.service.GetOrCreate(ctx, models.ResolveRequest{TypeSlug: "municipality", Name: name, Country: "DE"})
			errs[i] = err
			if err == nil {
				ids[i] = res.Record.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var active int
	for _, rec := range f.store.Records().All(ctx) {
		if rec.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

// staleRecords serves stale normalized-name reads so that creates collide with a committed rival.
type staleRecords struct {
	*memory.Records
	rivals int
	stale  bool
}

func (r *staleRecords) GetByNormalizedName(ctx context.Context, typeID, nameNormalized string) (*models.Record, error) {
	rec, err := r.Records.GetByNormalizedName(ctx, typeID, nameNormalized)
	if err != nil {
		return nil, err
	}
	if rec == nil && r.rivals > 0 {
		r.rivals--
		rival := &models.Record{TypeID: typeID, Name: "Rival", NameNormalized: nameNormalized}
		if err := r.Records.Create(ctx, rival); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if r.stale {
		return nil, nil
	}
	return rec, nil
}

func TestGetOrCreate_LostRaceRefetchesWinner(t *testing.T) {
	store := memory.NewStore()
	rt := &models.RecordType{Slug: "organization", Name: "Organization"}
	require.NoError(t, store.RecordTypes().Create(context.Background(), rt))

	records := &staleRecords{Records: store.Records(), rivals: 1}
	engine := matching.NewEngine(testLogger(), nil, nil, nil, matching.DefaultOptions())
	svc := NewService(testLogger(), records, store.RecordTypes(), engine, DefaultOptions())

	res, err := svc.GetOrCreate(context.Background(), models.ResolveRequest{TypeSlug: "organization", Name: "Brose", SimilarityThreshold: 1.0})
	require.NoError(t, err)
	assert.Equal(t, models.ResolveOutcomeRaceLost, res.Outcome)
	assert.Equal(t, "Rival", res.Record.Name)
	assert.Len(t, store.Records().All(context.Background()), 1)
}

func TestGetOrCreate_GivesUpAfterMaxRetries(t *testing.T) {
	store := memory.NewStore()
	rt := &models.RecordType{Slug: "organization", Name: "Organization"}
	require.NoError(t, store.RecordTypes().Create(context.Background(), rt))
	require.NoError(t, store.Records().Create(context.Background(), &models.Record{TypeID: rt.ID, Name: "Brose", NameNormalized: "brose"}))

	records := &staleRecords{Records: store.Records(), stale: true}
	engine := matching.NewEngine(testLogger(), nil, nil, nil, matching.DefaultOptions())
	svc := NewService(testLogger(), records, store.RecordTypes(), engine, Options{MaxRaceRetries: 2})

	_, err := svc.GetOrCreate(context.Background(), models.ResolveRequest{TypeSlug: "organization", Name: "Brose", SimilarityThreshold: 1.0})
	assert.ErrorIs(t, err, ErrUniquenessRace)
}

func TestGetOrCreateBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	koln := f.resolve(t, models.ResolveRequest{Name: "Köln", Country: "DE"})

	items, err := f.service.GetOrCreateBatch(ctx, "municipality", []models.ResolveRequest{
		{Name: "Köln", Country: "DE"},
		{Name: "Koeln", Country: "DE"},
		{Name: "Hallstadt", Country: "DE"},
		{Name: "***", Country: "DE"},
		{Name: "Hallstadt", Country: "DE"},
	})
	require.NoError(t, err)
	require.Len(t, items, 5)

	assert.Equal(t, koln.Record.ID, items[0].Result.Record.ID)
	assert.Equal(t, koln.Record.ID, items[1].Result.Record.ID)
	assert.Equal(t, models.ResolveOutcomeExact, items[1].Result.Outcome)

	assert.Equal(t, models.ResolveOutcomeCreated, items[2].Result.Outcome)
	assert.ErrorIs(t, items[3].Err, ErrInvalidName)
	assert.NotEmpty(t, items[3].Error)
	assert.Equal(t, items[2].Result.Record.ID, items[4].Result.Record.ID)
	assert.Equal(t, models.ResolveOutcomeExact, items[4].Result.Outcome)
}

func TestGetOrCreateBatch_TypeNotFoundFailsCall(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetOrCreateBatch(context.Background(), "planet", []models.ResolveRequest{{Name: "Mars"}})
	assert.ErrorIs(t, err, ErrTypeNotFound)
}
