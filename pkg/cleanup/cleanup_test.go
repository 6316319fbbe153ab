package cleanup

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/internal/repositories/memory"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/merging"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/scanner"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newMemoryJob(store *memory.Store) *Job {
	engine := matching.NewEngine(testLogger(), nil, nil, nil, matching.DefaultOptions())
	sc := scanner.New(testLogger(), store.Merge(), engine, scanner.DefaultOptions())
	return NewJob(testLogger(), sc, merging.NewEngine(testLogger(), store.Merge(), nil))
}

func TestRun_KolnScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rt := &models.RecordType{Slug: "municipality", Name: "Municipality"}
	require.NoError(t, store.RecordTypes().Create(ctx, rt))

	add := func(name string) *models.Record {
		rec := &models.Record{TypeID: rt.ID, Name: name, NameNormalized: normalizers.Normalize(name, "DE"), Country: "DE"}
		require.NoError(t, store.Records().Create(ctx, rec))
		require.NoError(t, store.Records().AddSource(ctx, &models.RecordSource{RecordID: rec.ID, Source: "crawler:" + name}))
		return rec
	}
	stadt := add("Stadt Köln")
	koeln := add("Koeln")
	add("Hallstadt")

	job := newMemoryJob(store)

	t.Run("dry run reports without writing", func(t *testing.T) {
		report, err := job.Run(ctx, Options{DryRun: true})
		require.NoError(t, err)

		assert.True(t, report.DryRun)
		assert.Equal(t, 1, report.Clusters)
		assert.Equal(t, 1, report.DuplicatesMerged)
		assert.Equal(t, int64(1), report.ReferencesReassigned)
		assert.Empty(t, report.Errors)
		require.Len(t, report.Kinds, len(models.AllKinds))

		stored, err := store.Records().Get(ctx, stadt.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive)
	})

	t.Run("run merges the cluster", func(t *testing.T) {
		report, err := job.Run(ctx, Options{Kinds: []models.Kind{models.KindRecord}})
		require.NoError(t, err)
		assert.Equal(t, 1, report.DuplicatesMerged)
		assert.Equal(t, int64(1), report.ReferencesReassigned)

		require.Len(t, report.Kinds, 1)
		require.Len(t, report.Kinds[0].Clusters, 1)
		cr := report.Kinds[0].Clusters[0]
		assert.Equal(t, koeln.ID, cr.CanonicalID)
		require.Len(t, cr.Merges, 1)
		assert.Equal(t, stadt.ID, cr.Merges[0].DuplicateID)

		var active []string
		for _, r := range store.Records().All(ctx) {
			if r.IsActive && r.TypeID == rt.ID && r.Country == "DE" && r.NameNormalized != "hallstadt" {
				active = append(active, r.ID)
			}
		}
		assert.Equal(t, []string{koeln.ID}, active)

		merged, err := store.Records().Get(ctx, stadt.ID)
		require.NoError(t, err)
		assert.False(t, merged.IsActive)
		require.NotNil(t, merged.MergedIntoID)
		assert.Equal(t, koeln.ID, *merged.MergedIntoID)
		assert.Len(t, store.Records().Sources(ctx, koeln.ID), 2)
	})

	t.Run("second run finds nothing", func(t *testing.T) {
		report, err := job.Run(ctx, Options{})
		require.NoError(t, err)
		assert.Zero(t, report.Clusters)
		assert.Zero(t, report.DuplicatesMerged)
	})
}

type fakeScanner struct {
	results map[models.Kind]*scanner.Result
	errs    map[models.Kind]error
}

func (f *fakeScanner) Scan(_ context.Context, kind models.Kind, _ models.ScanFilter) (*scanner.Result, error) {
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	if res, ok := f.results[kind]; ok {
		return res, nil
	}
	return &scanner.Result{Kind: kind}, nil
}

type fakeMerger struct {
	mu     sync.Mutex
	calls  [][2]string
	fail   map[string]error
	onCall func()
}

func (f *fakeMerger) Merge(_ context.Context, kind models.Kind, dup, canon string, dryRun bool) (*models.MergeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, [2]string{dup, canon})
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if err := f.fail[dup]; err != nil {
		return nil, err
	}
	return &models.MergeResult{
		Kind:        kind,
		DuplicateID: dup,
		CanonicalID: canon,
		DryRun:      dryRun,
		Reassigned:  map[string]int64{"record_sources.record_id": 2},
	}, nil
}

// twoClusters returns {a, a1, a2} with canonical "a" and {b, b1} with canonical "b".
func twoClusters() *scanner.Result {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	item := func(id, name string) models.ScanItem {
		return models.ScanItem{ID: id, Name: name, Country: "DE", CreatedAt: created}
	}
	pair := func(a, b string) models.DuplicateCandidate {
		return models.DuplicateCandidate{RecordA: a, RecordB: b, Score: 0.9, Reason: matching.ReasonFuzzy, Country: "DE"}
	}
	return &scanner.Result{
		Kind:       models.KindRecord,
		Scanned:    5,
		Candidates: []models.DuplicateCandidate{pair("a", "a1"), pair("a1", "a2"), pair("b", "b1")},
		Items: []models.ScanItem{
			item("a", "Ahorn"), item("a1", "Ahornn"), item("a2", "Ahornnn"),
			item("b", "Buch"), item("b1", "Buchh"),
		},
	}
}

func TestRun_CollectsErrors(t *testing.T) {
	sc := &fakeScanner{
		results: map[models.Kind]*scanner.Result{models.KindRecord: twoClusters()},
		errs:    map[models.Kind]error{models.KindCategory: errors.New("connection reset")},
	}
	mg := &fakeMerger{fail: map[string]error{"a1": merging.ErrMergeIntegrity}}

	report, err := NewJob(testLogger(), sc, mg).Run(context.Background(), Options{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Clusters)
	assert.Equal(t, 2, report.DuplicatesMerged)
	assert.Equal(t, int64(4), report.ReferencesReassigned)
	require.Len(t, report.Errors, 2)

	var kinds []models.Kind
	for _, e := range report.Errors {
		kinds = append(kinds, e.Kind)
		if e.Kind == models.KindRecord {
			assert.Equal(t, "a1", e.DuplicateID)
			assert.ErrorIs(t, e.Err, merging.ErrMergeIntegrity)
		}
	}
	assert.ElementsMatch(t, []models.Kind{models.KindCategory, models.KindRecord}, kinds)

	// a failed member does not stop the rest of its cluster
	assert.ElementsMatch(t, [][2]string{{"a1", "a"}, {"a2", "a"}, {"b1", "b"}}, mg.calls)
}

func TestRun_MembersOfOneClusterMergeInOrder(t *testing.T) {
	sc := &fakeScanner{results: map[models.Kind]*scanner.Result{models.KindRecord: twoClusters()}}
	mg := &fakeMerger{}

	_, err := NewJob(testLogger(), sc, mg).Run(context.Background(), Options{Kinds: []models.Kind{models.KindRecord}, Workers: 1})
	require.NoError(t, err)

	var intoA [][2]string
	for _, c := range mg.calls {
		if c[1] == "a" {
			intoA = append(intoA, c)
		}
	}
	assert.Equal(t, [][2]string{{"a1", "a"}, {"a2", "a"}}, intoA)
	assert.Len(t, mg.calls, 3)
}

func TestRun_CancelledBetweenClusters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &fakeScanner{results: map[models.Kind]*scanner.Result{models.KindRecord: twoClusters()}}
	mg := &fakeMerger{onCall: cancel}

	report, err := NewJob(testLogger(), sc, mg).Run(ctx, Options{Kinds: []models.Kind{models.KindRecord}, Workers: 1})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, report.Clusters)
	require.Len(t, report.Kinds[0].Clusters, 2)

	started := report.Kinds[0].Clusters[0]
	assert.False(t, started.Skipped)
	assert.Len(t, started.Merges, len(started.Members)-1, "the started cluster finishes")
	assert.Equal(t, len(started.Merges), report.DuplicatesMerged)
	assert.True(t, report.Kinds[0].Clusters[1].Skipped)
}

func TestReport_Print(t *testing.T) {
	sc := &fakeScanner{results: map[models.Kind]*scanner.Result{models.KindRecord: twoClusters()}}
	mg := &fakeMerger{fail: map[string]error{"b1": errors.New("boom")}}

	report, err := NewJob(testLogger(), sc, mg).Run(context.Background(), Options{Kinds: []models.Kind{models.KindRecord}, DryRun: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.Print(&buf, true))
	out := buf.String()

	assert.Contains(t, out, "Cleanup report (dry run)")
	assert.Contains(t, out, "Ahorn")
	assert.Contains(t, out, "<- Ahornn")
	assert.Contains(t, out, "record_sources.record_id=2")
	assert.Contains(t, out, "Would merge:")
	assert.Contains(t, out, "boom")
}
