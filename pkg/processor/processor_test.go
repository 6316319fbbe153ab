package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/internal/repositories/memory"
	reqctx "github.com/Ramsey-B/sorrel/pkg/context"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/resolution"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func importMessage(t *testing.T, value string) *kafka.IncomingMessage {
	t.Helper()
	msg := &kafka.IncomingMessage{Key: "crawl-42", Topic: "record-imports", Value: []byte(value)}
	require.NoError(t, msg.ParseImport())
	return msg
}

func TestProcess_ResolvesThroughMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.RecordTypes().Create(ctx, &models.RecordType{Slug: "municipality", Name: "Municipality"}))
	require.NoError(t, store.RecordTypes().Create(ctx, &models.RecordType{Slug: "organization", Name: "Organization"}))

	engine := matching.NewEngine(testLogger(), nil, nil, nil, matching.DefaultOptions())
	svc := resolution.NewService(testLogger(), store.Records(), store.RecordTypes(), engine, resolution.DefaultOptions())
	p := NewProcessor(testLogger(), svc)

	msg := importMessage(t, `{
		"source": "crawler",
		"records": [
			{"type": "municipality", "name": "Stadt Köln", "country": "DE"},
			{"type": "organization", "name": "Erzbistum Köln", "country": "DE"},
			{"type": "municipality", "name": "Koeln", "country": "DE"},
			{"type": "parish", "name": "St. Martin"},
			{"type": "municipality", "name": "---", "country": "DE"}
		]
	}`)

	summary, err := p.Process(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Records: 5, Created: 2, Matched: 1, Failed: 1, UnknownType: 1}, summary)

	var active int
	for _, r := range store.Records().All(ctx) {
		if r.IsActive {
			active++
			sources := store.Records().Sources(ctx, r.ID)
			require.NotEmpty(t, sources)
			assert.Equal(t, "crawler", sources[0].Source)
		}
	}
	assert.Equal(t, 2, active)
}

type fakeResolver struct {
	calls []string
	err   error
}

func (f *fakeResolver) GetOrCreateBatch(ctx context.Context, typeSlug string, reqs []models.ResolveRequest) ([]models.BatchResolveItem, error) {
	f.calls = append(f.calls, typeSlug+":"+reqctx.GetSource(ctx))
	if f.err != nil {
		return nil, f.err
	}
	items := make([]models.BatchResolveItem, len(reqs))
	for i := range reqs {
		items[i] = models.BatchResolveItem{Result: &models.ResolveResult{Outcome: models.ResolveOutcomeCreated}}
	}
	return items, nil
}

func TestProcess_GroupsByTypeInOrder(t *testing.T) {
	r := &fakeResolver{}
	msg := importMessage(t, `{"source": "api:destatis", "records": [
		{"type": "b", "name": "x"}, {"type": "a", "name": "y"}, {"type": "b", "name": "z"}
	]}`)

	summary, err := NewProcessor(testLogger(), r).Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"b:api:destatis", "a:api:destatis"}, r.calls)
	assert.Equal(t, 3, summary.Created)
}

func TestProcessMessage_StorageErrorIsReturned(t *testing.T) {
	boom := errors.New("connection refused")
	msg := importMessage(t, `{"type": "municipality", "name": "Bamberg"}`)

	err := NewProcessor(testLogger(), &fakeResolver{err: boom}).ProcessMessage(context.Background(), msg)
	assert.ErrorIs(t, err, boom)
}

func TestGroupByType(t *testing.T) {
	groups := groupByType([]models.ResolveRequest{
		{TypeSlug: "a", Name: "1"}, {TypeSlug: "b", Name: "2"}, {TypeSlug: "a", Name: "3"},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].typeSlug)
	assert.Len(t, groups[0].records, 2)
	assert.Equal(t, "b", groups[1].typeSlug)
}
