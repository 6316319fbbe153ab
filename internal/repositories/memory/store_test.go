package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func seedType(t *testing.T, s *Store, slug string) *models.RecordType {
	t.Helper()
	rt := &models.RecordType{Slug: slug, Name: slug}
	require.NoError(t, s.RecordTypes().Create(context.Background(), rt))
	return rt
}

func seedRecord(t *testing.T, s *Store, typeID, name, normalized string) *models.Record {
	t.Helper()
	rec := &models.Record{TypeID: typeID, Name: name, NameNormalized: normalized, Country: "DE"}
	require.NoError(t, s.Records().Create(context.Background(), rec))
	return rec
}

func TestRecords_CreateEnforcesActiveUniqueName(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rt := seedType(t, s, "municipality")

	first := seedRecord(t, s, rt.ID, "Köln", "koln")

	err := s.Records().Create(ctx, &models.Record{TypeID: rt.ID, Name: "Koeln", NameNormalized: "koln"})
	assert.True(t, database.IsUniqueViolation(err))

	require.NoError(t, s.Merge().Deactivate(ctx, models.MergeSpec{Table: "records"}, first.ID, first.ID))
	assert.NoError(t, s.Records().Create(ctx, &models.Record{TypeID: rt.ID, Name: "Koeln", NameNormalized: "koln"}))
}

func TestRecords_LookupsReturnNilWhenMissing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	rec, err := s.Records().Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = s.Records().GetByNormalizedName(ctx, "type", "koln")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rt, err := s.RecordTypes().GetBySlug(ctx, "municipality")
	require.NoError(t, err)
	assert.Nil(t, rt)
}

func TestRecords_FindBySubstringOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rt := seedType(t, s, "municipality")

	a := seedRecord(t, s, rt.ID, "Buttenheim", "buttenheim")
	b := seedRecord(t, s, rt.ID, "Markt Buttenheim", "marktbuttenheim")
	seedRecord(t, s, rt.ID, "Litzendorf", "litzendorf")

	got, err := s.Records().FindBySubstring(ctx, rt.ID, "buttenheim", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)

	got, err = s.Records().FindBySubstring(ctx, rt.ID, "buttenheim", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rt := seedType(t, s, "municipality")

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Records().Create(ctx, &models.Record{TypeID: rt.ID, Name: "Bamberg", NameNormalized: "bamberg"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := s.Records().GetByNormalizedName(ctx, rt.ID, "bamberg")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_NestedWithinTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rt := seedType(t, s, "municipality")

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		inner := s.WithinTx(ctx, func(ctx context.Context) error {
			return s.Records().Create(ctx, &models.Record{TypeID: rt.ID, Name: "Hallstadt", NameNormalized: "hallstadt"})
		})
		require.NoError(t, inner)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Records().All(ctx))
}

func TestMerge_DropConflictsAndReassignLinks(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rt := seedType(t, s, "municipality")
	dup := seedRecord(t, s, rt.ID, "Koeln", "koeln")
	canon := seedRecord(t, s, rt.ID, "Köln", "koln")

	shared, err := s.Categories().GetOrCreate(ctx, "Großstadt")
	require.NoError(t, err)
	only, err := s.Categories().GetOrCreate(ctx, "Domstadt")
	require.NoError(t, err)
	require.NoError(t, s.Categories().Link(ctx, dup.ID, shared.ID))
	require.NoError(t, s.Categories().Link(ctx, dup.ID, only.ID))
	require.NoError(t, s.Categories().Link(ctx, canon.ID, shared.ID))

	rel := models.Relation{Table: "record_categories", Column: "record_id", UniqueWith: []string{"category_id"}, OnConflict: models.ConflictDrop}

	count, err := s.Merge().CountReferences(ctx, rel, dup.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	dropped, err := s.Merge().DropConflicts(ctx, rel, dup.ID, canon.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dropped)

	moved, err := s.Merge().Reassign(ctx, rel, dup.ID, canon.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)

	assert.Empty(t, s.Categories().Links(ctx, dup.ID))
	assert.Len(t, s.Categories().Links(ctx, canon.ID), 2)
}

func TestMerge_SelfReferenceClearsCanonicalPointer(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rt := seedType(t, s, "municipality")
	dup := seedRecord(t, s, rt.ID, "Bamberg (Landkreis)", "bamberglandkreis")
	canon := &models.Record{TypeID: rt.ID, Name: "Landkreis Bamberg", NameNormalized: "landkreisbamberg", ParentID: &dup.ID}
	require.NoError(t, s.Records().Create(ctx, canon))
	child := &models.Record{TypeID: rt.ID, Name: "Litzendorf", NameNormalized: "litzendorf", ParentID: &dup.ID}
	require.NoError(t, s.Records().Create(ctx, child))

	rel := models.Relation{Table: "records", Column: "parent_id", SelfReference: true}

	dropped, err := s.Merge().DropConflicts(ctx, rel, dup.ID, canon.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dropped)

	moved, err := s.Merge().Reassign(ctx, rel, dup.ID, canon.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)

	got, err := s.Records().Get(ctx, canon.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)

	got, err = s.Records().Get(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, canon.ID, *got.ParentID)
}

func TestMerge_FindCollisionsAndReassignViolation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	from := seedType(t, s, "gemeinde")
	to := seedType(t, s, "municipality")
	clash := seedRecord(t, s, from.ID, "Bamberg", "bamberg")
	twin := seedRecord(t, s, to.ID, "Bamberg", "bamberg")
	seedRecord(t, s, from.ID, "Hallstadt", "hallstadt")

	rel := models.Relation{Table: "records", Column: "type_id", UniqueWith: []string{"name_normalized"}, OnConflict: models.ConflictMerge}

	collisions, err := s.Merge().FindCollisions(ctx, rel, from.ID, to.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Collision{{RowID: clash.ID, TwinID: twin.ID}}, collisions)

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.Merge().Reassign(ctx, rel, from.ID, to.ID)
		return err
	})
	assert.True(t, database.IsUniqueViolation(err))

	got, err := s.Records().Get(ctx, clash.ID)
	require.NoError(t, err)
	assert.Equal(t, from.ID, got.TypeID)
}

func TestMerge_UnionArraysAddsDuplicateName(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rt := seedType(t, s, "municipality")
	dup := &models.Record{TypeID: rt.ID, Name: "Koeln", NameNormalized: "koeln", Aliases: []string{"Cologne", "Köln"}}
	require.NoError(t, s.Records().Create(ctx, dup))
	canon := &models.Record{TypeID: rt.ID, Name: "Köln", NameNormalized: "koln", Aliases: []string{"Colonia"}}
	require.NoError(t, s.Records().Create(ctx, canon))

	spec := models.MergeSpec{Table: "records", ArrayFields: []string{"aliases"}, AliasField: "aliases", TouchColumn: "updated_at"}
	require.NoError(t, s.Merge().UnionArrays(ctx, spec, dup.ID, canon.ID))

	got, err := s.Records().Get(ctx, canon.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cologne", "Colonia", "Koeln"}, []string(got.Aliases))
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestMerge_ListScanItemsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	muni := seedType(t, s, "municipality")
	org := seedType(t, s, "organization")
	a := seedRecord(t, s, muni.ID, "Bamberg", "bamberg")
	at := &models.Record{TypeID: muni.ID, Name: "Wien", NameNormalized: "wien", Country: "AT"}
	require.NoError(t, s.Records().Create(ctx, at))
	seedRecord(t, s, org.ID, "Brose", "brose")

	items, err := s.Merge().ListScanItems(ctx, models.KindRecord, models.ScanFilter{TypeSlug: "municipality", Country: "DE"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	items, err = s.Merge().ListScanItems(ctx, models.KindRecordType, models.ScanFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = s.Merge().ListScanItems(ctx, models.Kind("bogus"), models.ScanFilter{})
	assert.Error(t, err)
}
