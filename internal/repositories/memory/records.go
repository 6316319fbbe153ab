package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
)

// Records is the record repository view of a Store.
type Records struct {
	s *Store
}

// Records returns the record repository view.
func (s *Store) Records() *Records {
	return &Records{s: s}
}

func (r *Records) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.s.WithinTx(ctx, fn)
}

// Create inserts a record, failing with database.ErrUniqueViolation when an active record of the
// same type already has the normalized name.
func (r *Records) Create(ctx context.Context, rec *models.Record) error {
	defer r.s.lock(ctx)()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, exists := r.s.state.records[rec.ID]; exists {
		return fmt.Errorf("record id %s: %w", rec.ID, database.ErrUniqueViolation)
	}
	if r.s.state.activeRecord(rec.TypeID, rec.NameNormalized) != nil {
		return fmt.Errorf("record %q of type %s: %w", rec.NameNormalized, rec.TypeID, database.ErrUniqueViolation)
	}

	now := r.s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.IsActive = true
	if rec.Aliases == nil {
		rec.Aliases = []string{}
	}
	r.s.state.records[rec.ID] = copyRecord(rec)
	return nil
}

func (r *Records) AddSource(ctx context.Context, src *models.RecordSource) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.state.records[src.RecordID]; !ok {
		return fmt.Errorf("record source: unknown record %s", src.RecordID)
	}
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	src.CreatedAt = r.s.now()
	c := *src
	r.s.state.sources[src.ID] = &c
	return nil
}

func (r *Records) UpdateEmbedding(ctx context.Context, id string, vector []float32) error {
	defer r.s.lock(ctx)()

	rec, ok := r.s.state.records[id]
	if !ok {
		return nil
	}
	rec.Embedding = database.NewJSONB(append([]float32{}, vector...))
	rec.UpdatedAt = r.s.now()
	return nil
}

func (r *Records) Get(ctx context.Context, id string) (*models.Record, error) {
	defer r.s.lock(ctx)()

	rec, ok := r.s.state.records[id]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (r *Records) GetByExternalID(ctx context.Context, typeID, externalID string) (*models.Record, error) {
	defer r.s.lock(ctx)()

	for _, rec := range r.s.state.sortedRecords() {
		if rec.IsActive && rec.TypeID == typeID && rec.ExternalID != nil && *rec.ExternalID == externalID {
			return copyRecord(rec), nil
		}
	}
	return nil, nil
}

func (r *Records) GetByNormalizedName(ctx context.Context, typeID, nameNormalized string) (*models.Record, error) {
	defer r.s.lock(ctx)()

	if rec := r.s.state.activeRecord(typeID, nameNormalized); rec != nil {
		return copyRecord(rec), nil
	}
	return nil, nil
}

func (r *Records) GetByNormalizedNames(ctx context.Context, typeID string, names []string) ([]models.Record, error) {
	defer r.s.lock(ctx)()

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	var out []models.Record
	for _, rec := range r.s.state.sortedRecords() {
		if _, ok := wanted[rec.NameNormalized]; ok && rec.IsActive && rec.TypeID == typeID {
			out = append(out, *copyRecord(rec))
		}
	}
	return out, nil
}

func (r *Records) FindBySubstring(ctx context.Context, typeID, fragment string, limit int) ([]models.Record, error) {
	defer r.s.lock(ctx)()

	var out []models.Record
	for _, rec := range r.s.state.sortedRecords() {
		if !rec.IsActive || rec.TypeID != typeID || !strings.Contains(rec.NameNormalized, fragment) {
			continue
		}
		out = append(out, *copyRecord(rec))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Records) ListCandidates(ctx context.Context, typeID, country string, limit int) ([]models.Record, error) {
	defer r.s.lock(ctx)()

	var out []models.Record
	for _, rec := range r.s.state.sortedRecords() {
		if !rec.IsActive || rec.TypeID != typeID || (country != "" && rec.Country != country) {
			continue
		}
		out = append(out, *copyRecord(rec))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Sources lists the provenance rows of a record.
func (r *Records) Sources(ctx context.Context, recordID string) []models.RecordSource {
	defer r.s.lock(ctx)()

	var out []models.RecordSource
	for _, src := range r.s.state.sources {
		if src.RecordID == recordID {
			out = append(out, *src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AddFacet attaches a facet value to a record.
func (r *Records) AddFacet(ctx context.Context, f *models.RecordFacet) error {
	defer r.s.lock(ctx)()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = r.s.now()
	c := *f
	r.s.state.facets[f.ID] = &c
	return nil
}

// Facets lists the facet rows of a record.
func (r *Records) Facets(ctx context.Context, recordID string) []models.RecordFacet {
	defer r.s.lock(ctx)()

	var out []models.RecordFacet
	for _, f := range r.s.state.facets {
		if f.RecordID == recordID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// All returns every record, active or not, oldest first.
func (r *Records) All(ctx context.Context) []models.Record {
	defer r.s.lock(ctx)()

	var out []models.Record
	for _, rec := range r.s.state.sortedRecords() {
		out = append(out, *copyRecord(rec))
	}
	return out
}

func (st *state) activeRecord(typeID, nameNormalized string) *models.Record {
	for _, rec := range st.records {
		if rec.IsActive && rec.TypeID == typeID && rec.NameNormalized == nameNormalized {
			return rec
		}
	}
	return nil
}

func (st *state) sortedRecords() []*models.Record {
	out := make([]*models.Record, 0, len(st.records))
	for _, rec := range st.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RecordTypes is the record type repository view of a Store.
type RecordTypes struct {
	s *Store
}

// RecordTypes returns the record type repository view.
func (s *Store) RecordTypes() *RecordTypes {
	return &RecordTypes{s: s}
}

func (r *RecordTypes) Create(ctx context.Context, rt *models.RecordType) error {
	defer r.s.lock(ctx)()

	for _, existing := range r.s.state.types {
		if existing.IsActive && existing.Slug == rt.Slug {
			return fmt.Errorf("record type %q: %w", rt.Slug, database.ErrUniqueViolation)
		}
	}
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	rt.NameNormalized = normalizers.Normalize(rt.Name, "")
	rt.IsActive = true
	rt.CreatedAt = r.s.now()
	c := *rt
	r.s.state.types[rt.ID] = &c
	return nil
}

func (r *RecordTypes) GetBySlug(ctx context.Context, slug string) (*models.RecordType, error) {
	defer r.s.lock(ctx)()

	for _, rt := range r.s.state.types {
		if rt.IsActive && rt.Slug == slug {
			c := *rt
			return &c, nil
		}
	}
	return nil, nil
}

func (r *RecordTypes) List(ctx context.Context) ([]models.RecordType, error) {
	defer r.s.lock(ctx)()

	var out []models.RecordType
	for _, rt := range r.s.state.types {
		if rt.IsActive {
			out = append(out, *rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Get returns a record type by id, active or not.
func (r *RecordTypes) Get(ctx context.Context, id string) *models.RecordType {
	defer r.s.lock(ctx)()

	rt, ok := r.s.state.types[id]
	if !ok {
		return nil
	}
	c := *rt
	return &c
}

// Categories is the category repository view of a Store.
type Categories struct {
	s *Store
}

// Categories returns the category repository view.
func (s *Store) Categories() *Categories {
	return &Categories{s: s}
}

func (r *Categories) GetOrCreate(ctx context.Context, name string) (*models.Category, error) {
	defer r.s.lock(ctx)()

	normalized := normalizers.Normalize(name, "")
	for _, c := range r.s.state.categories {
		if c.IsActive && c.NameNormalized == normalized {
			return copyCategory(c), nil
		}
	}

	c := &models.Category{
		ID:             uuid.New().String(),
		Slug:           normalizers.Slug(name, ""),
		Name:           name,
		NameNormalized: normalized,
		Aliases:        []string{},
		IsActive:       true,
		CreatedAt:      r.s.now(),
	}
	r.s.state.categories[c.ID] = c
	return copyCategory(c), nil
}

func (r *Categories) Link(ctx context.Context, recordID, categoryID string) error {
	defer r.s.lock(ctx)()

	key := linkKey(recordID, categoryID)
	if _, ok := r.s.state.links[key]; ok {
		return nil
	}
	r.s.state.links[key] = &models.RecordCategory{RecordID: recordID, CategoryID: categoryID, CreatedAt: r.s.now()}
	return nil
}

// Get returns a category by id, active or not.
func (r *Categories) Get(ctx context.Context, id string) *models.Category {
	defer r.s.lock(ctx)()

	c, ok := r.s.state.categories[id]
	if !ok {
		return nil
	}
	return copyCategory(c)
}

// Links lists the category links of a record.
func (r *Categories) Links(ctx context.Context, recordID string) []models.RecordCategory {
	defer r.s.lock(ctx)()

	var out []models.RecordCategory
	for _, l := range r.s.state.links {
		if l.RecordID == recordID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out
}

func linkKey(recordID, categoryID string) string {
	return recordID + "|" + categoryID
}
