package merging

import (
	"fmt"
	"sort"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Registry maps each mergeable kind to its storage and the relations pointing at it.
type Registry struct {
	specs map[models.Kind]models.MergeSpec
}

// NewRegistry builds a registry from specs. A kind registered twice keeps the last spec.
func NewRegistry(specs ...models.MergeSpec) *Registry {
	r := &Registry{specs: make(map[models.Kind]models.MergeSpec, len(specs))}
	for _, s := range specs {
		r.specs[s.Kind] = s
	}
	return r
}

// Spec returns the spec of kind.
func (r *Registry) Spec(kind models.Kind) (models.MergeSpec, error) {
	s, ok := r.specs[kind]
	if !ok {
		return models.MergeSpec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s, nil
}

// Kinds lists the registered kinds in name order.
func (r *Registry) Kinds() []models.Kind {
	kinds := make([]models.Kind, 0, len(r.specs))
	for k := range r.specs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DefaultRegistry declares the kinds of the sorrel schema.
func DefaultRegistry() *Registry {
	return NewRegistry(
		models.MergeSpec{
			Kind:            models.KindRecord,
			Table:           "records",
			ArrayFields:     []string{"aliases"},
			AliasField:      "aliases",
			TouchColumn:     "updated_at",
			AttributesField: "attributes",
			Relations: []models.Relation{
				{Table: "records", Column: "parent_id", SelfReference: true},
				{Table: "record_sources", Column: "record_id"},
				{Table: "record_facets", Column: "record_id"},
				{Table: "record_categories", Column: "record_id", UniqueWith: []string{"category_id"}, OnConflict: models.ConflictDrop},
			},
		},
		models.MergeSpec{
			Kind:  models.KindRecordType,
			Table: "record_types",
			Relations: []models.Relation{
				{Table: "records", Column: "type_id", UniqueWith: []string{"name_normalized"}, OnConflict: models.ConflictMerge, MergeKind: models.KindRecord},
				{Table: "record_facets", Column: "facet_type_id"},
			},
		},
		models.MergeSpec{
			Kind:        models.KindCategory,
			Table:       "categories",
			ArrayFields: []string{"aliases"},
			AliasField:  "aliases",
			Relations: []models.Relation{
				{Table: "record_categories", Column: "category_id", UniqueWith: []string{"record_id"}, OnConflict: models.ConflictDrop},
			},
		},
	)
}
