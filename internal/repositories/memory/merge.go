package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Merge is the merge repository view of a Store. Relations are resolved by table and column name
// against the tables the store holds.
type Merge struct {
	s *Store
}

// Merge returns the merge repository view.
func (s *Store) Merge() *Merge {
	return &Merge{s: s}
}

// row adapts one stored row to column access by name. Nullable columns read as "".
type row struct {
	key    string
	active bool
	get    func(col string) string
	set    func(col, val string)
	remove func()
}

func (st *state) rows(table string) ([]row, error) {
	var rows []row
	switch table {
	case "records":
		for id, rec := range st.records {
			rec := rec
			rows = append(rows, row{
				key:    id,
				active: rec.IsActive,
				get: func(col string) string {
					switch col {
					case "id":
						return rec.ID
					case "type_id":
						return rec.TypeID
					case "parent_id":
						return deref(rec.ParentID)
					case "name_normalized":
						return rec.NameNormalized
					}
					return ""
				},
				set: func(col, val string) {
					switch col {
					case "type_id":
						rec.TypeID = val
					case "parent_id":
						rec.ParentID = nullable(val)
					}
				},
				remove: func() { delete(st.records, id) },
			})
		}
	case "record_sources":
		for id, src := range st.sources {
			src := src
			rows = append(rows, row{
				key:    id,
				active: true,
				get: func(col string) string {
					if col == "record_id" {
						return src.RecordID
					}
					return ""
				},
				set: func(col, val string) {
					if col == "record_id" {
						src.RecordID = val
					}
				},
				remove: func() { delete(st.sources, id) },
			})
		}
	case "record_facets":
		for id, f := range st.facets {
			f := f
			rows = append(rows, row{
				key:    id,
				active: true,
				get: func(col string) string {
					switch col {
					case "record_id":
						return f.RecordID
					case "facet_type_id":
						return f.FacetTypeID
					case "value":
						return f.Value
					}
					return ""
				},
				set: func(col, val string) {
					switch col {
					case "record_id":
						f.RecordID = val
					case "facet_type_id":
						f.FacetTypeID = val
					}
				},
				remove: func() { delete(st.facets, id) },
			})
		}
	case "record_categories":
		for key, l := range st.links {
			l := l
			rows = append(rows, row{
				key:    key,
				active: true,
				get: func(col string) string {
					switch col {
					case "record_id":
						return l.RecordID
					case "category_id":
						return l.CategoryID
					}
					return ""
				},
				set: func(col, val string) {
					switch col {
					case "record_id":
						l.RecordID = val
					case "category_id":
						l.CategoryID = val
					}
				},
				remove: func() { delete(st.links, key) },
			})
		}
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	return rows, nil
}

// checkConstraints re-validates the unique indexes a relation update can break.
func (st *state) checkConstraints(table string) error {
	switch table {
	case "records":
		seen := map[string]struct{}{}
		for _, rec := range st.records {
			if !rec.IsActive {
				continue
			}
			k := rec.TypeID + "|" + rec.NameNormalized
			if _, dup := seen[k]; dup {
				return fmt.Errorf("records (type_id, name_normalized) %s: %w", k, database.ErrUniqueViolation)
			}
			seen[k] = struct{}{}
		}
	case "record_categories":
		rekeyed := make(map[string]*models.RecordCategory, len(st.links))
		for _, l := range st.links {
			k := linkKey(l.RecordID, l.CategoryID)
			if _, dup := rekeyed[k]; dup {
				return fmt.Errorf("record_categories %s: %w", k, database.ErrUniqueViolation)
			}
			rekeyed[k] = l
		}
		st.links = rekeyed
	}
	return nil
}

func (m *Merge) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.s.WithinTx(ctx, fn)
}

func (m *Merge) GetEntity(ctx context.Context, spec models.MergeSpec, id string) (*models.MergeEntity, error) {
	defer m.s.lock(ctx)()
	return m.s.state.entity(spec, id)
}

// LockEntity behaves like GetEntity; the transaction already holds the store mutex.
func (m *Merge) LockEntity(ctx context.Context, spec models.MergeSpec, id string) (*models.MergeEntity, error) {
	defer m.s.lock(ctx)()
	return m.s.state.entity(spec, id)
}

func (st *state) entity(spec models.MergeSpec, id string) (*models.MergeEntity, error) {
	switch spec.Table {
	case "records":
		if rec, ok := st.records[id]; ok {
			return &models.MergeEntity{ID: rec.ID, Name: rec.Name, IsActive: rec.IsActive, MergedIntoID: rec.MergedIntoID}, nil
		}
	case "record_types":
		if rt, ok := st.types[id]; ok {
			return &models.MergeEntity{ID: rt.ID, Name: rt.Name, IsActive: rt.IsActive, MergedIntoID: rt.MergedIntoID}, nil
		}
	case "categories":
		if c, ok := st.categories[id]; ok {
			return &models.MergeEntity{ID: c.ID, Name: c.Name, IsActive: c.IsActive, MergedIntoID: c.MergedIntoID}, nil
		}
	default:
		return nil, fmt.Errorf("unknown table %q", spec.Table)
	}
	return nil, nil
}

func (m *Merge) CountReferences(ctx context.Context, rel models.Relation, id string) (int64, error) {
	defer m.s.lock(ctx)()

	rows, err := m.s.state.rows(rel.Table)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range rows {
		if r.get(rel.Column) == id {
			n++
		}
	}
	return n, nil
}

func (m *Merge) DropConflicts(ctx context.Context, rel models.Relation, fromID, toID string) (int64, error) {
	defer m.s.lock(ctx)()

	rows, err := m.s.state.rows(rel.Table)
	if err != nil {
		return 0, err
	}

	var n int64
	switch {
	case rel.SelfReference:
		for _, r := range rows {
			if r.key == toID && r.get(rel.Column) == fromID {
				r.set(rel.Column, "")
				n++
			}
		}
	case rel.OnConflict == models.ConflictDrop && len(rel.UniqueWith) > 0:
		for _, d := range rows {
			if d.get(rel.Column) != fromID {
				continue
			}
			for _, c := range rows {
				if c.get(rel.Column) == toID && sameKey(c, d, rel.UniqueWith) {
					d.remove()
					n++
					break
				}
			}
		}
	}
	return n, nil
}

func (m *Merge) FindCollisions(ctx context.Context, rel models.Relation, fromID, toID string) ([]models.Collision, error) {
	defer m.s.lock(ctx)()

	if len(rel.UniqueWith) == 0 {
		return nil, nil
	}
	rows, err := m.s.state.rows(rel.Table)
	if err != nil {
		return nil, err
	}

	var out []models.Collision
	for _, d := range rows {
		if !d.active || d.get(rel.Column) != fromID {
			continue
		}
		for _, c := range rows {
			if c.active && c.get(rel.Column) == toID && sameKey(c, d, rel.UniqueWith) {
				out = append(out, models.Collision{RowID: d.key, TwinID: c.key})
			}
		}
	}
	return out, nil
}

func (m *Merge) Reassign(ctx context.Context, rel models.Relation, fromID, toID string) (int64, error) {
	defer m.s.lock(ctx)()

	rows, err := m.s.state.rows(rel.Table)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range rows {
		if r.get(rel.Column) == fromID {
			r.set(rel.Column, toID)
			n++
		}
	}
	if err := m.s.state.checkConstraints(rel.Table); err != nil {
		return 0, fmt.Errorf("failed to reassign %s: %w", rel.Name(), err)
	}
	return n, nil
}

func (m *Merge) UnionArrays(ctx context.Context, spec models.MergeSpec, fromID, toID string) error {
	defer m.s.lock(ctx)()

	if len(spec.ArrayFields) == 0 {
		return nil
	}

	var (
		canonicalName, duplicateName string
		canonical, duplicate         *[]string
		touch                        func(time.Time)
	)
	switch spec.Table {
	case "records":
		c, d := m.s.state.records[toID], m.s.state.records[fromID]
		if c == nil || d == nil {
			return nil
		}
		canonicalName, duplicateName = c.Name, d.Name
		canonical, duplicate = (*[]string)(&c.Aliases), (*[]string)(&d.Aliases)
		touch = func(t time.Time) { c.UpdatedAt = t }
	case "categories":
		c, d := m.s.state.categories[toID], m.s.state.categories[fromID]
		if c == nil || d == nil {
			return nil
		}
		canonicalName, duplicateName = c.Name, d.Name
		canonical, duplicate = (*[]string)(&c.Aliases), (*[]string)(&d.Aliases)
	default:
		return fmt.Errorf("table %q has no array fields", spec.Table)
	}

	merged := append(append([]string{}, *canonical...), *duplicate...)
	if spec.AliasField != "" {
		merged = append(merged, duplicateName)
	}
	*canonical = distinctSorted(merged, canonicalName)

	if spec.TouchColumn != "" && touch != nil {
		touch(m.s.now())
	}
	return nil
}

func (m *Merge) GetAttributes(ctx context.Context, spec models.MergeSpec, id string) (map[string]any, error) {
	defer m.s.lock(ctx)()

	if spec.AttributesField == "" {
		return nil, nil
	}
	if spec.Table != "records" {
		return nil, fmt.Errorf("table %q has no attributes", spec.Table)
	}
	rec, ok := m.s.state.records[id]
	if !ok {
		return nil, nil
	}
	return copyAttributes(rec.Attributes.Data), nil
}

func (m *Merge) SetAttributes(ctx context.Context, spec models.MergeSpec, id string, attrs map[string]any) error {
	defer m.s.lock(ctx)()

	if spec.AttributesField == "" {
		return nil
	}
	if spec.Table != "records" {
		return fmt.Errorf("table %q has no attributes", spec.Table)
	}
	if rec, ok := m.s.state.records[id]; ok {
		rec.Attributes = database.NewJSONB(copyAttributes(attrs))
	}
	return nil
}

func (m *Merge) Deactivate(ctx context.Context, spec models.MergeSpec, id, mergedIntoID string) error {
	defer m.s.lock(ctx)()

	switch spec.Table {
	case "records":
		if rec, ok := m.s.state.records[id]; ok {
			rec.IsActive = false
			rec.MergedIntoID = strPtr(mergedIntoID)
			rec.UpdatedAt = m.s.now()
		}
	case "record_types":
		if rt, ok := m.s.state.types[id]; ok {
			rt.IsActive = false
			rt.MergedIntoID = strPtr(mergedIntoID)
		}
	case "categories":
		if c, ok := m.s.state.categories[id]; ok {
			c.IsActive = false
			c.MergedIntoID = strPtr(mergedIntoID)
		}
	default:
		return fmt.Errorf("unknown table %q", spec.Table)
	}
	return nil
}

func (m *Merge) ListScanItems(ctx context.Context, kind models.Kind, filter models.ScanFilter) ([]models.ScanItem, error) {
	defer m.s.lock(ctx)()

	var items []models.ScanItem
	switch kind {
	case models.KindRecord:
		typeID := ""
		if filter.TypeSlug != "" {
			for _, rt := range m.s.state.types {
				if rt.IsActive && rt.Slug == filter.TypeSlug {
					typeID = rt.ID
				}
			}
			if typeID == "" {
				return nil, nil
			}
		}
		for _, rec := range m.s.state.sortedRecords() {
			if !rec.IsActive || (typeID != "" && rec.TypeID != typeID) || (filter.Country != "" && rec.Country != filter.Country) {
				continue
			}
			items = append(items, models.ScanItem{
				ID: rec.ID, Name: rec.Name, TypeID: rec.TypeID, Country: rec.Country,
				Latitude: rec.Latitude, Longitude: rec.Longitude, CreatedAt: rec.CreatedAt,
			})
		}
	case models.KindRecordType:
		for _, rt := range m.s.state.types {
			if rt.IsActive {
				items = append(items, models.ScanItem{ID: rt.ID, Name: rt.Name, CreatedAt: rt.CreatedAt})
			}
		}
	case models.KindCategory:
		for _, c := range m.s.state.categories {
			if c.IsActive {
				items = append(items, models.ScanItem{ID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt})
			}
		}
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func sameKey(a, b row, cols []string) bool {
	for _, c := range cols {
		if a.get(c) != b.get(c) {
			return false
		}
	}
	return true
}

func distinctSorted(values []string, exclude string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || v == exclude {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
