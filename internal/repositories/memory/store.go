// Package memory is an in-process implementation of the record, record type, category and merge
// repositories. It emulates the partial unique indexes of the Postgres schema and gives WithinTx
// snapshot/rollback semantics, so services can be unit tested without a database.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

type txMarker struct{ store *Store }

// Store holds all tables behind one mutex. A transaction holds the mutex until it finishes, so
// concurrent writers are serialized the way row locks would serialize them.
type Store struct {
	mu    sync.Mutex
	state state
	tick  int64
	epoch time.Time
}

type state struct {
	records    map[string]*models.Record
	types      map[string]*models.RecordType
	categories map[string]*models.Category
	sources    map[string]*models.RecordSource
	facets     map[string]*models.RecordFacet
	links      map[string]*models.RecordCategory
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		state: state{
			records:    map[string]*models.Record{},
			types:      map[string]*models.RecordType{},
			categories: map[string]*models.Category{},
			sources:    map[string]*models.RecordSource{},
			facets:     map[string]*models.RecordFacet{},
			links:      map[string]*models.RecordCategory{},
		},
		epoch: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s state) clone() state {
	c := state{
		records:    make(map[string]*models.Record, len(s.records)),
		types:      make(map[string]*models.RecordType, len(s.types)),
		categories: make(map[string]*models.Category, len(s.categories)),
		sources:    make(map[string]*models.RecordSource, len(s.sources)),
		facets:     make(map[string]*models.RecordFacet, len(s.facets)),
		links:      make(map[string]*models.RecordCategory, len(s.links)),
	}
	for k, v := range s.records {
		c.records[k] = copyRecord(v)
	}
	for k, v := range s.types {
		t := *v
		c.types[k] = &t
	}
	for k, v := range s.categories {
		c.categories[k] = copyCategory(v)
	}
	for k, v := range s.sources {
		src := *v
		c.sources[k] = &src
	}
	for k, v := range s.facets {
		f := *v
		c.facets[k] = &f
	}
	for k, v := range s.links {
		l := *v
		c.links[k] = &l
	}
	return c
}

// now is a strictly increasing clock, so creation order is observable through created_at.
func (s *Store) now() time.Time {
	s.tick++
	return s.epoch.Add(time.Duration(s.tick) * time.Millisecond)
}

func (s *Store) inTx(ctx context.Context) bool {
	m, ok := ctx.Value(txMarker{}).(*Store)
	return ok && m == s
}

// lock takes the store mutex unless ctx belongs to an open transaction of this store.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithinTx runs fn against a snapshot of the store. An error from fn restores the snapshot. Calls
// made with the ctx passed to fn join the transaction, including nested WithinTx calls.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txMarker{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func copyRecord(r *models.Record) *models.Record {
	c := *r
	c.Aliases = append([]string{}, r.Aliases...)
	if r.Embedding.Data != nil {
		c.Embedding.Data = append([]float32{}, r.Embedding.Data...)
	}
	c.Attributes.Data = copyAttributes(r.Attributes.Data)
	return &c
}

// copyAttributes copies the top level of an attributes object.
func copyAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	return maps.Clone(attrs)
}

func copyCategory(cat *models.Category) *models.Category {
	c := *cat
	c.Aliases = append([]string{}, cat.Aliases...)
	return &c
}

func strPtr(s string) *string {
	return &s
}
