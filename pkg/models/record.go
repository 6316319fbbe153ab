package models

import (
	"time"

	"github.com/lib/pq"

	"github.com/Ramsey-B/sorrel/pkg/database"
)

// Record is the canonical stored representation of one real-world named concept.
type Record struct {
	ID             string                            `json:"id" db:"id"`
	TypeID         string                            `json:"type_id" db:"type_id"`
	Name           string                            `json:"name" db:"name"`
	NameNormalized string                            `json:"name_normalized" db:"name_normalized"`
	Slug           string                            `json:"slug" db:"slug"`
	ExternalID     *string                           `json:"external_id,omitempty" db:"external_id"`
	Country        string                            `json:"country" db:"country"`
	AdminLevel1    *string                           `json:"admin_level_1,omitempty" db:"admin_level_1"`
	AdminLevel2    *string                           `json:"admin_level_2,omitempty" db:"admin_level_2"`
	ParentID       *string                           `json:"parent_id,omitempty" db:"parent_id"`
	Latitude       *float64                          `json:"latitude,omitempty" db:"latitude"`
	Longitude      *float64                          `json:"longitude,omitempty" db:"longitude"`
	Aliases        pq.StringArray                    `json:"aliases" db:"aliases"`
	Attributes     database.JSONB[map[string]any]    `json:"attributes" db:"attributes"`
	Embedding      database.JSONB[[]float32]         `json:"-" db:"embedding"`
	IsActive       bool                              `json:"is_active" db:"is_active"`
	MergedIntoID   *string                           `json:"merged_into_id,omitempty" db:"merged_into_id"`
	CreatedAt      time.Time                         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time                         `json:"updated_at" db:"updated_at"`
}

// RecordSource is a provenance row linking a record to the import path that produced it.
type RecordSource struct {
	ID        string    `json:"id" db:"id"`
	RecordID  string    `json:"record_id" db:"record_id"`
	Source    string    `json:"source" db:"source"`
	SourceRef string    `json:"source_ref" db:"source_ref"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RecordFacet is a facet value attached to a record; FacetTypeID references a RecordType.
type RecordFacet struct {
	ID          string    `json:"id" db:"id"`
	RecordID    string    `json:"record_id" db:"record_id"`
	FacetTypeID string    `json:"facet_type_id" db:"facet_type_id"`
	Value       string    `json:"value" db:"value"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RecordCategory links a record to a category.
type RecordCategory struct {
	RecordID   string    `json:"record_id" db:"record_id"`
	CategoryID string    `json:"category_id" db:"category_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
