package models

import (
	"time"

	"github.com/Ramsey-B/sorrel/pkg/database"
)

// RecordType is the category a Record belongs to (municipality, person, organization, ...).
type RecordType struct {
	ID             string                    `json:"id" db:"id"`
	Slug           string                    `json:"slug" db:"slug" validate:"required"`
	Name           string                    `json:"name" db:"name" validate:"required"`
	NameNormalized string                    `json:"name_normalized" db:"name_normalized"`
	NameEmbedding  database.JSONB[[]float32] `json:"-" db:"name_embedding"`
	IsActive       bool                      `json:"is_active" db:"is_active"`
	MergedIntoID   *string                   `json:"merged_into_id,omitempty" db:"merged_into_id"`
	CreatedAt      time.Time                 `json:"created_at" db:"created_at"`
}

// CreateRecordTypeRequest is the request body for registering a record type
type CreateRecordTypeRequest struct {
	Slug string `json:"slug" validate:"required"`
	Name string `json:"name" validate:"required"`
}
