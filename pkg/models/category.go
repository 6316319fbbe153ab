package models

import (
	"time"

	"github.com/lib/pq"
)

type Category struct {
	ID             string         `json:"id" db:"id"`
	Slug           string         `json:"slug" db:"slug"`
	Name           string         `json:"name" db:"name"`
	NameNormalized string         `json:"name_normalized" db:"name_normalized"`
	Aliases        pq.StringArray `json:"aliases" db:"aliases"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	MergedIntoID   *string        `json:"merged_into_id,omitempty" db:"merged_into_id"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}
