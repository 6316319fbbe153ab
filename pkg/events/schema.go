package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// RecordCreatedData is the payload of a record.created event
type RecordCreatedData struct {
	CorrelationID  string    `json:"correlation_id"`
	Name           string    `json:"name"`
	NameNormalized string    `json:"name_normalized"`
	Slug           string    `json:"slug"`
	Country        string    `json:"country,omitempty"`
	ExternalID     *string   `json:"external_id,omitempty"`
	ParentID       *string   `json:"parent_id,omitempty"`
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordMergedData is the payload of a record.merged event
type RecordMergedData struct {
	CorrelationID string           `json:"correlation_id"`
	DuplicateID   string           `json:"duplicate_id"`
	CanonicalID   string           `json:"canonical_id"`
	Reassigned    map[string]int64 `json:"reassigned"`
	Dropped       map[string]int64 `json:"dropped,omitempty"`
	// Collapsed lists the ids of records merged as a side effect of a record type merge.
	Collapsed []string `json:"collapsed,omitempty"`
}

func newRecordCreatedData(rec *models.Record, source string) RecordCreatedData {
	return RecordCreatedData{
		CorrelationID:  uuid.New().String(),
		Name:           rec.Name,
		NameNormalized: rec.NameNormalized,
		Slug:           rec.Slug,
		Country:        rec.Country,
		ExternalID:     rec.ExternalID,
		ParentID:       rec.ParentID,
		Source:         source,
		CreatedAt:      rec.CreatedAt,
	}
}

func newRecordMergedData(result *models.MergeResult) RecordMergedData {
	data := RecordMergedData{
		CorrelationID: uuid.New().String(),
		DuplicateID:   result.DuplicateID,
		CanonicalID:   result.CanonicalID,
		Reassigned:    result.Reassigned,
		Dropped:       result.Dropped,
	}
	for _, nested := range result.Collapsed {
		data.Collapsed = append(data.Collapsed, nested.DuplicateID)
	}
	return data
}
