package models

import "time"

// Kind names a mergeable entity family.
type Kind string

const (
	KindRecord     Kind = "record"
	KindRecordType Kind = "record_type"
	KindCategory   Kind = "category"
)

// AllKinds lists every mergeable kind in cleanup order. Record types go first so that records
// collapsed by a type merge are picked up by the record pass.
var AllKinds = []Kind{KindRecordType, KindCategory, KindRecord}

// ScanItem is the scanner's view of any mergeable entity.
type ScanItem struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	TypeID    string    `json:"type_id" db:"type_id"`
	Country   string    `json:"country" db:"country"`
	Latitude  *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64  `json:"longitude,omitempty" db:"longitude"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DuplicateCandidate is a scored pair of items suspected to represent the same concept.
type DuplicateCandidate struct {
	RecordA string  `json:"record_a"`
	RecordB string  `json:"record_b"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
	TypeID  string  `json:"type"`
	Country string  `json:"country"`
}

// DuplicateCluster is the transitive closure of duplicate candidates.
type DuplicateCluster struct {
	ClusterID            string   `json:"cluster_id"`
	MemberIDs            []string `json:"member_ids"`
	MatchReasons         []string `json:"match_reasons"`
	SuggestedCanonicalID string   `json:"suggested_canonical_id"`
}

// ScanFilter restricts a scan to one record type and/or country. Threshold overrides the
// similarity threshold of the all-pairs pass when positive.
type ScanFilter struct {
	TypeSlug  string  `json:"type,omitempty" query:"type"`
	Country   string  `json:"country,omitempty" query:"country"`
	Threshold float64 `json:"threshold,omitempty" query:"threshold" validate:"omitempty,gt=0,lte=1"`
}

// CleanupRequest starts a cleanup run over the given kinds, all of them when empty.
type CleanupRequest struct {
	Kinds     []Kind  `json:"kinds" validate:"omitempty,dive,oneof=record record_type category"`
	DryRun    bool    `json:"dry_run"`
	Threshold float64 `json:"threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	TypeSlug  string  `json:"type,omitempty"`
	Country   string  `json:"country,omitempty" validate:"omitempty,len=2"`
}
