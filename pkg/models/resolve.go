package models

// ResolveRequest is the input of the resolution service's get-or-create operation.
type ResolveRequest struct {
	TypeSlug    string         `json:"type" validate:"required"`
	Name        string         `json:"name" validate:"required"`
	Country     string         `json:"country,omitempty" validate:"omitempty,len=2"`
	ExternalID  string         `json:"external_id,omitempty"`
	AdminLevel1 string         `json:"admin_level_1,omitempty"`
	AdminLevel2 string         `json:"admin_level_2,omitempty"`
	ParentID    string         `json:"parent_id,omitempty" validate:"omitempty,uuid"`
	Latitude    *float64       `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64       `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	// Categories are linked to the resolved record, created on first use.
	Categories []string `json:"categories,omitempty" validate:"omitempty,dive,required"`
	// Source names the import path for provenance, e.g. "crawler" or "api:destatis".
	Source    string `json:"source,omitempty"`
	SourceRef string `json:"source_ref,omitempty"`
	// SimilarityThreshold of 1.0 restricts matching to exact lookups; zero uses the service default.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// ResolveOutcome says how a record was obtained.
type ResolveOutcome string

const (
	ResolveOutcomeExternalID ResolveOutcome = "external_id"
	ResolveOutcomeExact      ResolveOutcome = "exact"
	ResolveOutcomeSimilar    ResolveOutcome = "similar"
	ResolveOutcomeComposite  ResolveOutcome = "composite"
	ResolveOutcomeCreated    ResolveOutcome = "created"
	ResolveOutcomeRaceLost   ResolveOutcome = "race_lost"
)

// ResolveResult is a resolved record plus how it was found.
type ResolveResult struct {
	Record  *Record        `json:"record"`
	Outcome ResolveOutcome `json:"outcome"`
	// Score and Reason are set when the record was found by the similarity engine.
	Score  float64 `json:"score,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// BatchResolveItem is one entry of a batched get-or-create.
type BatchResolveItem struct {
	Result *ResolveResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Err    error          `json:"-"`
}

// BatchResolveRequest resolves many names of one record type.
type BatchResolveRequest struct {
	TypeSlug string           `json:"type" validate:"required"`
	Records  []ResolveRequest `json:"records" validate:"required,min=1,max=5000"`
}

// BatchResolveResponse is parallel to BatchResolveRequest.Records.
type BatchResolveResponse struct {
	Items []BatchResolveItem `json:"items"`
}

// SimilarityRequest asks whether two names denote the same concept.
type SimilarityRequest struct {
	A         string  `json:"a" validate:"required"`
	B         string  `json:"b" validate:"required"`
	Locale    string  `json:"locale,omitempty"`
	Threshold float64 `json:"threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// CompositeRequest asks which names a composite reference contains.
type CompositeRequest struct {
	Name string `json:"name" validate:"required"`
}
