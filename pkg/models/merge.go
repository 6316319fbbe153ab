package models

// MergeRequest asks for one duplicate to be folded into its canonical.
type MergeRequest struct {
	Kind        Kind   `json:"kind" validate:"required,oneof=record record_type category"`
	DuplicateID string `json:"duplicate_id" validate:"required,uuid"`
	CanonicalID string `json:"canonical_id" validate:"required,uuid,nefield=DuplicateID"`
	DryRun      bool   `json:"dry_run"`
}

// MergeResult reports what a merge did or, in a dry run, would do.
type MergeResult struct {
	Kind        Kind   `json:"kind"`
	DuplicateID string `json:"duplicate_id"`
	CanonicalID string `json:"canonical_id"`
	DryRun      bool   `json:"dry_run"`
	// Reassigned counts repointed rows per "table.column" relation.
	Reassigned map[string]int64 `json:"reassigned"`
	// Dropped counts duplicate link rows removed because the canonical already held the same link.
	Dropped map[string]int64 `json:"dropped,omitempty"`
	// Collapsed lists nested merges triggered by unique collisions (record type merges).
	Collapsed     []MergeResult `json:"collapsed,omitempty"`
	AlreadyMerged bool          `json:"already_merged"`
}

// TotalReassigned sums reassigned rows, including nested merges.
func (r *MergeResult) TotalReassigned() int64 {
	var total int64
	for _, n := range r.Reassigned {
		total += n
	}
	for i := range r.Collapsed {
		total += r.Collapsed[i].TotalReassigned()
	}
	return total
}

// ConflictPolicy says what happens to a referencing row that cannot simply be repointed.
type ConflictPolicy int

const (
	// ConflictNone: rows are repointed as they are.
	ConflictNone ConflictPolicy = iota
	// ConflictDrop: rows whose UniqueWith key the canonical already holds are deleted.
	ConflictDrop
	// ConflictMerge: active rows that would collide with an active row of the canonical on UniqueWith
	// are first merged into that twin as kind MergeKind.
	ConflictMerge
)

// Relation is one foreign key column pointing at a mergeable kind.
type Relation struct {
	Table      string
	Column     string
	UniqueWith []string
	OnConflict ConflictPolicy
	MergeKind  Kind
	// SelfReference marks a column of the kind's own table; the canonical's own pointer at the
	// duplicate is cleared instead of becoming a self loop.
	SelfReference bool
}

// Name is the relation key used in MergeResult maps.
func (r Relation) Name() string {
	return r.Table + "." + r.Column
}

// MergeSpec declares how one kind is stored and referenced.
type MergeSpec struct {
	Kind        Kind
	Table       string
	ArrayFields []string
	// AliasField receives the duplicate's display name.
	AliasField string
	// TouchColumn is set to now() on the canonical when present.
	TouchColumn string
	// AttributesField is a jsonb object column folded into the canonical's, canonical values first.
	AttributesField string
	Relations   []Relation
}

// MergeEntity is the locked row of a merge participant.
type MergeEntity struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	IsActive     bool    `db:"is_active"`
	MergedIntoID *string `db:"merged_into_id"`
}

// Collision pairs a duplicate's referencing row with the canonical's row it would collide with.
type Collision struct {
	RowID  string `db:"row_id"`
	TwinID string `db:"twin_id"`
}
