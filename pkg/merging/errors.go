package merging

import "errors"

var (
	// ErrMergeIntegrity is returned when a relation moved a different number of rows than it counted
	// before the move, which means something else wrote to it during the merge. The merge is rolled back.
	ErrMergeIntegrity = errors.New("merge integrity check failed")

	// ErrUnknownKind is returned for a kind missing from the registry.
	ErrUnknownKind = errors.New("unknown merge kind")

	// ErrSelfMerge is returned when duplicate and canonical are the same row.
	ErrSelfMerge = errors.New("cannot merge an entity into itself")

	// ErrCanonicalInactive is returned when the canonical was itself merged away.
	ErrCanonicalInactive = errors.New("canonical is not active")

	// ErrNotFound is returned when either participant does not exist.
	ErrNotFound = errors.New("merge participant not found")
)
