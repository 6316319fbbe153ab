package resolution

import "errors"

var (
	// ErrTypeNotFound is returned when the requested record type slug has no active record type.
	ErrTypeNotFound = errors.New("record type not found")

	// ErrInvalidName is returned for names that normalize to nothing, such as "---".
	ErrInvalidName = errors.New("name has no letters or digits")

	// ErrUniquenessRace is returned when every create attempt lost to a concurrent writer and the
	// winner still could not be read back.
	ErrUniquenessRace = errors.New("gave up after repeated uniqueness conflicts")
)
