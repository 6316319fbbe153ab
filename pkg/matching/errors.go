package matching

import (
	"errors"
	"fmt"
)

// ErrOracleUnavailable marks an embedding or oracle call that failed or timed out. It is logged and
// degrades matching; Equivalent never returns it.
var ErrOracleUnavailable = errors.New("semantic backend unavailable")

// errBackendDown is returned while a backend's breaker is open; it wraps ErrOracleUnavailable.
var errBackendDown = fmt.Errorf("%w: cooling down after a failure", ErrOracleUnavailable)
