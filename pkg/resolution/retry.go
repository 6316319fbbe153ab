package resolution

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/sorrel/pkg/database"
)

// retryOnConflict calls fn until it succeeds, fails with something other than a unique violation, or
// has been retried maxRetries times. fn receives the attempt number, starting at 0.
func retryOnConflict[T any](ctx context.Context, maxRetries int, onConflict func(attempt int), fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		if !database.IsUniqueViolation(err) {
			return zero, err
		}

		last = err
		if onConflict != nil {
			onConflict(attempt)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrUniquenessRace, last)
}
