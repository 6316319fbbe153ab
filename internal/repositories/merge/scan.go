package merge

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// ListScanItems returns the active population of a kind. Records are filtered by type slug and
// country; record types and categories ignore the filter.
func (r *Repository) ListScanItems(ctx context.Context, kind models.Kind, filter models.ScanFilter) ([]models.ScanItem, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.ListScanItems")
	defer span.End()

	sb := database.NewSelectBuilder()
	switch kind {
	case models.KindRecord:
		sb.Select("r.id", "r.name", "r.type_id", "r.country", "r.latitude", "r.longitude", "r.created_at").
			From("records r").
			Where(sb.Equal("r.is_active", true))
		if filter.TypeSlug != "" {
			sb.Join("record_types t", "t.id = r.type_id", sb.Equal("t.slug", filter.TypeSlug), "t.is_active")
		}
		if filter.Country != "" {
			sb.Where(sb.Equal("r.country", filter.Country))
		}
	case models.KindRecordType, models.KindCategory:
		table := "record_types"
		if kind == models.KindCategory {
			table = "categories"
		}
		sb.Select("id", "name", "'' AS type_id", "'' AS country", "NULL::float8 AS latitude",
			"NULL::float8 AS longitude", "created_at").
			From(table).
			Where(sb.Equal("is_active", true))
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	query, args := sb.Build()
	var items []models.ScanItem
	if err := r.db.Executor(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to list %s scan items", kind)
		return nil, fmt.Errorf("failed to list %s scan items: %w", kind, err)
	}
	return items, nil
}
