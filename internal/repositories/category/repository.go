package category

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const table = "categories"

var columns = []string{"id", "slug", "name", "name_normalized", "aliases", "is_active", "merged_into_id", "created_at"}

// Repository handles category persistence and record links
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new category repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetOrCreate returns the active category with the same normalized name or creates it. A concurrent
// create of the same name is resolved by refetching.
func (r *Repository) GetOrCreate(ctx context.Context, name string) (*models.Category, error) {
	ctx, span := tracing.StartSpan(ctx, "category.Repository.GetOrCreate")
	defer span.End()

	normalized := normalizers.Normalize(name, "")
	if existing, err := r.getByNormalizedName(ctx, normalized); err != nil || existing != nil {
		return existing, err
	}

	c := &models.Category{
		ID:             uuid.New().String(),
		Slug:           normalizers.Slug(name, ""),
		Name:           name,
		NameNormalized: normalized,
		Aliases:        []string{},
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(c.ID, c.Slug, c.Name, c.NameNormalized, c.Aliases, c.IsActive, c.MergedIntoID, c.CreatedAt)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create category")
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.getByNormalizedName(ctx, normalized)
	}
	return c, nil
}

// Link attaches a category to a record; existing links are kept
func (r *Repository) Link(ctx context.Context, recordID, categoryID string) error {
	ctx, span := tracing.StartSpan(ctx, "category.Repository.Link")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto("record_categories")
	ib.Cols("record_id", "category_id", "created_at")
	ib.Values(recordID, categoryID, time.Now().UTC())
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to link category")
		return fmt.Errorf("failed to link category: %w", err)
	}
	return nil
}

func (r *Repository) getByNormalizedName(ctx context.Context, normalized string) (*models.Category, error) {
	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(sb.Equal("name_normalized", normalized), sb.Equal("is_active", true))

	query, args := sb.Build()
	var c models.Category
	if err := r.db.Executor(ctx).GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get category")
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}
