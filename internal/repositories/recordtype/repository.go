package recordtype

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

const table = "record_types"

var columns = []string{"id", "slug", "name", "name_normalized", "name_embedding", "is_active", "merged_into_id", "created_at"}

// Repository handles record type persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new record type repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create registers a record type. An active type with the same slug yields database.ErrUniqueViolation.
func (r *Repository) Create(ctx context.Context, rt *models.RecordType) error {
	ctx, span := tracing.StartSpan(ctx, "recordtype.Repository.Create")
	defer span.End()

	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	rt.NameNormalized = normalizers.Normalize(rt.Name, "")
	rt.IsActive = true
	rt.CreatedAt = time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(rt.ID, rt.Slug, rt.Name, rt.NameNormalized, rt.NameEmbedding, rt.IsActive, rt.MergedIntoID, rt.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("record type %q: %w", rt.Slug, database.ErrUniqueViolation)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create record type")
		return fmt.Errorf("failed to create record type: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": rt.ID, "slug": rt.Slug}).Info("Created record type")
	return nil
}

// GetBySlug retrieves the active record type with slug, or nil
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.RecordType, error) {
	ctx, span := tracing.StartSpan(ctx, "recordtype.Repository.GetBySlug")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(sb.Equal("slug", slug), sb.Equal("is_active", true))

	query, args := sb.Build()
	var rt models.RecordType
	if err := r.db.Executor(ctx).GetContext(ctx, &rt, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get record type")
		return nil, fmt.Errorf("failed to get record type: %w", err)
	}
	return &rt, nil
}

// List returns all active record types ordered by slug
func (r *Repository) List(ctx context.Context) ([]models.RecordType, error) {
	ctx, span := tracing.StartSpan(ctx, "recordtype.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(sb.Equal("is_active", true)).OrderBy("slug").Asc()

	query, args := sb.Build()
	var types []models.RecordType
	if err := r.db.Executor(ctx).SelectContext(ctx, &types, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list record types")
		return nil, fmt.Errorf("failed to list record types: %w", err)
	}
	return types, nil
}
