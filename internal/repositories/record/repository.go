package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const table = "records"

var columns = []string{
	"id", "type_id", "name", "name_normalized", "slug", "external_id", "country",
	"admin_level_1", "admin_level_2", "parent_id", "latitude", "longitude", "aliases",
	"attributes", "embedding", "is_active", "merged_into_id", "created_at", "updated_at",
}

// Repository handles record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// WithinTx runs fn in a transaction; repository calls made with the ctx passed to fn join it.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithinTx(ctx, r.db, fn)
}

// Create inserts a record. A collision on the active (type_id, name_normalized) index is returned as
// database.ErrUniqueViolation.
func (r *Repository) Create(ctx context.Context, rec *models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Create")
	defer span.End()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.IsActive = true
	if rec.Aliases == nil {
		rec.Aliases = []string{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(
		rec.ID, rec.TypeID, rec.Name, rec.NameNormalized, rec.Slug, rec.ExternalID, rec.Country,
		rec.AdminLevel1, rec.AdminLevel2, rec.ParentID, rec.Latitude, rec.Longitude, rec.Aliases,
		rec.Attributes, rec.Embedding, rec.IsActive, rec.MergedIntoID, rec.CreatedAt, rec.UpdatedAt,
	)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("record %q of type %s: %w", rec.NameNormalized, rec.TypeID, database.ErrUniqueViolation)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create record")
		return fmt.Errorf("failed to create record: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": rec.ID, "type_id": rec.TypeID}).Debug("Created record")
	return nil
}

// AddSource records which import path produced or re-resolved a record
func (r *Repository) AddSource(ctx context.Context, src *models.RecordSource) error {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.AddSource")
	defer span.End()

	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	src.CreatedAt = time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto("record_sources")
	ib.Cols("id", "record_id", "source", "source_ref", "created_at")
	ib.Values(src.ID, src.RecordID, src.Source, src.SourceRef, src.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to add record source")
		return fmt.Errorf("failed to add record source: %w", err)
	}
	return nil
}

// UpdateEmbedding caches a name vector on the record
func (r *Repository) UpdateEmbedding(ctx context.Context, id string, vector []float32) error {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.UpdateEmbedding")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("embedding", database.NewJSONB(vector)),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update record embedding")
		return fmt.Errorf("failed to update record embedding: %w", err)
	}
	return nil
}

// Get retrieves a record by ID, active or not
func (r *Repository) Get(ctx context.Context, id string) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(sb.Equal("id", id))
	return r.getOne(ctx, sb)
}

// GetByExternalID finds the active record of a type carrying externalID
func (r *Repository) GetByExternalID(ctx context.Context, typeID, externalID string) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.GetByExternalID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(
		sb.Equal("type_id", typeID),
		sb.Equal("external_id", externalID),
		sb.Equal("is_active", true),
	)
	sb.OrderBy("created_at", "id").Asc().Limit(1)
	return r.getOne(ctx, sb)
}

// GetByNormalizedName finds the active record of a type with this normalized name
func (r *Repository) GetByNormalizedName(ctx context.Context, typeID, nameNormalized string) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.GetByNormalizedName")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(
		sb.Equal("type_id", typeID),
		sb.Equal("name_normalized", nameNormalized),
		sb.Equal("is_active", true),
	)
	return r.getOne(ctx, sb)
}

// GetByNormalizedNames loads the active records of a type matching any of the names
func (r *Repository) GetByNormalizedNames(ctx context.Context, typeID string, names []string) ([]models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.GetByNormalizedNames")
	defer span.End()

	if len(names) == 0 {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(
		sb.Equal("type_id", typeID),
		sb.In("name_normalized", sqlbuilder.Flatten(names)...),
		sb.Equal("is_active", true),
	)
	return r.list(ctx, sb, "Failed to get records by normalized names")
}

// FindBySubstring returns active records of a type whose normalized name contains fragment, oldest first
func (r *Repository) FindBySubstring(ctx context.Context, typeID, fragment string, limit int) ([]models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.FindBySubstring")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(
		sb.Equal("type_id", typeID),
		sb.Like("name_normalized", "%"+escapeLike(fragment)+"%"),
		sb.Equal("is_active", true),
	)
	sb.OrderBy("created_at", "id").Asc()
	if limit > 0 {
		sb.Limit(limit)
	}
	return r.list(ctx, sb, "Failed to find records by substring")
}

// ListCandidates returns active records of a type, optionally in one country, oldest first
func (r *Repository) ListCandidates(ctx context.Context, typeID, country string, limit int) ([]models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ListCandidates")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(
		sb.Equal("type_id", typeID),
		sb.Equal("is_active", true),
	)
	if country != "" {
		sb.Where(sb.Equal("country", country))
	}
	sb.OrderBy("created_at", "id").Asc()
	if limit > 0 {
		sb.Limit(limit)
	}
	return r.list(ctx, sb, "Failed to list candidate records")
}

func (r *Repository) getOne(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*models.Record, error) {
	query, args := sb.Build()

	var rec models.Record
	if err := r.db.Executor(ctx).GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get record")
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

func (r *Repository) list(ctx context.Context, sb *sqlbuilder.SelectBuilder, msg string) ([]models.Record, error) {
	query, args := sb.Build()

	var records []models.Record
	if err := r.db.Executor(ctx).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error(msg)
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
