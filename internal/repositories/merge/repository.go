// Package merge is the kind-generic Postgres store behind duplicate scanning and merging. Table and
// column names come from the merge registry, never from callers.
package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Repository handles merge and scan queries for every registered kind
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func q(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithinTx(ctx, r.db, fn)
}

// GetEntity reads a merge participant without locking it
func (r *Repository) GetEntity(ctx context.Context, spec models.MergeSpec, id string) (*models.MergeEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.GetEntity")
	defer span.End()

	return r.getEntity(ctx, spec, id, false)
}

// LockEntity reads a merge participant with SELECT ... FOR UPDATE
func (r *Repository) LockEntity(ctx context.Context, spec models.MergeSpec, id string) (*models.MergeEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.LockEntity")
	defer span.End()

	return r.getEntity(ctx, spec, id, true)
}

func (r *Repository) getEntity(ctx context.Context, spec models.MergeSpec, id string, lock bool) (*models.MergeEntity, error) {
	sb := database.NewSelectBuilder()
	sb.Select("id", "name", "is_active", "merged_into_id").From(q(spec.Table)).Where(sb.Equal("id", id))
	if lock {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var e models.MergeEntity
	if err := r.db.Executor(ctx).GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to read %s %s", spec.Kind, id)
		return nil, fmt.Errorf("failed to read %s: %w", spec.Kind, err)
	}
	return &e, nil
}

// CountReferences counts rows of rel pointing at id
func (r *Repository) CountReferences(ctx context.Context, rel models.Relation, id string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.CountReferences")
	defer span.End()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1", q(rel.Table), q(rel.Column))

	var n int64
	if err := r.db.Executor(ctx).GetContext(ctx, &n, query, id); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to count %s", rel.Name())
		return 0, fmt.Errorf("failed to count %s: %w", rel.Name(), err)
	}
	return n, nil
}

// DropConflicts removes duplicate rows the canonical already holds (ConflictDrop) and clears the
// canonical's own pointer at the duplicate (SelfReference). It returns the number of affected rows.
func (r *Repository) DropConflicts(ctx context.Context, rel models.Relation, fromID, toID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.DropConflicts")
	defer span.End()

	var query string
	switch {
	case rel.SelfReference:
		query = fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1 AND id = $2", q(rel.Table), q(rel.Column), q(rel.Column))
	case rel.OnConflict == models.ConflictDrop && len(rel.UniqueWith) > 0:
		query = fmt.Sprintf(
			"DELETE FROM %[1]s d WHERE d.%[2]s = $1 AND EXISTS (SELECT 1 FROM %[1]s c WHERE c.%[2]s = $2 AND %[3]s)",
			q(rel.Table), q(rel.Column), joinEqual(rel.UniqueWith, "c", "d"),
		)
	default:
		return 0, nil
	}

	return r.exec(ctx, query, fmt.Sprintf("drop conflicts in %s", rel.Name()), fromID, toID)
}

// FindCollisions lists active rows pointing at fromID that collide on UniqueWith with an active row
// pointing at toID.
func (r *Repository) FindCollisions(ctx context.Context, rel models.Relation, fromID, toID string) ([]models.Collision, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.FindCollisions")
	defer span.End()

	if len(rel.UniqueWith) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT d.id AS row_id, c.id AS twin_id FROM %[1]s d
		JOIN %[1]s c ON c.%[2]s = $2 AND c.is_active AND %[3]s
		WHERE d.%[2]s = $1 AND d.is_active
		ORDER BY d.id`,
		q(rel.Table), q(rel.Column), joinEqual(rel.UniqueWith, "c", "d"),
	)

	var collisions []models.Collision
	if err := r.db.Executor(ctx).SelectContext(ctx, &collisions, query, fromID, toID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to find collisions in %s", rel.Name())
		return nil, fmt.Errorf("failed to find collisions in %s: %w", rel.Name(), err)
	}
	return collisions, nil
}

// Reassign repoints every row of rel from fromID to toID
func (r *Repository) Reassign(ctx context.Context, rel models.Relation, fromID, toID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.Reassign")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET %s = $2 WHERE %s = $1", q(rel.Table), q(rel.Column), q(rel.Column))
	return r.exec(ctx, query, fmt.Sprintf("reassign %s", rel.Name()), fromID, toID)
}

// UnionArrays folds the duplicate's array fields (and its name, for the alias field) into the
// canonical's, keeping a sorted distinct set without the canonical's own name.
func (r *Repository) UnionArrays(ctx context.Context, spec models.MergeSpec, fromID, toID string) error {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.UnionArrays")
	defer span.End()

	if len(spec.ArrayFields) == 0 {
		return nil
	}

	assignments := make([]string, 0, len(spec.ArrayFields)+1)
	for _, field := range spec.ArrayFields {
		source := fmt.Sprintf("c.%[1]s || d.%[1]s", q(field))
		if field == spec.AliasField {
			source += " || ARRAY[d.name]"
		}
		assignments = append(assignments, fmt.Sprintf(
			"%s = ARRAY(SELECT DISTINCT x FROM unnest(%s) AS x WHERE x IS NOT NULL AND x <> c.name ORDER BY x)",
			q(field), source,
		))
	}
	if spec.TouchColumn != "" {
		assignments = append(assignments, fmt.Sprintf("%s = NOW()", q(spec.TouchColumn)))
	}

	query := fmt.Sprintf("UPDATE %[1]s c SET %[2]s FROM %[1]s d WHERE c.id = $1 AND d.id = $2",
		q(spec.Table), strings.Join(assignments, ", "))

	_, err := r.exec(ctx, query, fmt.Sprintf("union arrays of %s", spec.Kind), toID, fromID)
	return err
}

// GetAttributes reads the jsonb attributes object of one row
func (r *Repository) GetAttributes(ctx context.Context, spec models.MergeSpec, id string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.GetAttributes")
	defer span.End()

	if spec.AttributesField == "" {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(q(spec.AttributesField)).From(q(spec.Table)).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var attrs database.JSONB[map[string]any]
	if err := r.db.Executor(ctx).GetContext(ctx, &attrs, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to read attributes of %s %s", spec.Kind, id)
		return nil, fmt.Errorf("failed to read attributes of %s: %w", spec.Kind, err)
	}
	return attrs.Data, nil
}

// SetAttributes overwrites the jsonb attributes object of one row
func (r *Repository) SetAttributes(ctx context.Context, spec models.MergeSpec, id string, attrs map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.SetAttributes")
	defer span.End()

	if spec.AttributesField == "" {
		return nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(q(spec.Table))
	ub.Set(ub.Assign(q(spec.AttributesField), database.NewJSONB(attrs)))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	_, err := r.exec(ctx, query, fmt.Sprintf("set attributes of %s", spec.Kind), args...)
	return err
}

// Deactivate soft-deletes the duplicate and points it at the canonical
func (r *Repository) Deactivate(ctx context.Context, spec models.MergeSpec, id, mergedIntoID string) error {
	ctx, span := tracing.StartSpan(ctx, "merge.Repository.Deactivate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(q(spec.Table))
	ub.Set(ub.Assign("is_active", false), ub.Assign("merged_into_id", mergedIntoID))
	if spec.TouchColumn != "" {
		ub.SetMore(fmt.Sprintf("%s = NOW()", q(spec.TouchColumn)))
	}
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	_, err := r.exec(ctx, query, fmt.Sprintf("deactivate %s", spec.Kind), args...)
	return err
}

func (r *Repository) exec(ctx context.Context, query, what string, args ...any) (int64, error) {
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to %s", what)
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	return n, nil
}

func joinEqual(columns []string, left, right string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", left, q(c), right, q(c))
	}
	return strings.Join(parts, " AND ")
}
