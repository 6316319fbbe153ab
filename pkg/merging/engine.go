// Package merging folds a duplicate entity into its canonical: every foreign key pointing at the
// duplicate is moved to the canonical in one transaction, set-valued fields are unioned and the
// duplicate is deactivated. Kinds and their relations come from a Registry.
package merging

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Store is the kind-generic storage the engine drives.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetEntity(ctx context.Context, spec models.MergeSpec, id string) (*models.MergeEntity, error)
	LockEntity(ctx context.Context, spec models.MergeSpec, id string) (*models.MergeEntity, error)
	CountReferences(ctx context.Context, rel models.Relation, id string) (int64, error)
	DropConflicts(ctx context.Context, rel models.Relation, fromID, toID string) (int64, error)
	FindCollisions(ctx context.Context, rel models.Relation, fromID, toID string) ([]models.Collision, error)
	Reassign(ctx context.Context, rel models.Relation, fromID, toID string) (int64, error)
	UnionArrays(ctx context.Context, spec models.MergeSpec, fromID, toID string) error
	GetAttributes(ctx context.Context, spec models.MergeSpec, id string) (map[string]any, error)
	SetAttributes(ctx context.Context, spec models.MergeSpec, id string, attrs map[string]any) error
	Deactivate(ctx context.Context, spec models.MergeSpec, id, mergedIntoID string) error
}

// Locker serializes merges that share a canonical across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// EventEmitter publishes record.merged events.
type EventEmitter interface {
	EmitMerged(ctx context.Context, result *models.MergeResult) error
}

// GraphProjector records MERGED_INTO edges.
type GraphProjector interface {
	RecordMerge(ctx context.Context, result *models.MergeResult) error
}

// Engine is the merge engine
type Engine struct {
	logger   ectologger.Logger
	store    Store
	registry *Registry
	locker   Locker
	emitter  EventEmitter
	graph    GraphProjector
}

// NewEngine creates a merge engine. A nil registry means DefaultRegistry.
func NewEngine(logger ectologger.Logger, store Store, registry *Registry) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Engine{
		logger:   logger,
		store:    store,
		registry: registry,
	}
}

// WithLocker serializes merges per canonical through l
func (e *Engine) WithLocker(l Locker) *Engine {
	e.locker = l
	return e
}

// WithEmitter enables record.merged events
func (e *Engine) WithEmitter(em EventEmitter) *Engine {
	e.emitter = em
	return e
}

// WithGraph enables MERGED_INTO edges in the graph projection
func (e *Engine) WithGraph(g GraphProjector) *Engine {
	e.graph = g
	return e
}

// Registry returns the kinds the engine can merge.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Merge moves every reference of duplicateID to canonicalID and deactivates the duplicate. With
// dryRun it only counts the references per relation. Merging an already merged duplicate that has no
// references left is a no-op reported as AlreadyMerged.
func (e *Engine) Merge(ctx context.Context, kind models.Kind, duplicateID, canonicalID string, dryRun bool) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":         kind,
		"duplicate_id": duplicateID,
		"canonical_id": canonicalID,
		"dry_run":      dryRun,
	})

	spec, err := e.registry.Spec(kind)
	if err != nil {
		return nil, err
	}
	if duplicateID == canonicalID {
		return nil, fmt.Errorf("%w: %s", ErrSelfMerge, duplicateID)
	}

	if dryRun {
		result, err := e.preview(ctx, spec, duplicateID, canonicalID)
		if err != nil {
			return nil, err
		}
		metrics.RecordMerge(string(kind), "dry_run", nil)
		return result, nil
	}

	var result *models.MergeResult
	run := func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			result, err = e.merge(ctx, spec, duplicateID, canonicalID)
			return err
		})
	}
	if e.locker != nil {
		err = e.locker.WithLock(ctx, fmt.Sprintf("merge:%s:%s", kind, canonicalID), run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		metrics.RecordMerge(string(kind), "failed", nil)
		log.WithError(err).Error("Merge failed")
		return nil, err
	}

	if result.AlreadyMerged {
		metrics.RecordMerge(string(kind), "already_merged", nil)
		log.Debug("Duplicate already merged")
		return result, nil
	}

	metrics.RecordMerge(string(kind), "merged", result.Reassigned)
	log.WithFields(map[string]any{
		"reassigned": result.TotalReassigned(),
		"collapsed":  len(result.Collapsed),
	}).Info("Merged duplicate")

	e.publish(ctx, result)
	return result, nil
}

// preview counts references without taking locks or writing.
func (e *Engine) preview(ctx context.Context, spec models.MergeSpec, duplicateID, canonicalID string) (*models.MergeResult, error) {
	dup, err := e.participants(ctx, spec, duplicateID, canonicalID, e.store.GetEntity)
	if err != nil {
		return nil, err
	}

	result := newResult(spec.Kind, duplicateID, canonicalID)
	result.DryRun = true

	var total int64
	for _, rel := range spec.Relations {
		n, err := e.store.CountReferences(ctx, rel, duplicateID)
		if err != nil {
			return nil, err
		}
		result.Reassigned[rel.Name()] = n
		total += n
	}
	result.AlreadyMerged = !dup.IsActive && total == 0
	return result, nil
}

// merge runs inside the caller's transaction; nested merges of colliding rows reuse it.
func (e *Engine) merge(ctx context.Context, spec models.MergeSpec, duplicateID, canonicalID string) (*models.MergeResult, error) {
	dup, err := e.participants(ctx, spec, duplicateID, canonicalID, e.store.LockEntity)
	if err != nil {
		return nil, err
	}

	result := newResult(spec.Kind, duplicateID, canonicalID)

	if !dup.IsActive {
		var total int64
		for _, rel := range spec.Relations {
			n, err := e.store.CountReferences(ctx, rel, duplicateID)
			if err != nil {
				return nil, err
			}
			total += n
		}
		if total == 0 {
			result.AlreadyMerged = true
			return result, nil
		}
	}

	for _, rel := range spec.Relations {
		if err := e.moveRelation(ctx, rel, duplicateID, canonicalID, result); err != nil {
			return nil, err
		}
	}

	if err := e.store.UnionArrays(ctx, spec, duplicateID, canonicalID); err != nil {
		return nil, err
	}
	if err := e.foldAttributes(ctx, spec, duplicateID, canonicalID); err != nil {
		return nil, err
	}
	if err := e.store.Deactivate(ctx, spec, duplicateID, canonicalID); err != nil {
		return nil, err
	}
	return result, nil
}

// moveRelation repoints one relation and checks that every counted row was either moved or dropped.
func (e *Engine) moveRelation(ctx context.Context, rel models.Relation, duplicateID, canonicalID string, result *models.MergeResult) error {
	count, err := e.store.CountReferences(ctx, rel, duplicateID)
	if err != nil {
		return err
	}
	if count == 0 {
		result.Reassigned[rel.Name()] = 0
		return nil
	}

	if rel.OnConflict == models.ConflictMerge {
		nestedSpec, err := e.registry.Spec(rel.MergeKind)
		if err != nil {
			return err
		}
		collisions, err := e.store.FindCollisions(ctx, rel, duplicateID, canonicalID)
		if err != nil {
			return err
		}
		for _, c := range collisions {
			nested, err := e.merge(ctx, nestedSpec, c.RowID, c.TwinID)
			if err != nil {
				return fmt.Errorf("failed to collapse %s %s into %s: %w", rel.MergeKind, c.RowID, c.TwinID, err)
			}
			result.Collapsed = append(result.Collapsed, *nested)
		}
	}

	dropped, err := e.store.DropConflicts(ctx, rel, duplicateID, canonicalID)
	if err != nil {
		return err
	}
	moved, err := e.store.Reassign(ctx, rel, duplicateID, canonicalID)
	if err != nil {
		return err
	}

	if moved+dropped != count {
		return fmt.Errorf("%w: %s counted %d rows, moved %d and dropped %d", ErrMergeIntegrity, rel.Name(), count, moved, dropped)
	}

	result.Reassigned[rel.Name()] = moved
	if dropped > 0 {
		result.Dropped[rel.Name()] = dropped
	}
	return nil
}

func (e *Engine) foldAttributes(ctx context.Context, spec models.MergeSpec, duplicateID, canonicalID string) error {
	if spec.AttributesField == "" {
		return nil
	}

	dupAttrs, err := e.store.GetAttributes(ctx, spec, duplicateID)
	if err != nil {
		return err
	}
	if len(dupAttrs) == 0 {
		return nil
	}
	canonAttrs, err := e.store.GetAttributes(ctx, spec, canonicalID)
	if err != nil {
		return err
	}

	merged, conflicts := mergeAttributes(canonAttrs, dupAttrs)
	if len(conflicts) > 0 {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"duplicate_id": duplicateID,
			"canonical_id": canonicalID,
			"conflicts":    conflicts,
		}).Debug("Kept canonical attribute values")
	}
	return e.store.SetAttributes(ctx, spec, canonicalID, merged)
}

// participants loads both sides of a merge, in id order so that concurrent merges lock consistently,
// and returns the duplicate once the canonical is known to be active.
func (e *Engine) participants(
	ctx context.Context,
	spec models.MergeSpec,
	duplicateID, canonicalID string,
	load func(ctx context.Context, spec models.MergeSpec, id string) (*models.MergeEntity, error),
) (*models.MergeEntity, error) {
	first, second := duplicateID, canonicalID
	if second < first {
		first, second = second, first
	}
	a, err := load(ctx, spec, first)
	if err != nil {
		return nil, err
	}
	b, err := load(ctx, spec, second)
	if err != nil {
		return nil, err
	}
	dup, canon := a, b
	if first != duplicateID {
		dup, canon = b, a
	}

	if dup == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, spec.Kind, duplicateID)
	}
	if canon == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, spec.Kind, canonicalID)
	}
	if !canon.IsActive {
		return nil, fmt.Errorf("%w: %s %s", ErrCanonicalInactive, spec.Kind, canonicalID)
	}
	return dup, nil
}

// publish runs the post-commit side effects. Failures are logged only.
func (e *Engine) publish(ctx context.Context, result *models.MergeResult) {
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":         result.Kind,
		"duplicate_id": result.DuplicateID,
		"canonical_id": result.CanonicalID,
	})
	if e.emitter != nil {
		if err := e.emitter.EmitMerged(ctx, result); err != nil {
			log.WithError(err).Warn("Failed to emit record.merged")
		}
	}
	if e.graph != nil {
		if err := e.graph.RecordMerge(ctx, result); err != nil {
			log.WithError(err).Warn("Failed to project merge into graph")
		}
	}
}

func newResult(kind models.Kind, duplicateID, canonicalID string) *models.MergeResult {
	return &models.MergeResult{
		Kind:        kind,
		DuplicateID: duplicateID,
		CanonicalID: canonicalID,
		Reassigned:  make(map[string]int64),
		Dropped:     make(map[string]int64),
	}
}
