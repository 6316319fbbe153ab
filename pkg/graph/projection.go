package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var labels = map[models.Kind]string{
	models.KindRecord:     "Record",
	models.KindRecordType: "RecordType",
	models.KindCategory:   "Category",
}

// Projection mirrors records and merge decisions into the graph database. Nodes are keyed by id; a
// merged-away node keeps its MERGED_INTO edge to the canonical so merge chains stay queryable.
type Projection struct {
	client *Client
	logger ectologger.Logger
}

// NewProjection creates a new graph projection
func NewProjection(client *Client, logger ectologger.Logger) *Projection {
	return &Projection{
		client: client,
		logger: logger,
	}
}

func labelFor(kind models.Kind) (string, error) {
	label, ok := labels[kind]
	if !ok {
		return "", fmt.Errorf("no graph label for kind %q", kind)
	}
	return label, nil
}

// UpsertRecord creates or updates the node of a record and links it to its type and parent
func (p *Projection) UpsertRecord(ctx context.Context, rec *models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.UpsertRecord")
	defer span.End()

	props := map[string]any{
		"id":              rec.ID,
		"type_id":         rec.TypeID,
		"name":            rec.Name,
		"name_normalized": rec.NameNormalized,
		"country":         rec.Country,
		"is_active":       rec.IsActive,
		"created_at":      rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	cypher := `
		MERGE (r:Record {id: $id})
		SET r += $props
		MERGE (t:RecordType {id: $type_id})
		MERGE (r)-[:OF_TYPE]->(t)
		WITH r
		OPTIONAL MATCH (parent:Record {id: $parent_id})
		FOREACH (_ IN CASE WHEN parent IS NULL THEN [] ELSE [1] END | MERGE (r)-[:PART_OF]->(parent))
	`
	params := map[string]any{
		"id":        rec.ID,
		"type_id":   rec.TypeID,
		"parent_id": "",
		"props":     props,
	}
	if rec.ParentID != nil {
		params["parent_id"] = *rec.ParentID
	}

	if err := p.write(ctx, cypher, params); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("record_id", rec.ID).Error("Failed to upsert record in graph")
		return fmt.Errorf("failed to upsert record in graph: %w", err)
	}
	return nil
}

// RecordMerge marks the duplicate inactive and adds a MERGED_INTO edge to the canonical, including the
// nested merges of a record type merge
func (p *Projection) RecordMerge(ctx context.Context, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.RecordMerge")
	defer span.End()

	if result.DryRun || result.AlreadyMerged {
		return nil
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, p.writeMerge(ctx, tx, result)
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":         result.Kind,
			"duplicate_id": result.DuplicateID,
			"canonical_id": result.CanonicalID,
		}).Error("Failed to project merge into graph")
		return fmt.Errorf("failed to project merge into graph: %w", err)
	}
	return nil
}

func (p *Projection) writeMerge(ctx context.Context, tx neo4j.ManagedTransaction, result *models.MergeResult) error {
	for i := range result.Collapsed {
		if err := p.writeMerge(ctx, tx, &result.Collapsed[i]); err != nil {
			return err
		}
	}

	label, err := labelFor(result.Kind)
	if err != nil {
		return err
	}

	cypher := fmt.Sprintf(`
		MERGE (d:%[1]s {id: $duplicate_id})
		MERGE (c:%[1]s {id: $canonical_id})
		SET d.is_active = false
		MERGE (d)-[m:MERGED_INTO]->(c)
		SET m.reassigned = $reassigned, m.merged_at = datetime()
	`, label)

	res, err := tx.Run(ctx, cypher, map[string]any{
		"duplicate_id": result.DuplicateID,
		"canonical_id": result.CanonicalID,
		"reassigned":   result.TotalReassigned(),
	})
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// MergeChain follows MERGED_INTO edges from id and returns the ids on the way, ending at the node that
// was not merged away.
func (p *Projection) MergeChain(ctx context.Context, kind models.Kind, id string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.MergeChain")
	defer span.End()

	label, err := labelFor(kind)
	if err != nil {
		return nil, err
	}

	cypher := fmt.Sprintf(`
		MATCH path = (s:%[1]s {id: $id})-[:MERGED_INTO*0..]->(e:%[1]s)
		WHERE NOT (e)-[:MERGED_INTO]->()
		RETURN [n IN nodes(path) | n.id] AS ids
		LIMIT 1
	`, label)

	out, err := p.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return []string{}, res.Err()
		}
		raw, _ := res.Record().Get("ids")
		values, _ := raw.([]any)
		ids := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read merge chain: %w", err)
	}
	return out.([]string), nil
}

func (p *Projection) write(ctx context.Context, cypher string, params map[string]any) error {
	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}
