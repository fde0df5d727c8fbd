package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
	"osintgraph/backend/pkg/logger"
)

// Repository persists the correlation graph in Neo4j.
//
//	(:Entity)-[:HAS_ATTRIBUTE]->(:Attribute {key, kind, value})
//	(:Entity)-[:CORRELATES {id, type, confidence, evidence}]->(:Entity)
//	(:Provenance {id, sequence, action, entity_id, ...})
//
// The full attribute records live as JSON on the Entity node; the Attribute
// nodes exist so shared values can be explored directly in Cypher.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Named("graph"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
}

const loadEntityQuery = `
	MATCH (e:Entity {id: $id})
	RETURN
		e.id as id,
		e.type as type,
		e.confidence as confidence,
		e.alias_of as alias_of,
		e.aliases as aliases,
		e.attributes as attributes,
		e.created_at as created_at,
		e.updated_at as updated_at
`

// LoadEntity reads one entity node
func (r *Repository) LoadEntity(ctx context.Context, id string) (*state.Entity, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, loadEntityQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch record: %w", err)
		}
		return nil, apperrors.NewEntityNotFound(id)
	}
	return entityFromRecord(result.Record())
}

func entityFromRecord(record *neo4j.Record) (*state.Entity, error) {
	id := getString(record, "id", "")
	attrs, err := decodeAttributes(getString(record, "attributes", ""))
	if err != nil {
		return nil, fmt.Errorf("entity %s has unreadable attributes: %w", id, err)
	}
	return &state.Entity{
		ID:         id,
		Type:       state.EntityType(getString(record, "type", string(state.EntityAccount))),
		Attributes: attrs,
		Confidence: getFloat64FromRecord(record, "confidence"),
		AliasOf:    getString(record, "alias_of", ""),
		Aliases:    getStringSlice(record, "aliases"),
		CreatedAt:  getTime(record, "created_at"),
		UpdatedAt:  getTime(record, "updated_at"),
	}, nil
}

// SaveEntity upserts a single entity
func (r *Repository) SaveEntity(ctx context.Context, entity *state.Entity) error {
	return r.SaveBatch(ctx, state.Batch{ID: "entity-" + entity.ID, Entities: []*state.Entity{entity}})
}

const loadRelationshipsQuery = `
	MATCH (s:Entity)-[r:CORRELATES]->(t:Entity)
	WHERE s.id = $id OR t.id = $id
	RETURN
		r.id as id,
		s.id as source_id,
		t.id as target_id,
		r.type as type,
		r.confidence as confidence,
		r.evidence as evidence,
		r.discovered_at as discovered_at,
		r.updated_at as updated_at
	ORDER BY r.id
`

// LoadRelationships returns every CORRELATES edge touching the entity
func (r *Repository) LoadRelationships(ctx context.Context, entityID string) ([]*state.Relationship, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, loadRelationshipsQuery, map[string]interface{}{"id": entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	rels := []*state.Relationship{}
	for result.Next(ctx) {
		record := result.Record()
		ev, err := decodeEvidence(getString(record, "evidence", ""))
		if err != nil {
			return nil, fmt.Errorf("relationship %s has unreadable evidence: %w", getString(record, "id", ""), err)
		}
		rels = append(rels, &state.Relationship{
			ID:             getString(record, "id", ""),
			SourceEntityID: getString(record, "source_id", ""),
			TargetEntityID: getString(record, "target_id", ""),
			Type:           state.RelationshipType(getString(record, "type", "")),
			Confidence:     getFloat64FromRecord(record, "confidence"),
			Evidence:       ev,
			DiscoveredAt:   getTime(record, "discovered_at"),
			UpdatedAt:      getTime(record, "updated_at"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch relationships: %w", err)
	}
	return rels, nil
}

// SaveRelationship upserts a single edge; both endpoints must exist
func (r *Repository) SaveRelationship(ctx context.Context, rel *state.Relationship) error {
	return r.SaveBatch(ctx, state.Batch{ID: "relationship-" + rel.ID, Relationships: []*state.Relationship{rel}})
}

const (
	upsertEntityQuery = `
		MERGE (e:Entity {id: $id})
		SET e.type = $type,
		    e.confidence = $confidence,
		    e.alias_of = $alias_of,
		    e.aliases = $aliases,
		    e.attributes = $attributes,
		    e.created_at = datetime($created_at),
		    e.updated_at = datetime($updated_at)
		WITH e
		OPTIONAL MATCH (e)-[old:HAS_ATTRIBUTE]->(:Attribute)
		DELETE old
		WITH DISTINCT e
		UNWIND $keys AS k
		MERGE (a:Attribute {key: k.key})
		ON CREATE SET a.kind = k.kind, a.value = k.value
		MERGE (e)-[:HAS_ATTRIBUTE]->(a)
	`

	upsertRelationshipQuery = `
		MATCH (s:Entity {id: $source_id}), (t:Entity {id: $target_id})
		MERGE (s)-[r:CORRELATES {id: $id}]->(t)
		SET r.type = $type,
		    r.confidence = $confidence,
		    r.evidence = $evidence,
		    r.discovered_at = datetime($discovered_at),
		    r.updated_at = datetime($updated_at)
		RETURN r.id as id
	`

	deleteRelationshipQuery = `
		MATCH ()-[r:CORRELATES {id: $id}]->()
		DELETE r
	`

	appendProvenanceQuery = `
		MERGE (p:Provenance {id: $id})
		ON CREATE SET p.sequence = $sequence,
		              p.batch_id = $batch_id,
		              p.at = datetime($at),
		              p.action = $action,
		              p.entity_id = $entity_id,
		              p.related_id = $related_id,
		              p.actor = $actor,
		              p.detail = $detail
	`
)

// SaveBatch writes a whole ingest batch in one managed write transaction,
// which the driver retries on transient errors. Removed edges go first so a
// merge never leaves an edge pointing at an alias.
func (r *Repository) SaveBatch(ctx context.Context, batch state.Batch) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, id := range batch.RemovedRelationships {
			if _, err := tx.Run(ctx, deleteRelationshipQuery, map[string]interface{}{"id": id}); err != nil {
				return nil, fmt.Errorf("failed to delete relationship %s: %w", id, err)
			}
		}
		for _, ent := range batch.Entities {
			params, err := entityParams(ent)
			if err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, upsertEntityQuery, params); err != nil {
				return nil, fmt.Errorf("failed to save entity %s: %w", ent.ID, err)
			}
		}
		for _, rel := range batch.Relationships {
			params, err := relationshipParams(rel)
			if err != nil {
				return nil, err
			}
			result, err := tx.Run(ctx, upsertRelationshipQuery, params)
			if err != nil {
				return nil, fmt.Errorf("failed to save relationship %s: %w", rel.ID, err)
			}
			if _, err := result.Single(ctx); err != nil {
				return nil, fmt.Errorf("relationship %s endpoints missing: %w", rel.ID, err)
			}
		}
		for _, p := range batch.Provenance {
			if _, err := tx.Run(ctx, appendProvenanceQuery, provenanceParams(p)); err != nil {
				return nil, fmt.Errorf("failed to append provenance %s: %w", p.ID, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return apperrors.NewStorageError("save batch "+batch.ID, err)
	}

	r.logger.Debug("Batch written",
		zap.String("batch_id", batch.ID),
		zap.Int("entities", len(batch.Entities)),
		zap.Int("relationships", len(batch.Relationships)),
		zap.Int("removed", len(batch.RemovedRelationships)),
	)
	return nil
}

// ListEntityIDs returns every entity id in order
func (r *Repository) ListEntityIDs(ctx context.Context) ([]string, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (e:Entity) RETURN e.id as id ORDER BY id`, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	var ids []string
	for result.Next(ctx) {
		ids = append(ids, getString(result.Record(), "id", ""))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return ids, nil
}

// LoadProvenance returns the stored audit trail of an entity in sequence order
func (r *Repository) LoadProvenance(ctx context.Context, entityID string) ([]state.ProvenanceEntry, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (p:Provenance)
		WHERE p.entity_id = $id OR p.related_id = $id
		RETURN p.id as id, p.sequence as sequence, p.batch_id as batch_id, p.at as at,
		       p.action as action, p.entity_id as entity_id, p.related_id as related_id,
		       p.actor as actor, p.detail as detail
		ORDER BY p.sequence
	`
	result, err := session.Run(ctx, query, map[string]interface{}{"id": entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	var out []state.ProvenanceEntry
	for result.Next(ctx) {
		record := result.Record()
		out = append(out, state.ProvenanceEntry{
			ID:        getString(record, "id", ""),
			Sequence:  getInt64FromRecord(record, "sequence"),
			BatchID:   getString(record, "batch_id", ""),
			At:        getTime(record, "at"),
			Action:    state.ProvenanceAction(getString(record, "action", "")),
			EntityID:  getString(record, "entity_id", ""),
			RelatedID: getString(record, "related_id", ""),
			Actor:     getString(record, "actor", ""),
			Detail:    getString(record, "detail", ""),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch provenance: %w", err)
	}
	return out, nil
}

func entityParams(ent *state.Entity) (map[string]interface{}, error) {
	attrs, err := encodeAttributes(ent.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes of %s: %w", ent.ID, err)
	}
	aliases := ent.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return map[string]interface{}{
		"id":         ent.ID,
		"type":       string(ent.Type),
		"confidence": ent.Confidence,
		"alias_of":   ent.AliasOf,
		"aliases":    aliases,
		"attributes": attrs,
		"created_at": formatTime(ent.CreatedAt),
		"updated_at": formatTime(ent.UpdatedAt),
		"keys":       attributeKeys(ent),
	}, nil
}

func relationshipParams(rel *state.Relationship) (map[string]interface{}, error) {
	ev, err := encodeEvidence(rel.Evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence of %s: %w", rel.ID, err)
	}
	return map[string]interface{}{
		"id":            rel.ID,
		"source_id":     rel.SourceEntityID,
		"target_id":     rel.TargetEntityID,
		"type":          string(rel.Type),
		"confidence":    rel.Confidence,
		"evidence":      ev,
		"discovered_at": formatTime(rel.DiscoveredAt),
		"updated_at":    formatTime(rel.UpdatedAt),
	}, nil
}

func provenanceParams(p state.ProvenanceEntry) map[string]interface{} {
	return map[string]interface{}{
		"id":         p.ID,
		"sequence":   p.Sequence,
		"batch_id":   p.BatchID,
		"at":         formatTime(p.At),
		"action":     string(p.Action),
		"entity_id":  p.EntityID,
		"related_id": p.RelatedID,
		"actor":      p.Actor,
		"detail":     p.Detail,
	}
}
