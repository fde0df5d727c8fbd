package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
	"osintgraph/backend/pkg/logger"
)

// SQLiteStore is a single-file store for deployments without Neo4j
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.Named("sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			confidence REAL NOT NULL,
			alias_of TEXT NOT NULL DEFAULT '',
			aliases JSON NOT NULL,
			attributes JSON NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entities_alias_of ON entities(alias_of);`,

		`CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			confidence REAL NOT NULL,
			evidence JSON NOT NULL,
			discovered_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(source_id) REFERENCES entities(id),
			FOREIGN KEY(target_id) REFERENCES entities(id),
			UNIQUE(source_id, target_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);`,

		`CREATE TABLE IF NOT EXISTS provenance (
			id TEXT PRIMARY KEY,
			sequence INTEGER NOT NULL,
			batch_id TEXT NOT NULL,
			at TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			related_id TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_entity ON provenance(entity_id);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) LoadEntity(ctx context.Context, id string) (*state.Entity, error) {
	var typ, aliasOf, aliases, attributes, createdAt, updatedAt string
	var confidence float64
	err := s.db.QueryRowContext(ctx, `
		SELECT type, confidence, alias_of, aliases, attributes, created_at, updated_at
		FROM entities WHERE id = ?
	`, id).Scan(&typ, &confidence, &aliasOf, &aliases, &attributes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewEntityNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}

	attrs, err := decodeAttributes(attributes)
	if err != nil {
		return nil, fmt.Errorf("entity %s has unreadable attributes: %w", id, err)
	}
	var aliasList []string
	if err := json.Unmarshal([]byte(aliases), &aliasList); err != nil {
		return nil, fmt.Errorf("entity %s has unreadable aliases: %w", id, err)
	}
	if len(aliasList) == 0 {
		aliasList = nil
	}
	return &state.Entity{
		ID:         id,
		Type:       state.EntityType(typ),
		Attributes: attrs,
		Confidence: confidence,
		AliasOf:    aliasOf,
		Aliases:    aliasList,
		CreatedAt:  parseTime(createdAt),
		UpdatedAt:  parseTime(updatedAt),
	}, nil
}

func (s *SQLiteStore) SaveEntity(ctx context.Context, entity *state.Entity) error {
	return s.SaveBatch(ctx, state.Batch{ID: "entity-" + entity.ID, Entities: []*state.Entity{entity}})
}

func (s *SQLiteStore) LoadRelationships(ctx context.Context, entityID string) ([]*state.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, confidence, evidence, discovered_at, updated_at
		FROM relationships
		WHERE source_id = ? OR target_id = ?
		ORDER BY id
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	rels := []*state.Relationship{}
	for rows.Next() {
		var r state.Relationship
		var typ, evidence, discovered, updated string
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &typ, &r.Confidence, &evidence, &discovered, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		if r.Evidence, err = decodeEvidence(evidence); err != nil {
			return nil, fmt.Errorf("relationship %s has unreadable evidence: %w", r.ID, err)
		}
		r.Type = state.RelationshipType(typ)
		r.DiscoveredAt = parseTime(discovered)
		r.UpdatedAt = parseTime(updated)
		rels = append(rels, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return rels, nil
}

func (s *SQLiteStore) SaveRelationship(ctx context.Context, rel *state.Relationship) error {
	return s.SaveBatch(ctx, state.Batch{ID: "relationship-" + rel.ID, Relationships: []*state.Relationship{rel}})
}

// SaveBatch writes the batch in one transaction
func (s *SQLiteStore) SaveBatch(ctx context.Context, batch state.Batch) error {
	if err := s.saveBatch(ctx, batch); err != nil {
		return apperrors.NewStorageError("save batch "+batch.ID, err)
	}
	s.logger.Debug("Batch written",
		zap.String("batch_id", batch.ID),
		zap.Int("entities", len(batch.Entities)),
		zap.Int("relationships", len(batch.Relationships)),
	)
	return nil
}

func (s *SQLiteStore) saveBatch(ctx context.Context, batch state.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range batch.RemovedRelationships {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete relationship %s: %w", id, err)
		}
	}

	for _, ent := range batch.Entities {
		attrs, err := encodeAttributes(ent.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode attributes of %s: %w", ent.ID, err)
		}
		aliases := ent.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		aliasJSON, err := json.Marshal(aliases)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (id, type, confidence, alias_of, aliases, attributes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				confidence = excluded.confidence,
				alias_of = excluded.alias_of,
				aliases = excluded.aliases,
				attributes = excluded.attributes,
				updated_at = excluded.updated_at
		`, ent.ID, string(ent.Type), ent.Confidence, ent.AliasOf, string(aliasJSON), attrs,
			formatTime(ent.CreatedAt), formatTime(ent.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to save entity %s: %w", ent.ID, err)
		}
	}

	for _, rel := range batch.Relationships {
		ev, err := encodeEvidence(rel.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence of %s: %w", rel.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO relationships (id, source_id, target_id, type, confidence, evidence, discovered_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				confidence = excluded.confidence,
				evidence = excluded.evidence,
				updated_at = excluded.updated_at
		`, rel.ID, rel.SourceEntityID, rel.TargetEntityID, string(rel.Type), rel.Confidence, ev,
			formatTime(rel.DiscoveredAt), formatTime(rel.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to save relationship %s: %w", rel.ID, err)
		}
	}

	for _, p := range batch.Provenance {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO provenance (id, sequence, batch_id, at, action, entity_id, related_id, actor, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.Sequence, p.BatchID, formatTime(p.At), string(p.Action), p.EntityID, p.RelatedID, p.Actor, p.Detail)
		if err != nil {
			return fmt.Errorf("failed to append provenance %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// ListEntityIDs returns every entity id in order
func (s *SQLiteStore) ListEntityIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadProvenance returns the stored audit trail of an entity in sequence order
func (s *SQLiteStore) LoadProvenance(ctx context.Context, entityID string) ([]state.ProvenanceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, batch_id, at, action, entity_id, related_id, actor, detail
		FROM provenance
		WHERE entity_id = ? OR related_id = ?
		ORDER BY sequence
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance: %w", err)
	}
	defer rows.Close()

	var out []state.ProvenanceEntry
	for rows.Next() {
		var p state.ProvenanceEntry
		var at, action string
		if err := rows.Scan(&p.ID, &p.Sequence, &p.BatchID, &at, &action, &p.EntityID, &p.RelatedID, &p.Actor, &p.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan provenance: %w", err)
		}
		p.At = parseTime(at)
		p.Action = state.ProvenanceAction(action)
		out = append(out, p)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
