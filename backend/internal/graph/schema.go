package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// SchemaStatements are the constraints and indexes the repository relies on.
// All of them are idempotent.
var SchemaStatements = []string{
	"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
	"CREATE CONSTRAINT attribute_key IF NOT EXISTS FOR (a:Attribute) REQUIRE a.key IS UNIQUE",
	"CREATE CONSTRAINT provenance_id IF NOT EXISTS FOR (p:Provenance) REQUIRE p.id IS UNIQUE",
	"CREATE INDEX entity_alias_of IF NOT EXISTS FOR (e:Entity) ON (e.alias_of)",
	"CREATE INDEX attribute_kind IF NOT EXISTS FOR (a:Attribute) ON (a.kind)",
	"CREATE INDEX provenance_entity IF NOT EXISTS FOR (p:Provenance) ON (p.entity_id)",
	"CREATE INDEX correlates_id IF NOT EXISTS FOR ()-[r:CORRELATES]-() ON (r.id)",
	"CREATE INDEX correlates_type IF NOT EXISTS FOR ()-[r:CORRELATES]-() ON (r.type)",
}

// EnsureSchema creates missing constraints and indexes
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range SchemaStatements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}
	r.logger.Info("Schema ensured", zap.Int("statements", len(SchemaStatements)))
	return nil
}

// Reset removes every node the repository owns. Meant for development
// databases only.
func (r *Repository) Reset(ctx context.Context) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MATCH (n)
		WHERE n:Entity OR n:Attribute OR n:Provenance
		DETACH DELETE n
	`
	if _, err := session.Run(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to reset graph: %w", err)
	}
	r.logger.Warn("Graph reset")
	return nil
}
