package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"osintgraph/backend/internal/correlation"
	"osintgraph/backend/internal/state"
	"osintgraph/backend/pkg/config"
	"osintgraph/backend/pkg/logger"
)

// Backend is a store the engine persists to, can hydrate from in full and
// that keeps the provenance log.
type Backend interface {
	correlation.Store
	correlation.Lister
	LoadProvenance(ctx context.Context, entityID string) ([]state.ProvenanceEntry, error)
	Close() error
}

var (
	_ Backend = (*MemoryStore)(nil)
	_ Backend = (*SQLiteStore)(nil)
	_ Backend = (*Repository)(nil)
)

// Open builds the store selected by cfg.StoreDriver. A Neo4j store has its
// connectivity verified and its schema ensured before it is returned.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	log := logger.Named("graph")

	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Info("Using in-memory store")
		return NewMemoryStore(), nil

	case config.StoreSQLite:
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("Using SQLite store", zap.String("path", cfg.SQLitePath))
		return store, nil

	case config.StoreNeo4j:
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			driver.Close(ctx)
			return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
		}
		repo := NewRepository(driver, cfg.Neo4jDatabase)
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		log.Info("Using Neo4j store", zap.String("uri", cfg.Neo4jURI))
		return repo, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
