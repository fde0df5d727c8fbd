package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"osintgraph/backend/internal/correlation"
	"osintgraph/backend/internal/graph"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/pkg/config"
	"osintgraph/backend/pkg/logger"
)

func main() {
	reset := flag.Bool("reset", false, "Delete every entity, attribute and provenance node first")
	seed := flag.Bool("seed", false, "Ingest a small sample batch after migrating")
	skipConfirm := flag.Bool("y", false, "Skip confirmation prompt")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Neo4j schema migration...")

	if *reset && !*skipConfirm {
		log.Warn("This will DELETE ALL correlation data from Neo4j!")
		fmt.Print("Are you sure you want to continue? (yes/no): ")
		var response string
		fmt.Scanln(&response)
		if response != "yes" && response != "y" {
			log.Info("Aborted.")
			os.Exit(0)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Neo4jURI == "" {
		log.Fatal("NEO4J_URI is required")
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	repo := graph.NewRepository(driver, cfg.Neo4jDatabase)
	defer repo.Close()

	if *reset {
		log.Info("Step 1: Deleting correlation data...")
		if err := repo.Reset(ctx); err != nil {
			log.Fatal("Failed to reset graph", zap.Error(err))
		}
	}

	log.Info("Step 2: Ensuring constraints and indexes...")
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}

	if *seed {
		log.Info("Step 3: Seeding sample observations...")
		if err := seedSample(ctx, cfg, repo); err != nil {
			log.Fatal("Failed to seed", zap.Error(err))
		}
	}

	log.Info("Migration complete")
}

// seedSample ingests one person seen across three platforms
func seedSample(ctx context.Context, cfg *config.Config, repo *graph.Repository) error {
	engine, err := correlation.New(cfg.EngineConfig(), correlation.WithStore(repo))
	if err != nil {
		return err
	}
	if err := engine.Hydrate(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	sample := []observation.RawObservation{
		{Platform: "github", Kind: observation.KindUsername, Value: "john_doe", DiscoveredAt: now,
			Metadata: map[string]string{"display_name": "John Doe", "location": "Berlin"}},
		{Platform: "github", Kind: observation.KindEmail, Value: "John.Doe+git@gmail.com", DiscoveredAt: now},
		{Platform: "twitter", Kind: observation.KindUsername, Value: "john.doe", DiscoveredAt: now,
			Metadata: map[string]string{"display_name": "John Doe", "bio": "security research, berlin"}},
		{Platform: "keybase", Kind: observation.KindEmail, Value: "johndoe@gmail.com", DiscoveredAt: now,
			Metadata: map[string]string{"verified": "true"}},
	}

	result, err := engine.Ingest(ctx, sample)
	if err != nil {
		return err
	}
	logger.Get().Info("Sample ingested",
		zap.Int("entities_created", result.EntitiesCreated),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int("entities_merged", result.EntitiesMerged),
	)
	return nil
}
