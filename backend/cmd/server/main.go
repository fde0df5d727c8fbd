package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"osintgraph/backend/internal/api"
	"osintgraph/backend/internal/collector"
	"osintgraph/backend/internal/correlation"
	"osintgraph/backend/internal/graph"
	"osintgraph/backend/internal/queue"
	"osintgraph/backend/pkg/config"
	"osintgraph/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...", zap.String("store", cfg.StoreDriver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := newServices(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize", zap.Error(err))
	}
	defer svc.store.Close()

	if cfg.AMQPURL != "" {
		go runConsumer(ctx, cfg, svc.engine, log)
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: svc.server.Router(),
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	<-ctx.Done()

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

type services struct {
	store  graph.Backend
	engine *correlation.Engine
	server *api.Server
}

// newServices opens the store, rebuilds the graph from it and wires the API
func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	store, err := graph.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	engine, err := correlation.New(cfg.EngineConfig(), correlation.WithStore(store))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create correlation engine: %w", err)
	}
	if err := engine.Hydrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to hydrate graph: %w", err)
	}

	server := api.NewServer(engine,
		api.WithFetcher(collector.NewFetcher(nil, cfg.FetchRateLimit, 1)),
		api.WithProvenanceStore(store),
		api.WithRateLimiter(api.NewRateLimiter(cfg.IngestRateLimit, cfg.IngestRateBurst)),
	)
	return &services{store: store, engine: engine, server: server}, nil
}

// runConsumer feeds queued observation batches into the engine until ctx ends
func runConsumer(ctx context.Context, cfg *config.Config, engine *correlation.Engine, log *zap.Logger) {
	conn, err := queue.Dial(cfg.AMQPURL)
	if err != nil {
		log.Error("Queue consumer disabled", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Error("Failed to open channel", zap.Error(err))
		return
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, cfg.IngestQueue, 0); err != nil {
		log.Error("Failed to declare queues", zap.Error(err))
		return
	}

	if err := queue.NewConsumer(ch, cfg.IngestQueue, engine).Run(ctx); err != nil {
		log.Error("Queue consumer stopped", zap.Error(err))
		if ctx.Err() == nil {
			os.Exit(1)
		}
	}
}
