// Package api exposes the correlation engine over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"osintgraph/backend/internal/collector"
	"osintgraph/backend/internal/correlation"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/state"
	"osintgraph/backend/pkg/logger"
)

// Engine is the part of the correlation engine the API serves
type Engine interface {
	Ingest(ctx context.Context, observations []observation.RawObservation) (*state.IngestResult, error)
	Entity(id string) (*state.Entity, error)
	Resolve(id string) (string, error)
	EntityGraph(ctx context.Context, id string, depth int) (*state.EntityGraph, error)
	Provenance(id string) ([]state.ProvenanceEntry, error)
	Clusters(ctx context.Context, minConfidence float64) ([]state.Cluster, error)
	Config() correlation.Config
}

// ProfileFetcher downloads and parses a public profile page
type ProfileFetcher interface {
	Fetch(ctx context.Context, platform, profileURL string) (*collector.Profile, error)
}

// ProvenanceLoader reads the persisted audit log
type ProvenanceLoader interface {
	LoadProvenance(ctx context.Context, entityID string) ([]state.ProvenanceEntry, error)
}

var _ Engine = (*correlation.Engine)(nil)
var _ ProfileFetcher = (*collector.Fetcher)(nil)

// Server holds the handler dependencies
type Server struct {
	engine  Engine
	fetcher ProfileFetcher
	history ProvenanceLoader
	limiter *RateLimiter
	log     *zap.Logger
}

// Option configures a Server
type Option func(*Server)

// WithFetcher enables POST /api/collect
func WithFetcher(f ProfileFetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithProvenanceStore serves provenance from the store, which outlives
// restarts, instead of the engine's in-process log
func WithProvenanceStore(p ProvenanceLoader) Option {
	return func(s *Server) { s.history = p }
}

// WithRateLimiter throttles the write endpoints
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer creates the API server around an engine
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		log:    logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		writes := api.Group("")
		if s.limiter != nil {
			writes.Use(s.limiter.Middleware())
		}
		writes.POST("/ingest", s.ingest)
		writes.POST("/collect", s.collect)

		api.GET("/entities/:id", s.entity)
		api.GET("/entities/:id/graph", s.entityGraph)
		api.GET("/entities/:id/provenance", s.provenance)
		api.GET("/clusters", s.clusters)
	}

	return router
}
