package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

const (
	defaultGraphDepth = 2
	// statusClientClosedRequest is the nginx convention for a caller that went away
	statusClientClosedRequest = 499
)

type ingestRequest struct {
	Observations []observation.RawObservation `json:"observations" binding:"required"`
}

type collectRequest struct {
	Platform string `json:"platform" binding:"required"`
	URL      string `json:"url" binding:"required"`
}

func (s *Server) ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Ingest(c.Request.Context(), req.Observations)
	if err != nil {
		s.respondError(c, "Failed to ingest observations", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) collect(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "profile collection is disabled"})
		return
	}

	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	profile, err := s.fetcher.Fetch(ctx, req.Platform, req.URL)
	if err != nil {
		s.log.Warn("Profile fetch failed", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Ingest(ctx, profile.Observations(time.Now().UTC()))
	if err != nil {
		s.respondError(c, "Failed to ingest profile", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile, "result": result})
}

func (s *Server) entity(c *gin.Context) {
	id := c.Param("id")

	ent, err := s.engine.Entity(id)
	if err != nil {
		s.respondError(c, "Failed to get entity", err)
		return
	}
	canonical, err := s.engine.Resolve(id)
	if err != nil {
		s.respondError(c, "Failed to resolve entity", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entity": ent, "canonical_id": canonical})
}

func (s *Server) entityGraph(c *gin.Context) {
	depth := defaultGraphDepth
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a non-negative integer"})
			return
		}
		depth = d
	}

	graph, err := s.engine.EntityGraph(c.Request.Context(), c.Param("id"), depth)
	if err != nil {
		s.respondError(c, "Failed to get entity graph", err)
		return
	}

	c.JSON(http.StatusOK, graph)
}

func (s *Server) provenance(c *gin.Context) {
	var (
		entries []state.ProvenanceEntry
		err     error
	)
	if s.history != nil {
		entries, err = s.storedProvenance(c.Request.Context(), c.Param("id"))
	} else {
		entries, err = s.engine.Provenance(c.Param("id"))
	}
	if err != nil {
		s.respondError(c, "Failed to get provenance", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entity_id": c.Param("id"), "provenance": entries})
}

func (s *Server) clusters(c *gin.Context) {
	minConfidence := s.engine.Config().MinConfidence
	if raw := c.Query("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_confidence must be a number"})
			return
		}
		minConfidence = v
	}

	clusters, err := s.engine.Clusters(c.Request.Context(), minConfidence)
	if err != nil {
		s.respondError(c, "Failed to compute clusters", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"min_confidence": minConfidence, "clusters": clusters})
}

// storedProvenance collects the log of an entity and its aliases
func (s *Server) storedProvenance(ctx context.Context, id string) ([]state.ProvenanceEntry, error) {
	ent, err := s.engine.Entity(id)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []state.ProvenanceEntry
	for _, eid := range append([]string{id}, ent.Aliases...) {
		entries, err := s.history.LoadProvenance(ctx, eid)
		if err != nil {
			return nil, apperrors.NewStorageError("load provenance", err)
		}
		for _, p := range entries {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// respondError maps engine errors onto HTTP statuses
func (s *Server) respondError(c *gin.Context, msg string, err error) {
	var notFound *apperrors.ErrEntityNotFound
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case apperrors.IsErrorType(err, apperrors.ErrorTypeScoring),
		apperrors.IsErrorType(err, apperrors.ErrorTypeNormalization):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), apperrors.IsErrorType(err, apperrors.ErrorTypeContext):
		status = statusClientClosedRequest
	case apperrors.IsErrorType(err, apperrors.ErrorTypeStorage):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.log.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
