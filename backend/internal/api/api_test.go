package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"osintgraph/backend/internal/collector"
	"osintgraph/backend/internal/correlation"
	"osintgraph/backend/internal/graph"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

func newTestEngine(t *testing.T, opts ...correlation.Option) *correlation.Engine {
	t.Helper()
	n := 0
	base := []correlation.Option{
		correlation.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("ent-%04d", n)
		}),
		correlation.WithLogger(zap.NewNop()),
	}
	e, err := correlation.New(correlation.DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func ingestBody(obs ...map[string]any) map[string]any {
	return map[string]any{"observations": obs}
}

func username(platform, value string) map[string]any {
	return map[string]any{
		"platform":      platform,
		"kind":          "username",
		"value":         value,
		"discovered_at": "2024-05-01T12:00:00Z",
	}
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewServer(newTestEngine(t)).Router()

	w := doJSON(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestIngestAndQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewServer(newTestEngine(t)).Router()

	w := doJSON(t, router, http.MethodPost, "/api/ingest", ingestBody(
		username("github", "john_doe"),
		username("github", ""),
	))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result state.IngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Observations)
	assert.Equal(t, 1, result.EntitiesCreated)
	assert.Equal(t, 1, result.ObservationsDropped)

	t.Run("entity", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/entities/ent-0001", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Entity      state.Entity `json:"entity"`
			CanonicalID string       `json:"canonical_id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ent-0001", resp.CanonicalID)
		require.Len(t, resp.Entity.Attributes, 1)
		assert.Equal(t, "john_doe", resp.Entity.Attributes[0].Value)
	})

	t.Run("unknown entity", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/entities/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("graph", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/entities/ent-0001/graph?depth=1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var g state.EntityGraph
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
		assert.Equal(t, "ent-0001", g.RootID)
		assert.Equal(t, 1, g.Depth)
		assert.Len(t, g.Nodes, 1)

		w = doJSON(t, router, http.MethodGet, "/api/entities/ent-0001/graph?depth=-1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("provenance", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/entities/ent-0001/provenance", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Provenance []state.ProvenanceEntry `json:"provenance"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Provenance)
		assert.Equal(t, state.ActionEntityCreated, resp.Provenance[0].Action)
	})

	t.Run("clusters", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/clusters", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			MinConfidence float64         `json:"min_confidence"`
			Clusters      []state.Cluster `json:"clusters"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 0.3, resp.MinConfidence)
		require.Len(t, resp.Clusters, 1)
		assert.Equal(t, []string{"ent-0001"}, resp.Clusters[0].EntityIDs)

		assert.Equal(t, http.StatusBadRequest, doJSON(t, router, http.MethodGet, "/api/clusters?min_confidence=1.5", nil).Code)
		assert.Equal(t, http.StatusBadRequest, doJSON(t, router, http.MethodGet, "/api/clusters?min_confidence=high", nil).Code)
	})
}

func TestIngest_InvalidRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewServer(newTestEngine(t)).Router()

	w := doJSON(t, router, http.MethodPost, "/api/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewServer(newTestEngine(t), WithRateLimiter(NewRateLimiter(0.001, 1))).Router()

	body := ingestBody(username("github", "alice"))
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/api/ingest", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, router, http.MethodPost, "/api/ingest", body).Code)

	// Reads are not throttled.
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodGet, "/api/clusters", nil).Code)
}

type stubFetcher struct {
	profile *collector.Profile
	err     error
}

func (f stubFetcher) Fetch(ctx context.Context, platform, profileURL string) (*collector.Profile, error) {
	return f.profile, f.err
}

func TestCollect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := map[string]any{"platform": "github", "url": "https://github.com/alice"}

	t.Run("disabled", func(t *testing.T) {
		router := NewServer(newTestEngine(t)).Router()
		assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, router, http.MethodPost, "/api/collect", req).Code)
	})

	t.Run("fetch failure", func(t *testing.T) {
		router := NewServer(newTestEngine(t), WithFetcher(stubFetcher{err: errors.New("HTTP 404")})).Router()
		assert.Equal(t, http.StatusBadGateway, doJSON(t, router, http.MethodPost, "/api/collect", req).Code)
	})

	t.Run("missing url", func(t *testing.T) {
		router := NewServer(newTestEngine(t), WithFetcher(stubFetcher{})).Router()
		w := doJSON(t, router, http.MethodPost, "/api/collect", map[string]any{"platform": "github"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("ingests profile", func(t *testing.T) {
		profile := &collector.Profile{
			Platform: "github",
			URL:      "https://github.com/alice",
			Username: "alice",
			Emails:   []string{"alice@example.com"},
		}
		router := NewServer(newTestEngine(t), WithFetcher(stubFetcher{profile: profile})).Router()

		w := doJSON(t, router, http.MethodPost, "/api/collect", req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Profile collector.Profile  `json:"profile"`
			Result  state.IngestResult `json:"result"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.Profile.Username)
		assert.Equal(t, 2, resp.Result.Observations)
		assert.Zero(t, resp.Result.ObservationsDropped)
	})
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(newTestEngine(t))

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", apperrors.NewEntityNotFound("x"), http.StatusNotFound},
		{"scoring", apperrors.NewScoringError("min_confidence", "out of range"), http.StatusBadRequest},
		{"deadline", apperrors.NewContextCancelled("clusters", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"cancelled", apperrors.NewContextCancelled("ingest", context.Canceled), statusClientClosedRequest},
		{"storage", apperrors.NewStorageError("save batch", errors.New("connection refused")), http.StatusServiceUnavailable},
		{"graph", apperrors.NewGraphConsistencyError("a", "b", "dangling edge"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("load: %w", apperrors.NewEntityNotFound("x")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			s.respondError(c, "failed", tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewServer(newTestEngine(t)).Router()

	w := doJSON(t, router, http.MethodOptions, "/api/ingest", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestProvenance_SurvivesRestart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := graph.NewMemoryStore()

	first := newTestEngine(t, correlation.WithStore(store))
	w := doJSON(t, NewServer(first).Router(), http.MethodPost, "/api/ingest", ingestBody(username("github", "john_doe")))
	require.Equal(t, http.StatusOK, w.Code)

	// A fresh engine hydrated from the store has no in-process log.
	second := newTestEngine(t, correlation.WithStore(store))
	require.NoError(t, second.Hydrate(ctx))
	own, err := second.Provenance("ent-0001")
	require.NoError(t, err)
	assert.Empty(t, own)

	router := NewServer(second, WithProvenanceStore(store)).Router()
	w = doJSON(t, router, http.MethodGet, "/api/entities/ent-0001/provenance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Provenance []state.ProvenanceEntry `json:"provenance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Provenance)
	assert.Equal(t, state.ActionEntityCreated, resp.Provenance[0].Action)

	w = doJSON(t, router, http.MethodGet, "/api/entities/ghost/provenance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
