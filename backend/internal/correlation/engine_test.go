package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	n := 0
	base := []Option{
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("ent-%04d", n)
		}),
		WithClock(func() time.Time { return testNow }),
		WithLogger(zap.NewNop()),
	}
	e, err := New(DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func obs(platform string, kind observation.Kind, value string, meta map[string]string) observation.RawObservation {
	return observation.RawObservation{
		Platform:     platform,
		Kind:         kind,
		Value:        value,
		DiscoveredAt: testNow,
		Metadata:     meta,
	}
}

type recordingStore struct {
	mu      sync.Mutex
	batches []state.Batch
	err     error
}

func (s *recordingStore) LoadEntity(ctx context.Context, id string) (*state.Entity, error) {
	return nil, apperrors.NewEntityNotFound(id)
}
func (s *recordingStore) SaveEntity(ctx context.Context, entity *state.Entity) error { return nil }
func (s *recordingStore) LoadRelationships(ctx context.Context, entityID string) ([]*state.Relationship, error) {
	return nil, nil
}
func (s *recordingStore) SaveRelationship(ctx context.Context, rel *state.Relationship) error {
	return nil
}
func (s *recordingStore) SaveBatch(ctx context.Context, batch state.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

type panickingMatcher struct{}

func (panickingMatcher) Name() string { return "broken" }
func (panickingMatcher) Match(a, b observation.AttributeRecord) *matcher.Signal {
	panic("boom")
}

func TestIngest_SeparatorVariationCreatesRelationship(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 1, result.RelationshipsCreated)
	assert.Equal(t, 0, result.ObservationsDropped)

	rels := e.Relationships()
	require.Len(t, rels, 1)
	rel := rels[0]
	assert.Contains(t, []state.RelationshipType{state.RelationshipRelated, state.RelationshipSamePerson}, rel.Type)
	assert.GreaterOrEqual(t, rel.Confidence, 0.5)
	assert.InDelta(t, 0.675, rel.Confidence, 1e-9)
	assert.Equal(t, "ent-0001", rel.SourceEntityID)
	assert.Equal(t, "ent-0002", rel.TargetEntityID)

	found := false
	for _, ev := range rel.Evidence {
		if ev.Matcher == "username" && strings.Contains(ev.Detail, "separator") {
			found = true
		}
	}
	assert.True(t, found, "expected a username signal with separator detail, got %+v", rel.Evidence)
}

func TestIngest_SameEmailFromTwoPlatforms(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindEmail, "a@x.com", nil),
		obs("gitlab", observation.KindEmail, "a@x.com", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesCreated)
	assert.Equal(t, 0, result.RelationshipsCreated)

	entities := e.Entities()
	require.Len(t, entities, 1)
	require.Len(t, entities[0].Attributes, 2)
	assert.NotEqual(t, entities[0].Attributes[0].Source, entities[0].Attributes[1].Source)
	assert.Empty(t, e.Relationships())
}

func TestIngest_SharedASNAloneIsDropped(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindIP, "203.0.113.5", map[string]string{"asn": "AS64500"}),
		obs("twitter", observation.KindIP, "198.51.100.7", map[string]string{"asn": "64500"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 0, result.RelationshipsCreated)
	assert.Empty(t, e.Relationships())
}

func TestIngest_SharedASNAloneIsDroppedForTrustedSources(t *testing.T) {
	verified := map[string]string{"asn": "AS13335", "verified": "true"}
	t.Run("verified", func(t *testing.T) {
		e := newTestEngine(t)
		result, err := e.Ingest(context.Background(), []observation.RawObservation{
			obs("github", observation.KindIP, "203.0.113.5", verified),
			obs("twitter", observation.KindIP, "198.51.100.7", verified),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.RelationshipsCreated)
		assert.Empty(t, e.Relationships())
	})

	t.Run("highly rated platforms", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SourceQuality.Platforms = map[string]float64{"github": 1, "twitter": 1}
		e, err := New(cfg, WithLogger(zap.NewNop()), WithClock(func() time.Time { return testNow }))
		require.NoError(t, err)

		_, err = e.Ingest(context.Background(), []observation.RawObservation{
			obs("github", observation.KindIP, "203.0.113.5", map[string]string{"asn": "AS13335"}),
			obs("twitter", observation.KindIP, "198.51.100.7", map[string]string{"asn": "AS13335"}),
		})
		require.NoError(t, err)
		assert.Empty(t, e.Relationships())
	})
}

func TestIngest_TemporalCorroborationKeepsMerge(t *testing.T) {
	batch := func(withCreation bool) []observation.RawObservation {
		gh := map[string]string{}
		tw := map[string]string{}
		if withCreation {
			gh["created_at"] = "2020-03-01T10:00:00Z"
			tw["created_at"] = "2020-03-01T12:00:00Z"
		}
		return []observation.RawObservation{
			obs("github", observation.KindEmail, "jane.roe+gh@gmail.com", gh),
			obs("twitter", observation.KindEmail, "jane.roe+tw@gmail.com", tw),
		}
	}

	plain := newTestEngine(t)
	_, err := plain.Ingest(context.Background(), batch(false))
	require.NoError(t, err)
	base, ok := plain.Relationship("ent-0001", "ent-0002")
	require.True(t, ok)

	corroborated := newTestEngine(t)
	result, err := corroborated.Ingest(context.Background(), batch(true))
	require.NoError(t, err)
	rel, ok := corroborated.Relationship("ent-0001", "ent-0002")
	require.True(t, ok)

	assert.GreaterOrEqual(t, rel.Confidence, base.Confidence)
	assert.Equal(t, state.RelationshipSamePerson, rel.Type)
	assert.Equal(t, 1, result.EntitiesMerged)

	var temporal bool
	for _, ev := range rel.Evidence {
		if ev.Matcher == "temporal" {
			temporal = true
		}
	}
	assert.True(t, temporal, "temporal evidence should still be recorded")
}

func TestIngest_ContradictingVerifiedIdentityIsSuspicious(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "alice123", map[string]string{"verified": "true", "real_name": "Alice Smith"}),
		obs("twitter", observation.KindUsername, "alice123", map[string]string{"real_name": "Robert Jones"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesCreated, "conflicting record must not be folded into the verified entity")

	rels := e.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, state.RelationshipSuspicious, rels[0].Type)

	var exact, conflict bool
	for _, ev := range rels[0].Evidence {
		if ev.Matcher == "username" && ev.Strength == 1.0 {
			exact = true
		}
		if ev.Conflict {
			conflict = true
		}
	}
	assert.True(t, exact)
	assert.True(t, conflict)

	// Suspicious entities never merge.
	assert.Len(t, e.Entities(), 2)
}

func TestIngest_ContradictingProfileMetadataOnSeparateRecord(t *testing.T) {
	e := newTestEngine(t)
	page := map[string]string{"url": "https://twitter.com/alice123"}

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "alice123", map[string]string{"verified": "true", "real_name": "Alice Smith"}),
		obs("twitter", observation.KindUsername, "alice123", page),
		obs("twitter", observation.KindMetadata, "Robert Jones", map[string]string{"url": page["url"], "real_name": "Robert Jones"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesCreated)

	// The twitter profile stays together, apart from the verified github entity.
	github, err := e.Entity("ent-0001")
	require.NoError(t, err)
	assert.Len(t, github.Attributes, 1)
	twitter, err := e.Entity("ent-0002")
	require.NoError(t, err)
	assert.Len(t, twitter.Attributes, 2)

	rel, ok := e.Relationship("ent-0001", "ent-0002")
	require.True(t, ok)
	assert.Equal(t, state.RelationshipSuspicious, rel.Type)
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	batch := []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
		obs("github", observation.KindEmail, "john@example.org", nil),
		obs("reddit", observation.KindUsername, "j0hn_d0e", nil),
	}

	_, err := e.Ingest(context.Background(), batch)
	require.NoError(t, err)
	entities, rels := e.Entities(), e.Relationships()

	result, err := e.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 0, result.EntitiesCreated)
	assert.Equal(t, 0, result.EntitiesUpdated)
	assert.Equal(t, 0, result.RelationshipsCreated)
	assert.Equal(t, 0, result.RelationshipsMerged)
	assert.Equal(t, entities, e.Entities())
	assert.Equal(t, rels, e.Relationships())
}

func TestIngest_DropsInvalidObservations(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "   ", nil),
		obs("github", observation.KindUsername, strings.Repeat("a", 101), nil),
		obs("github", observation.Kind("fax"), "12345", nil),
		obs("github", observation.KindUsername, "valid_user", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Observations)
	assert.Equal(t, 3, result.ObservationsDropped)
	assert.Len(t, result.Errors, 3)
	assert.Equal(t, 1, result.EntitiesCreated)
}

func TestIngestRecords_DropsIncompleteRecords(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.IngestRecords(context.Background(), []observation.AttributeRecord{
		{Kind: observation.KindUsername, Value: "x", NormalizedValue: "", Source: "github"},
		{Kind: observation.KindUsername, Value: "x", NormalizedValue: "x", Source: ""},
		{Kind: observation.KindUsername, Value: "bob", NormalizedValue: "bob", Source: "github"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ObservationsDropped)
	assert.Equal(t, 1, result.EntitiesCreated)
}

func TestIngest_MergesHighConfidenceSamePerson(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindEmail, "john.smith+news@gmail.com", map[string]string{"verified": "true"}),
		obs("twitter", observation.KindEmail, "john.smith@gmail.com", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 1, result.EntitiesMerged)

	survivor, err := e.Entity("ent-0001")
	require.NoError(t, err)
	alias, err := e.Entity("ent-0002")
	require.NoError(t, err)

	assert.False(t, survivor.IsAlias())
	assert.Equal(t, []string{"ent-0002"}, survivor.Aliases)
	assert.Len(t, survivor.Attributes, 2)
	assert.Equal(t, state.EntityPerson, survivor.Type)
	assert.Equal(t, "ent-0001", alias.AliasOf)

	resolved, err := e.Resolve("ent-0002")
	require.NoError(t, err)
	assert.Equal(t, "ent-0001", resolved)

	rel, ok := e.Relationship("ent-0001", "ent-0002")
	require.True(t, ok)
	assert.Equal(t, state.RelationshipSamePerson, rel.Type)
	assert.GreaterOrEqual(t, rel.Confidence, 0.9)

	require.Len(t, e.Entities(), 1)
	clusters, err := e.Clusters(context.Background(), 0.3)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"ent-0001"}, clusters[0].EntityIDs)

	// A later sighting of the alias' value lands on the survivor.
	result, err = e.Ingest(context.Background(), []observation.RawObservation{
		obs("mastodon", observation.KindEmail, "john.smith@gmail.com", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.EntitiesCreated)
	survivor, err = e.Entity("ent-0001")
	require.NoError(t, err)
	assert.Len(t, survivor.Attributes, 3)
}

func TestIngest_MergeMovesEdgesToSurvivor(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("reddit", observation.KindEmail, "jane.roe@gmail.com", nil),
		obs("reddit", observation.KindUsername, "janeroe_dev", map[string]string{"url": "https://reddit.com/u/janeroe_dev"}),
	})
	require.NoError(t, err)
	// ent-0001 holds the email, ent-0002 the username.

	_, err = e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "janeroe.dev", map[string]string{"url": "https://github.com/janeroe.dev"}),
		obs("github", observation.KindEmail, "jane.roe+gh@gmail.com", map[string]string{"verified": "true", "url": "https://github.com/janeroe.dev"}),
	})
	require.NoError(t, err)

	// The github profile (ent-0003) shares an exact canonical email with
	// ent-0001, so the two merge and the username edge follows.
	for _, r := range e.Relationships() {
		for _, id := range []string{r.SourceEntityID, r.TargetEntityID} {
			ent, err := e.Entity(id)
			require.NoError(t, err)
			if ent.IsAlias() {
				other := r.SourceEntityID
				if other == id {
					other = r.TargetEntityID
				}
				assert.Equal(t, ent.AliasOf, other, "only the survivor-alias edge may touch an alias")
			}
		}
	}
	resolved, err := e.Resolve("ent-0003")
	require.NoError(t, err)
	assert.Equal(t, "ent-0001", resolved)

	_, ok := e.Relationship("ent-0001", "ent-0002")
	assert.True(t, ok, "username edge should have moved to the survivor")
}

func TestIngest_ProfileAnchorGroupsRecords(t *testing.T) {
	e := newTestEngine(t)
	meta := map[string]string{"url": "https://example.social/@quietfox"}

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("example", observation.KindUsername, "quietfox", meta),
		obs("example", observation.KindDomain, "quietfox.dev", meta),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesCreated)
	require.Len(t, e.Entities(), 1)
	assert.Len(t, e.Entities()[0].Attributes, 2)
}

func TestIngest_MatcherPanicIsIsolated(t *testing.T) {
	e := newTestEngine(t, WithMatchers(matcher.NewSet(matcher.UsernameMatcher{}, panickingMatcher{})))

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MatcherErrors)
	assert.Equal(t, 1, result.RelationshipsCreated)
}

func TestIngest_CancelledContextCommitsNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Ingest(ctx, []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeContext))
	assert.Empty(t, e.Entities())
}

func TestIngest_StoreFailureCommitsNothing(t *testing.T) {
	store := &recordingStore{err: errors.New("connection refused")}
	e := newTestEngine(t, WithStore(store))

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeStorage))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 0, result.EntitiesCreated)
	assert.Empty(t, e.Entities())
	assert.Empty(t, e.Relationships())
}

func TestIngest_StoreReceivesBatch(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(t, WithStore(store))

	result, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
	})
	require.NoError(t, err)
	require.Len(t, store.batches, 1)

	b := store.batches[0]
	assert.Equal(t, result.BatchID, b.ID)
	assert.Len(t, b.Entities, 2)
	assert.Len(t, b.Relationships, 1)
	assert.NotEmpty(t, b.Provenance)

	// Nothing changed, nothing written.
	_, err = e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
	})
	require.NoError(t, err)
	assert.Len(t, store.batches, 1)
}

func TestClusters_DeterministicAcrossRuns(t *testing.T) {
	batch := []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
		obs("reddit", observation.KindUsername, "zeta_star", nil),
		obs("gitlab", observation.KindUsername, "zeta.star", nil),
		obs("keybase", observation.KindUsername, "lonely_wolf", nil),
	}

	run := func() []state.Cluster {
		e := newTestEngine(t)
		_, err := e.Ingest(context.Background(), batch)
		require.NoError(t, err)
		clusters, err := e.Clusters(context.Background(), 0.3)
		require.NoError(t, err)
		again, err := e.Clusters(context.Background(), 0.3)
		require.NoError(t, err)
		assert.Equal(t, clusters, again)
		return clusters
	}

	first, second := run(), run()
	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, []string{"ent-0001", "ent-0002"}, first[0].EntityIDs)
	assert.Equal(t, []string{"ent-0003", "ent-0004"}, first[1].EntityIDs)
	assert.Equal(t, []string{"ent-0005"}, first[2].EntityIDs)
	assert.Equal(t, 0, first[2].Edges)
}

func TestClusters_FloorSplitsComponents(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
	})
	require.NoError(t, err)

	clusters, err := e.Clusters(context.Background(), 0.9)
	require.NoError(t, err)
	assert.Len(t, clusters, 2)

	_, err = e.Clusters(context.Background(), 1.5)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeScoring))
}

func TestClusters_CancelledBetweenComponents(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Clusters(ctx, 0.3)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeContext))
}

func TestEntityGraph(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
		obs("reddit", observation.KindUsername, "john-doe", nil),
	})
	require.NoError(t, err)

	g, err := e.EntityGraph(context.Background(), "ent-0001", 1)
	require.NoError(t, err)
	assert.Equal(t, "ent-0001", g.RootID)
	assert.Len(t, g.Nodes, 3)
	assert.Len(t, g.Edges, 3)

	g, err = e.EntityGraph(context.Background(), "ent-0001", 0)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)

	g, err = e.EntityGraph(context.Background(), "ent-0001", 100)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Depth)

	_, err = e.EntityGraph(context.Background(), "missing", 1)
	var notFound *apperrors.ErrEntityNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestProvenance(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Ingest(context.Background(), []observation.RawObservation{
		obs("github", observation.KindUsername, "john_doe", nil),
		obs("twitter", observation.KindUsername, "john.doe", nil),
	})
	require.NoError(t, err)

	entries, err := e.Provenance("ent-0001")
	require.NoError(t, err)

	var actions []state.ProvenanceAction
	for i, p := range entries {
		actions = append(actions, p.Action)
		if i > 0 {
			assert.Greater(t, p.Sequence, entries[i-1].Sequence)
		}
	}
	assert.Equal(t, []state.ProvenanceAction{
		state.ActionEntityCreated,
		state.ActionAttributeAdded,
		state.ActionRelationshipCreated,
	}, actions)
	assert.Equal(t, "github", entries[0].Actor)
	assert.Equal(t, "username", entries[2].Actor)

	_, err = e.Provenance("missing")
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Weights.Temporal = -0.1 }},
		{"all weights zero", func(c *Config) {
			c.Weights.Attribute, c.Weights.SourceQuality, c.Weights.Temporal, c.Weights.Uniqueness = 0, 0, 0, 0
		}},
		{"threshold above one", func(c *Config) { c.MergeThreshold = 1.2 }},
		{"thresholds out of order", func(c *Config) { c.RelatedThreshold = 0.85 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeScoring))
		})
	}
}

func TestNew_NormalizesWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.Attribute, cfg.Weights.SourceQuality, cfg.Weights.Temporal, cfg.Weights.Uniqueness = 3, 2, 2, 3

	e, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, e.Config().Weights.Sum(), 1e-9)
	assert.InDelta(t, 0.3, e.Config().Weights.Attribute, 1e-9)
}

func TestCheckConsistency_DetectsDanglingRelationship(t *testing.T) {
	g := newGraphState()
	g.entities["a"] = state.NewEntity("a", testNow)
	g.putEdge(state.NewRelationship("a", "b", state.RelationshipRelated, 0.6, nil, testNow))

	err := g.checkConsistency()
	require.Error(t, err)
	var gce *apperrors.GraphConsistencyError
	assert.ErrorAs(t, err, &gce)
}

func TestCheckConsistency_DetectsStaleIndex(t *testing.T) {
	g := newGraphState()
	g.entities["a"] = state.NewEntity("a", testNow)
	g.indexAdd(observation.Key{Kind: observation.KindUsername, Value: "ghost"}, "a")

	assert.Error(t, g.checkConsistency())
}
