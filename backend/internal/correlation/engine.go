// Package correlation fuses normalized observations into an identity graph.
//
// The Engine owns every entity and relationship mutation. Matching and
// scoring run in parallel over candidate pairs against a read-only snapshot;
// the resulting upserts, merges and provenance entries are applied by a
// single writer and committed atomically per batch.
package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/scoring"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
	"osintgraph/backend/pkg/logger"
)

// Engine is the entity correlation engine
type Engine struct {
	cfg        Config
	normalizer *observation.Normalizer
	matchers   *matcher.Set
	scorer     *scoring.Scorer
	classifier Classifier
	store      Store
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	// writeMu serialises batches; mu guards the graph pointer swap
	writeMu sync.Mutex
	mu      sync.RWMutex
	graph   *graphState
}

// New validates the configuration and builds an engine. Weight and
// threshold problems surface here, before any batch is processed.
func New(cfg Config, opts ...Option) (*Engine, error) {
	scorer, err := scoring.NewScorer(cfg.Weights)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateThresholds(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	cfg.Weights = scorer.Weights()

	e := &Engine{
		cfg:        cfg,
		normalizer: observation.NewNormalizer(cfg.Normalizer),
		matchers:   matcher.DefaultSet(cfg.Matchers),
		scorer:     scorer,
		classifier: NewClassifier(cfg),
		logger:     logger.Named("correlation"),
		now:        time.Now,
		newID:      newEntityID,
		graph:      newGraphState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration (weights normalized)
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) snapshot() *graphState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph
}

// Entity returns a copy of the entity exactly as stored, alias or not
func (e *Engine) Entity(id string) (*state.Entity, error) {
	g := e.snapshot()
	ent, ok := g.entities[id]
	if !ok {
		return nil, apperrors.NewEntityNotFound(id)
	}
	return ent.Clone(), nil
}

// Resolve follows alias pointers to the canonical entity id
func (e *Engine) Resolve(id string) (string, error) {
	g := e.snapshot()
	if _, ok := g.entities[id]; !ok {
		return "", apperrors.NewEntityNotFound(id)
	}
	return g.resolve(id), nil
}

// Relationship returns the edge stored between two entity ids, if any
func (e *Engine) Relationship(x, y string) (*state.Relationship, bool) {
	g := e.snapshot()
	r, ok := g.edges[state.NewPairKey(x, y)]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Relationships returns every edge ordered by canonical pair
func (e *Engine) Relationships() []*state.Relationship {
	g := e.snapshot()
	out := make([]*state.Relationship, 0, len(g.edges))
	for _, r := range g.edges {
		out = append(out, r.Clone())
	}
	sortRelationships(out)
	return out
}

// Entities returns every canonical entity ordered by id
func (e *Engine) Entities() []*state.Entity {
	g := e.snapshot()
	ids := g.canonicalIDs()
	out := make([]*state.Entity, len(ids))
	for i, id := range ids {
		out[i] = g.entities[id].Clone()
	}
	return out
}

// Provenance returns the audit trail of an entity and everything merged
// into it, oldest first.
func (e *Engine) Provenance(id string) ([]state.ProvenanceEntry, error) {
	g := e.snapshot()
	ent, ok := g.entities[id]
	if !ok {
		return nil, apperrors.NewEntityNotFound(id)
	}
	ids := map[string]struct{}{id: {}}
	for _, alias := range ent.Aliases {
		ids[alias] = struct{}{}
	}

	var out []state.ProvenanceEntry
	for _, p := range g.provenance {
		_, own := ids[p.EntityID]
		_, related := ids[p.RelatedID]
		if own || related {
			out = append(out, p)
		}
	}
	return out, nil
}

// Hydrate loads the given entities, their relationships and the entities on
// the far side of those relationships from the store. With no ids and a
// store implementing Lister, the whole store is loaded.
func (e *Engine) Hydrate(ctx context.Context, ids ...string) error {
	if e.store == nil {
		return nil
	}
	if len(ids) == 0 {
		lister, ok := e.store.(Lister)
		if !ok {
			return nil
		}
		all, err := lister.ListEntityIDs(ctx)
		if err != nil {
			return apperrors.NewStorageError("list entities", err)
		}
		ids = all
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	work := e.snapshot().clone()
	queue := append([]string(nil), ids...)
	seen := make(map[string]struct{})
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return apperrors.NewContextCancelled("hydrate", err)
		}
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		ent, err := e.store.LoadEntity(ctx, id)
		if err != nil {
			return apperrors.NewStorageError("load entity "+id, err)
		}
		work.add(ent)
		if ent.IsAlias() {
			queue = append(queue, ent.AliasOf)
		}
		queue = append(queue, ent.Aliases...)

		rels, err := e.store.LoadRelationships(ctx, id)
		if err != nil {
			return apperrors.NewStorageError("load relationships "+id, err)
		}
		for _, r := range rels {
			work.putEdge(r)
			queue = append(queue, r.Pair().Other(id))
		}
	}
	if err := work.checkConsistency(); err != nil {
		return err
	}

	e.mu.Lock()
	e.graph = work
	e.mu.Unlock()

	e.logger.Info("Graph hydrated from store",
		zap.Int("entities", len(work.entities)),
		zap.Int("relationships", len(work.edges)),
	)
	return nil
}

func sortRelationships(rels []*state.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].SourceEntityID != rels[j].SourceEntityID {
			return rels[i].SourceEntityID < rels[j].SourceEntityID
		}
		return rels[i].TargetEntityID < rels[j].TargetEntityID
	})
}
