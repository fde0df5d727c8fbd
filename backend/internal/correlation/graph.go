package correlation

import (
	"fmt"
	"sort"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

// graphState is the in-memory arena: entities keyed by id, edges keyed by
// canonical pair, and the indexes derived from them. A committed graphState
// is never mutated; ingest works on a clone and swaps it in.
type graphState struct {
	entities  map[string]*state.Entity
	edges     map[state.PairKey]*state.Relationship
	adjacency map[string]map[state.PairKey]struct{}
	// index maps a normalized value to the canonical entities holding it, in
	// attachment order
	index map[observation.Key][]string
	// profiles maps source+profile url to the entity that profile fed
	profiles   map[string]string
	provenance []state.ProvenanceEntry
	sequence   int64
}

func newGraphState() *graphState {
	return &graphState{
		entities:  make(map[string]*state.Entity),
		edges:     make(map[state.PairKey]*state.Relationship),
		adjacency: make(map[string]map[state.PairKey]struct{}),
		index:     make(map[observation.Key][]string),
		profiles:  make(map[string]string),
	}
}

func (g *graphState) clone() *graphState {
	c := &graphState{
		entities:  make(map[string]*state.Entity, len(g.entities)),
		edges:     make(map[state.PairKey]*state.Relationship, len(g.edges)),
		adjacency: make(map[string]map[state.PairKey]struct{}, len(g.adjacency)),
		index:     make(map[observation.Key][]string, len(g.index)),
		profiles:  make(map[string]string, len(g.profiles)),
		// capped so appends in the clone never write into the original
		provenance: g.provenance[:len(g.provenance):len(g.provenance)],
		sequence:   g.sequence,
	}
	for id, e := range g.entities {
		c.entities[id] = e.Clone()
	}
	for k, r := range g.edges {
		c.edges[k] = r.Clone()
	}
	for id, pairs := range g.adjacency {
		set := make(map[state.PairKey]struct{}, len(pairs))
		for p := range pairs {
			set[p] = struct{}{}
		}
		c.adjacency[id] = set
	}
	for k, ids := range g.index {
		c.index[k] = append([]string(nil), ids...)
	}
	for k, v := range g.profiles {
		c.profiles[k] = v
	}
	return c
}

// resolve follows alias pointers to the canonical entity id
func (g *graphState) resolve(id string) string {
	for i := 0; i <= len(g.entities); i++ {
		e, ok := g.entities[id]
		if !ok || !e.IsAlias() {
			return id
		}
		id = e.AliasOf
	}
	return id
}

// canonicalIDs returns the sorted ids of non-alias entities
func (g *graphState) canonicalIDs() []string {
	ids := make([]string, 0, len(g.entities))
	for id, e := range g.entities {
		if !e.IsAlias() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (g *graphState) indexAdd(k observation.Key, id string) {
	for _, existing := range g.index[k] {
		if existing == id {
			return
		}
	}
	g.index[k] = append(g.index[k], id)
}

func (g *graphState) indexRemove(k observation.Key, id string) {
	ids := g.index[k]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(g.index, k)
		return
	}
	g.index[k] = ids
}

func (g *graphState) putEdge(r *state.Relationship) {
	p := r.Pair()
	g.edges[p] = r
	for _, id := range []string{p.A, p.B} {
		if g.adjacency[id] == nil {
			g.adjacency[id] = make(map[state.PairKey]struct{})
		}
		g.adjacency[id][p] = struct{}{}
	}
}

func (g *graphState) removeEdge(p state.PairKey) {
	delete(g.edges, p)
	for _, id := range []string{p.A, p.B} {
		delete(g.adjacency[id], p)
		if len(g.adjacency[id]) == 0 {
			delete(g.adjacency, id)
		}
	}
}

// neighbours returns the edges of id sorted by the opposite endpoint
func (g *graphState) neighbours(id string) []*state.Relationship {
	pairs := g.adjacency[id]
	out := make([]*state.Relationship, 0, len(pairs))
	for p := range pairs {
		if r, ok := g.edges[p]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair().Other(id) < out[j].Pair().Other(id)
	})
	return out
}

// add inserts an entity loaded from a store and indexes it
func (g *graphState) add(e *state.Entity) {
	g.entities[e.ID] = e
	if e.IsAlias() {
		return
	}
	for _, a := range e.Attributes {
		g.indexAdd(a.Key(), e.ID)
		if anchor := profileAnchor(a); anchor != "" {
			g.profiles[anchor] = e.ID
		}
	}
}

// checkConsistency verifies the graph invariants. A violation means a bug in
// the engine, so it is reported rather than repaired.
func (g *graphState) checkConsistency() error {
	seenIDs := make(map[string]state.PairKey, len(g.edges))
	for p, r := range g.edges {
		if r.SourceEntityID >= r.TargetEntityID {
			return apperrors.NewGraphConsistencyError(r.SourceEntityID, r.TargetEntityID, "relationship endpoints not in canonical order")
		}
		if r.Pair() != p {
			return apperrors.NewGraphConsistencyError(p.A, p.B, "relationship stored under the wrong pair")
		}
		if prev, dup := seenIDs[r.ID]; dup {
			return apperrors.NewGraphConsistencyError(p.A, p.B, fmt.Sprintf("duplicate relationship id %s (also %s-%s)", r.ID, prev.A, prev.B))
		}
		seenIDs[r.ID] = p
		for _, id := range []string{p.A, p.B} {
			if _, ok := g.entities[id]; !ok {
				return apperrors.NewGraphConsistencyError(id, p.Other(id), "relationship references a missing entity")
			}
			if _, ok := g.adjacency[id][p]; !ok {
				return apperrors.NewGraphConsistencyError(id, p.Other(id), "relationship missing from adjacency")
			}
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return apperrors.NewGraphConsistencyError(p.A, p.B, fmt.Sprintf("confidence %g outside [0,1]", r.Confidence))
		}
	}
	for id, pairs := range g.adjacency {
		for p := range pairs {
			if _, ok := g.edges[p]; !ok {
				return apperrors.NewGraphConsistencyError(id, p.Other(id), "adjacency references a missing relationship")
			}
		}
	}
	for id, e := range g.entities {
		if err := e.Validate(); err != nil {
			return apperrors.NewGraphConsistencyError(id, "", err.Error())
		}
		if e.IsAlias() {
			target, ok := g.entities[e.AliasOf]
			if !ok {
				return apperrors.NewGraphConsistencyError(id, e.AliasOf, "alias points at a missing entity")
			}
			if target.IsAlias() {
				return apperrors.NewGraphConsistencyError(id, e.AliasOf, "alias points at another alias")
			}
		}
	}
	for k, ids := range g.index {
		for _, id := range ids {
			e, ok := g.entities[id]
			if !ok || e.IsAlias() || !e.HasKey(k) {
				return apperrors.NewGraphConsistencyError(id, "", "index entry "+k.String()+" is stale")
			}
		}
	}
	return nil
}

// profileAnchor ties together the records one collector pulled from a single
// profile page.
func profileAnchor(r observation.AttributeRecord) string {
	url := r.Meta(constants.MetaURL)
	if url == "" {
		return ""
	}
	return r.Source + "|" + url
}
